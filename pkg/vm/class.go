package vm

import "sync/atomic"

// ClassID discriminates which storage/behavior variant an object uses.
type ClassID uint32

// classIDSeq is the one process-global counter in this package. IDs must be
// stable across runtimes that exchange class definitions with an embedder,
// so allocation is atomic; everything else in a runtime is single-threaded.
var classIDSeq atomic.Uint32

// NewClassID allocates a fresh, process-unique class id.
func NewClassID() ClassID {
	return ClassID(classIDSeq.Add(1))
}

// Predefined classes registered by every runtime.
var (
	ClassObject    = NewClassID()
	ClassArray     = NewClassID()
	ClassArguments = NewClassID()
)

// ClassDef describes a registered class. FastArray classes start in dense
// storage mode.
type ClassDef struct {
	Name      string
	FastArray bool
}

// RegisterClass records a class definition with this runtime. Registering an
// id twice overwrites the previous definition.
func (rt *Runtime) RegisterClass(id ClassID, def ClassDef) {
	rt.classes[id] = def
	rt.log.Debugf("registered class %d (%s, fastArray=%v)", id, def.Name, def.FastArray)
}

// ClassName returns the registered name for id, "" if unknown.
func (rt *Runtime) ClassName(id ClassID) string {
	return rt.classes[id].Name
}

// CreateInitialShape returns the shared empty shape for the given prototype,
// retained for the caller. This is the compiler/embedder entry point; object
// construction goes through it implicitly.
func (rt *Runtime) CreateInitialShape(proto *Object) (*Shape, error) {
	return rt.initialShape(proto)
}

func registerBaseClasses(rt *Runtime) {
	rt.classes[ClassObject] = ClassDef{Name: "Object"}
	rt.classes[ClassArray] = ClassDef{Name: "Array", FastArray: true}
	rt.classes[ClassArguments] = ClassDef{Name: "Arguments", FastArray: true}
}
