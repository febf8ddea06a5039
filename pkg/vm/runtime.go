package vm

import (
	"errors"

	"github.com/tliron/commonlog"

	"starling/pkg/atom"
)

// ErrOutOfMemory is the distinguished out-of-memory condition surfaced when
// any allocating path would exceed the runtime's memory limit. The
// triggering mutation aborts without side effects; the embedder converts
// this into a catchable language-level error.
var ErrOutOfMemory = errors.New("out of memory")

// GetterFunc and SetterFunc let the embedding interpreter run user-level
// accessors. Property access may re-enter the runtime from inside them; this
// is safe because shapes are immutable once shared.
type (
	GetterFunc func(getter Value, this Value) Value
	SetterFunc func(setter Value, this Value, v Value)
)

// CacheStats aggregates inline-cache behavior across a runtime.
type CacheStats struct {
	Hits            uint64
	Misses          uint64
	MonomorphicHits uint64
	PolymorphicHits uint64
}

// HitRate returns hits over total lookups, 0 with no activity.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Runtime owns the atom table, the shape intern tables, the memory budget
// and the cache statistics. One runtime is a single logical thread of
// execution: none of its structures are locked, and sharing an instance
// across goroutines without external serialization is out of contract.
// Independent runtimes are fully isolated and may run concurrently.
type Runtime struct {
	atoms      *atom.Table
	classes    map[ClassID]ClassDef
	shapeIndex map[uint64][]*Shape // interned shapes by content hash

	shapeIDSeq  uint64
	objIDSeq    uint64
	shapeCount  int
	objectCount int
	deoptCount  int

	memUsed  int64
	memLimit int64 // 0 = unlimited

	stats CacheStats

	getterFn GetterFunc
	setterFn SetterFunc

	log commonlog.Logger
}

// Option configures runtime behavior at construction.
type Option func(*Runtime)

// WithMemoryLimit caps the bytes the runtime will account before surfacing
// ErrOutOfMemory. Zero means unlimited.
func WithMemoryLimit(limit int64) Option {
	return func(rt *Runtime) { rt.memLimit = limit }
}

// WithAccessors installs the interpreter callbacks used to run user-level
// getters and setters.
func WithAccessors(get GetterFunc, set SetterFunc) Option {
	return func(rt *Runtime) {
		rt.getterFn = get
		rt.setterFn = set
	}
}

// New creates a runtime with the base classes registered.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		classes:    make(map[ClassID]ClassDef),
		shapeIndex: make(map[uint64][]*Shape),
		log:        commonlog.GetLogger("starling.vm"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.atoms = atom.NewTable(budgetFunc(rt.charge))
	registerBaseClasses(rt)
	rt.log.Debug("runtime created")
	return rt
}

// Atoms returns the runtime's atom table.
func (rt *Runtime) Atoms() *atom.Table { return rt.atoms }

// InternAtom interns s into the runtime's atom table.
func (rt *Runtime) InternAtom(s string) (atom.Atom, error) {
	return rt.atoms.Intern(s)
}

// Stats returns a snapshot of the inline-cache statistics.
func (rt *Runtime) Stats() CacheStats { return rt.stats }

// ShapeCount returns the number of live shapes.
func (rt *Runtime) ShapeCount() int { return rt.shapeCount }

// ObjectCount returns the number of objects created and not yet released to
// zero.
func (rt *Runtime) ObjectCount() int { return rt.objectCount }

// DeoptCount returns how many fast arrays have degraded to shaped storage.
func (rt *Runtime) DeoptCount() int { return rt.deoptCount }

// MemoryUsed returns the accounted byte usage.
func (rt *Runtime) MemoryUsed() int64 { return rt.memUsed }

// SetMemoryLimit adjusts the accounting cap. Lowering it below current usage
// makes every subsequent allocating operation fail until usage drops.
func (rt *Runtime) SetMemoryLimit(limit int64) { rt.memLimit = limit }

func (rt *Runtime) nextShapeID() uint64 {
	rt.shapeIDSeq++
	return rt.shapeIDSeq
}

func (rt *Runtime) nextObjectID() uint64 {
	rt.objIDSeq++
	return rt.objIDSeq
}

// charge accounts delta bytes against the limit. Positive deltas that would
// cross the limit fail with ErrOutOfMemory and leave usage unchanged.
func (rt *Runtime) charge(delta int64) error {
	if delta > 0 && rt.memLimit > 0 && rt.memUsed+delta > rt.memLimit {
		return ErrOutOfMemory
	}
	rt.memUsed += delta
	return nil
}

func (rt *Runtime) chargeBack(n int64) {
	rt.memUsed -= n
}

// budgetFunc adapts charge to the atom.Budget interface.
type budgetFunc func(delta int64) error

func (f budgetFunc) Charge(delta int64) error { return f(delta) }
