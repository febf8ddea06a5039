// Package snapshot serializes the reachable object graph of a vm.Runtime into
// a deterministic CBOR document for offline inspection. It is read-only: a
// snapshot cannot be loaded back into a runtime.
package snapshot

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"starling/pkg/atom"
	"starling/pkg/vm"
)

// cborOpts returns CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Heap is the top-level snapshot document.
type Heap struct {
	Atoms   []AtomRecord   `cbor:"atoms"`
	Shapes  []ShapeRecord  `cbor:"shapes"`
	Objects []ObjectRecord `cbor:"objects"`
}

// AtomRecord describes one live interned atom.
type AtomRecord struct {
	Text     string `cbor:"text"`
	RefCount int    `cbor:"refs"`
}

// ShapeRecord describes one shape reachable from the snapshot roots.
type ShapeRecord struct {
	ID        uint64 `cbor:"id"`
	ProtoID   uint64 `cbor:"proto,omitempty"` // 0 when prototype is nil
	PropCount int    `cbor:"props"`
	RefCount  int    `cbor:"refs"`
}

// PropRecord describes one own property of an object.
type PropRecord struct {
	Key      string `cbor:"key"`
	Value    string `cbor:"value"`
	Flags    uint8  `cbor:"flags"`
	Accessor bool   `cbor:"accessor,omitempty"`
}

// ObjectRecord describes one object reachable from the snapshot roots.
type ObjectRecord struct {
	ID        uint64       `cbor:"id"`
	Class     string       `cbor:"class"`
	ShapeID   uint64       `cbor:"shape,omitempty"` // 0 for dense fast arrays
	ProtoID   uint64       `cbor:"proto,omitempty"`
	FastArray bool         `cbor:"fastArray,omitempty"`
	Elems     []string     `cbor:"elems,omitempty"`
	Props     []PropRecord `cbor:"props,omitempty"`
}

// Capture walks every object reachable from roots and returns the heap
// document. Atoms are reported for the whole runtime, not just the reachable
// slice, since the table is shared. The result is deterministic for a given
// runtime state: objects sort by identity, shapes by ID, atoms by text.
func Capture(rt *vm.Runtime, roots ...*vm.Object) (*Heap, error) {
	if rt == nil {
		return nil, errors.New("snapshot: nil runtime")
	}

	w := &walker{rt: rt, seen: make(map[uint64]*vm.Object)}
	for _, r := range roots {
		w.VisitObject(r)
	}
	seen := w.seen

	h := &Heap{}

	rt.Atoms().Each(func(_ atom.Atom, text string, refCount int) {
		h.Atoms = append(h.Atoms, AtomRecord{Text: text, RefCount: refCount})
	})
	sort.Slice(h.Atoms, func(i, j int) bool { return h.Atoms[i].Text < h.Atoms[j].Text })

	shapes := make(map[uint64]ShapeRecord)
	for _, o := range seen {
		rec, err := snapObject(rt, o)
		if err != nil {
			return nil, errors.Wrapf(err, "snapshot: object %d", o.ID())
		}
		h.Objects = append(h.Objects, rec)

		s := o.Shape()
		if s == nil {
			continue
		}
		if _, ok := shapes[s.ID()]; !ok {
			sr := ShapeRecord{ID: s.ID(), PropCount: s.PropCount(), RefCount: s.RefCount()}
			if p := s.Proto(); p != nil {
				sr.ProtoID = p.ID()
			}
			shapes[s.ID()] = sr
		}
	}
	for _, sr := range shapes {
		h.Shapes = append(h.Shapes, sr)
	}
	sort.Slice(h.Shapes, func(i, j int) bool { return h.Shapes[i].ID < h.Shapes[j].ID })
	sort.Slice(h.Objects, func(i, j int) bool { return h.Objects[i].ID < h.Objects[j].ID })

	return h, nil
}

// walker traces the reachable object set through the runtime's GC edges.
// The prototype edge lives on the shape, so shape visits recurse too.
type walker struct {
	rt   *vm.Runtime
	seen map[uint64]*vm.Object
}

func (w *walker) VisitObject(o *vm.Object) {
	if o == nil {
		return
	}
	if _, ok := w.seen[o.ID()]; ok {
		return
	}
	w.seen[o.ID()] = o
	w.rt.MarkChildren(o, w)
}

func (w *walker) VisitShape(s *vm.Shape) {
	if s != nil {
		w.rt.MarkShapeChildren(s, w)
	}
}

func (w *walker) VisitAtom(atom.Atom) {}

func snapObject(rt *vm.Runtime, o *vm.Object) (ObjectRecord, error) {
	rec := ObjectRecord{
		ID:    o.ID(),
		Class: rt.ClassName(o.Class()),
	}
	if p := rt.GetPrototype(o); p != nil {
		rec.ProtoID = p.ID()
	}

	if o.IsFastArray() {
		rec.FastArray = true
		n := rt.Length(o)
		for i := 0; i < n; i++ {
			v, err := rt.GetElement(o, uint32(i))
			if err != nil {
				return rec, errors.Wrapf(err, "element %d", i)
			}
			rec.Elems = append(rec.Elems, renderValue(v))
		}
		return rec, nil
	}

	if s := o.Shape(); s != nil {
		rec.ShapeID = s.ID()
	}
	names := rt.OwnPropertyAtoms(o)
	defer func() {
		for _, a := range names {
			rt.Atoms().Release(a)
		}
	}()
	for _, a := range names {
		p := PropRecord{Key: rt.Atoms().Text(a)}
		if flags, ok := rt.GetOwnFlags(o, a); ok {
			p.Flags = uint8(flags)
		}
		if _, _, isAccessor := rt.GetOwnAccessor(o, a); isAccessor {
			p.Accessor = true
			p.Value = "<accessor>"
		} else if v, ok := rt.GetOwn(o, a); ok {
			p.Value = renderValue(v)
		}
		rec.Props = append(rec.Props, p)
	}
	return rec, nil
}

func renderValue(v vm.Value) string {
	if v.IsObject() {
		return fmt.Sprintf("<object %d>", v.AsObject().ID())
	}
	return v.String()
}

// Marshal serializes a heap document to canonical CBOR bytes.
func Marshal(h *Heap) ([]byte, error) {
	data, err := cborEncMode.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: marshal heap")
	}
	return data, nil
}

// Unmarshal decodes a heap document produced by Marshal.
func Unmarshal(data []byte) (*Heap, error) {
	var h Heap
	if err := cbor.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "snapshot: unmarshal heap")
	}
	return &h, nil
}
