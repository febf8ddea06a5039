package vm

import (
	"sort"

	"starling/pkg/atom"
)

type storageKind uint8

const (
	// storageShaped holds ordinary properties: a shape plus a slot array
	// parallel to the shape's live property sequence.
	storageShaped storageKind = iota
	// storageDense is the fast-array mode: contiguous zero-based elements,
	// no shape lookup on index access. One-way: degradation to storageShaped
	// is permanent.
	storageDense
)

const valueSize = 40 // approximate in-memory size of one Value slot

// Object is the polymorphic value container. The class tag picks the storage
// mode at construction; mutation can later force a dense object into shaped
// storage but never the reverse.
type Object struct {
	id       uint64 // stable identity, used to seed prototype hashing
	class    ClassID
	refCount int32
	kind     storageKind

	shape *Shape
	slots []Value

	elems []Value // dense storage, kind == storageDense

	// Accessor halves, keyed by property atom. Allocated on first accessor.
	getters map[atom.Atom]Value
	setters map[atom.Atom]Value
}

// ID returns the object's runtime-unique identity.
func (o *Object) ID() uint64 { return o.id }

// Class returns the object's class tag.
func (o *Object) Class() ClassID { return o.class }

// Shape returns the object's current shape.
func (o *Object) Shape() *Shape { return o.shape }

// IsFastArray reports whether the object is still in dense fast-array mode.
func (o *Object) IsFastArray() bool { return o.kind == storageDense }

// NewObject creates an object of the given class with the given prototype
// (nil for none). The class definition decides the initial storage mode.
func (rt *Runtime) NewObject(class ClassID, proto *Object) (*Object, error) {
	def, ok := rt.classes[class]
	if !ok {
		def = ClassDef{Name: "unknown"}
	}
	if err := rt.charge(96); err != nil {
		return nil, err
	}
	s, err := rt.initialShape(proto)
	if err != nil {
		rt.chargeBack(96)
		return nil, err
	}
	o := &Object{id: rt.nextObjectID(), class: class, refCount: 1, shape: s}
	if def.FastArray {
		o.kind = storageDense
	}
	rt.objectCount++
	return o, nil
}

// NewPlainObject creates an ordinary shape-backed object.
func (rt *Runtime) NewPlainObject(proto *Object) (*Object, error) {
	return rt.NewObject(ClassObject, proto)
}

// NewArray creates a fast-array object seeded with elems.
func (rt *Runtime) NewArray(proto *Object, elems ...Value) (*Object, error) {
	o, err := rt.NewObject(ClassArray, proto)
	if err != nil {
		return nil, err
	}
	if len(elems) > 0 {
		if err := rt.expandFastArray(o, len(elems)); err != nil {
			rt.ReleaseObject(o)
			return nil, err
		}
		o.elems = o.elems[:len(elems)]
		copy(o.elems, elems)
		for _, v := range elems {
			rt.retainValue(v)
		}
	}
	return o, nil
}

// GetProperty resolves a on o: fast-array slot, then o's own shape table,
// then each prototype's, until a null prototype yields Absent. Absent is a
// normal result, never an error.
func (rt *Runtime) GetProperty(o *Object, a atom.Atom) Value {
	for cur := o; cur != nil; cur = cur.shape.proto {
		if cur.kind == storageDense {
			if idx, ok := rt.atoms.ArrayIndex(a); ok {
				if int(idx) < len(cur.elems) {
					return cur.elems[idx]
				}
				continue // dense miss falls through to the prototype
			}
		}
		if pi := cur.shape.findOwn(a); pi >= 0 {
			p := &cur.shape.props[pi]
			if p.flags&FlagAccessor != 0 {
				return rt.callGetter(cur, a, o)
			}
			return cur.slots[p.offset]
		}
	}
	return Absent
}

// GetOwn resolves a on o without consulting the prototype chain.
func (rt *Runtime) GetOwn(o *Object, a atom.Atom) (Value, bool) {
	if o.kind == storageDense {
		if idx, ok := rt.atoms.ArrayIndex(a); ok {
			if int(idx) < len(o.elems) {
				return o.elems[idx], true
			}
			return Undefined, false
		}
	}
	pi := o.shape.findOwn(a)
	if pi < 0 {
		return Undefined, false
	}
	p := &o.shape.props[pi]
	if p.flags&FlagAccessor != 0 {
		return rt.callGetter(o, a, o), true
	}
	return o.slots[p.offset], true
}

// HasProperty reports whether a resolves anywhere on o's chain.
func (rt *Runtime) HasProperty(o *Object, a atom.Atom) bool {
	return !rt.GetProperty(o, a).IsAbsent()
}

// SetProperty writes a on o with plain-assignment semantics: dense fast path
// for canonical indices, in-place overwrite for an existing offset, shape
// transition plus slot append for a new property. The only error is
// out-of-memory, with the mutation rolled back.
func (rt *Runtime) SetProperty(o *Object, a atom.Atom, v Value) error {
	if o.kind == storageDense {
		if idx, ok := rt.atoms.ArrayIndex(a); ok {
			return rt.setElementDense(o, idx, v)
		}
		// Named property on a fast array forces shaped storage.
		if err := rt.convertToShaped(o); err != nil {
			return err
		}
	}
	if pi := o.shape.findOwn(a); pi >= 0 {
		p := &o.shape.props[pi]
		if p.flags&FlagAccessor != 0 {
			rt.callSetter(o, a, o, v)
			return nil
		}
		if p.flags&FlagWritable == 0 {
			return nil
		}
		off := p.offset
		rt.releaseValue(o.slots[off])
		rt.retainValue(v)
		o.slots[off] = v
		return nil
	}
	return rt.addOwnProperty(o, a, v, FlagsDefault)
}

// addOwnProperty extends the shape and appends the slot. The shape transition
// happens first so a failed slot-growth charge can release it again, leaving
// neither side effects nor accounting drift.
func (rt *Runtime) addOwnProperty(o *Object, a atom.Atom, v Value, flags PropFlags) error {
	ns, err := rt.shapeAdd(o.shape, a, flags)
	if err != nil {
		return err
	}
	if len(o.slots) == cap(o.slots) {
		newCap := roundCapacity(len(o.slots) + len(o.slots)/2 + 1)
		if err := rt.charge(valueSize * int64(newCap-cap(o.slots))); err != nil {
			rt.releaseShape(ns)
			return err
		}
		grown := make([]Value, len(o.slots), newCap)
		copy(grown, o.slots)
		o.slots = grown
	}
	rt.releaseShape(o.shape)
	o.shape = ns
	rt.retainValue(v)
	o.slots = append(o.slots, v)
	return nil
}

// DeleteProperty removes an own property. Deleting a missing property
// succeeds; a non-configurable one refuses. Deletion always forks the shape
// into a private lineage: the pre-delete shared identity is never restored.
func (rt *Runtime) DeleteProperty(o *Object, a atom.Atom) (bool, error) {
	if o.kind == storageDense {
		if idx, ok := rt.atoms.ArrayIndex(a); ok {
			if int(idx) >= len(o.elems) {
				return true, nil
			}
			if int(idx) == len(o.elems)-1 {
				rt.releaseValue(o.elems[idx])
				o.elems = o.elems[:idx]
				return true, nil
			}
			// Deleting an interior element would leave a hole.
			if err := rt.convertToShaped(o); err != nil {
				return false, err
			}
		} else if o.shape.findOwn(a) < 0 {
			return true, nil
		}
	}
	pi := o.shape.findOwn(a)
	if pi < 0 {
		return true, nil
	}
	p := o.shape.props[pi]
	if p.flags&FlagConfigurable == 0 {
		return false, nil
	}
	ns, err := rt.shapeRemove(o.shape, pi)
	if err != nil {
		return false, err
	}
	rt.releaseShape(o.shape)
	o.shape = ns
	rt.releaseValue(o.slots[p.offset])
	copy(o.slots[p.offset:], o.slots[p.offset+1:])
	o.slots = o.slots[:len(o.slots)-1]
	if p.flags&FlagAccessor != 0 {
		rt.releaseValue(o.getters[a])
		rt.releaseValue(o.setters[a])
		delete(o.getters, a)
		delete(o.setters, a)
	}
	return true, nil
}

// DefineProperty defines or redefines a data property with explicit
// attribute flags. Redefinition on a shared shape forks it first.
func (rt *Runtime) DefineProperty(o *Object, a atom.Atom, v Value, flags PropFlags) error {
	if o.kind == storageDense {
		if idx, ok := rt.atoms.ArrayIndex(a); ok && flags == FlagsDefault {
			return rt.setElementDense(o, idx, v)
		}
		if err := rt.convertToShaped(o); err != nil {
			return err
		}
	}
	if pi := o.shape.findOwn(a); pi >= 0 {
		if err := rt.forkForUpdate(o); err != nil {
			return err
		}
		p := &o.shape.props[pi]
		if p.flags&FlagAccessor != 0 {
			rt.releaseValue(o.getters[a])
			rt.releaseValue(o.setters[a])
			delete(o.getters, a)
			delete(o.setters, a)
		}
		p.flags = flags &^ FlagAccessor
		rt.releaseValue(o.slots[p.offset])
		rt.retainValue(v)
		o.slots[p.offset] = v
		return nil
	}
	return rt.addOwnProperty(o, a, v, flags&^FlagAccessor)
}

// DefineAccessor installs a getter/setter property. On a fast array this is
// a degradation trigger.
func (rt *Runtime) DefineAccessor(o *Object, a atom.Atom, getter, setter Value, flags PropFlags) error {
	if o.kind == storageDense {
		if err := rt.convertToShaped(o); err != nil {
			return err
		}
	}
	if pi := o.shape.findOwn(a); pi >= 0 {
		if err := rt.forkForUpdate(o); err != nil {
			return err
		}
		p := &o.shape.props[pi]
		if p.flags&FlagAccessor == 0 {
			rt.releaseValue(o.slots[p.offset])
			o.slots[p.offset] = Undefined
		}
		p.flags = flags | FlagAccessor
	} else {
		if err := rt.addOwnProperty(o, a, Undefined, flags|FlagAccessor); err != nil {
			return err
		}
	}
	if o.getters == nil {
		o.getters = make(map[atom.Atom]Value)
		o.setters = make(map[atom.Atom]Value)
	}
	if old, ok := o.getters[a]; ok {
		rt.releaseValue(old)
	}
	if old, ok := o.setters[a]; ok {
		rt.releaseValue(old)
	}
	rt.retainValue(getter)
	rt.retainValue(setter)
	o.getters[a] = getter
	o.setters[a] = setter
	return nil
}

// GetOwnAccessor returns the getter/setter pair for an own accessor property.
func (rt *Runtime) GetOwnAccessor(o *Object, a atom.Atom) (getter, setter Value, ok bool) {
	pi := o.shape.findOwn(a)
	if pi < 0 || o.shape.props[pi].flags&FlagAccessor == 0 {
		return Undefined, Undefined, false
	}
	return o.getters[a], o.setters[a], true
}

// GetOwnFlags returns the attribute flags of an own property.
func (rt *Runtime) GetOwnFlags(o *Object, a atom.Atom) (PropFlags, bool) {
	if o.kind == storageDense {
		if idx, ok := rt.atoms.ArrayIndex(a); ok && int(idx) < len(o.elems) {
			return FlagsDefault, true
		}
	}
	pi := o.shape.findOwn(a)
	if pi < 0 {
		return 0, false
	}
	return o.shape.props[pi].flags, true
}

// GetPrototype returns o's prototype, nil for none.
func (rt *Runtime) GetPrototype(o *Object) *Object {
	return o.shape.proto
}

// SetPrototype swaps o's prototype. The shape is forked private first; a
// prototype change never mutates a shared layout.
func (rt *Runtime) SetPrototype(o *Object, proto *Object) error {
	if o.shape.proto == proto {
		return nil
	}
	if err := rt.forkForUpdate(o); err != nil {
		return err
	}
	if proto != nil {
		rt.RetainObject(proto)
	}
	if o.shape.proto != nil {
		rt.ReleaseObject(o.shape.proto)
	}
	o.shape.proto = proto
	return nil
}

// OwnPropertyAtoms returns o's own keys in enumeration order: canonical
// array indices first in ascending numeric order, then the remaining keys in
// creation order. Every returned atom is retained for the caller, who must
// Release each when done.
func (rt *Runtime) OwnPropertyAtoms(o *Object) []atom.Atom {
	type indexed struct {
		a   atom.Atom
		idx uint32
	}
	var indices []indexed
	var named []atom.Atom
	if o.kind == storageDense {
		for i := range o.elems {
			a, err := rt.atoms.InternIndex(uint32(i))
			if err != nil {
				break
			}
			indices = append(indices, indexed{a: a, idx: uint32(i)})
		}
	}
	for _, p := range o.shape.props {
		if p.a == atom.None {
			continue
		}
		rt.atoms.Ref(p.a)
		if idx, ok := rt.atoms.ArrayIndex(p.a); ok {
			indices = append(indices, indexed{a: p.a, idx: idx})
		} else {
			named = append(named, p.a)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i].idx < indices[j].idx })
	out := make([]atom.Atom, 0, len(indices)+len(named))
	for _, e := range indices {
		out = append(out, e.a)
	}
	return append(out, named...)
}

// OwnKeys returns o's own keys as strings, in the same enumeration order.
func (rt *Runtime) OwnKeys(o *Object) []string {
	atoms := rt.OwnPropertyAtoms(o)
	keys := make([]string, len(atoms))
	for i, a := range atoms {
		keys[i] = rt.atoms.Text(a)
		rt.atoms.Release(a)
	}
	return keys
}

func (rt *Runtime) callGetter(holder *Object, a atom.Atom, receiver *Object) Value {
	g := holder.getters[a]
	if g.IsUndefined() || rt.getterFn == nil {
		return Undefined
	}
	return rt.getterFn(g, ObjectValue(receiver))
}

func (rt *Runtime) callSetter(holder *Object, a atom.Atom, receiver *Object, v Value) {
	s := holder.setters[a]
	if s.IsUndefined() || rt.setterFn == nil {
		return
	}
	rt.setterFn(s, ObjectValue(receiver), v)
}
