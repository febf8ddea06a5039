package vm

import (
	"starling/pkg/atom"
)

// PropFlags carries the attribute bits of one shape property.
type PropFlags uint8

const (
	FlagWritable PropFlags = 1 << iota
	FlagEnumerable
	FlagConfigurable
	FlagAccessor
)

// FlagsDefault is the attribute set produced by plain assignment.
const FlagsDefault = FlagWritable | FlagEnumerable | FlagConfigurable

// shapeProp is one entry of a shape's ordered property sequence. Deleted
// entries stay in place as tombstones (a == atom.None) so that surviving
// entries keep their creation order; offsets are renumbered at delete time
// so the object's slot array stays dense (no holes).
type shapeProp struct {
	a      atom.Atom
	flags  PropFlags
	offset int32
	next   int32 // own-hash chain, -1 terminates
}

// Shape is an interned, refcounted property-layout descriptor. Objects built
// through the same sequence of property additions share one Shape instance,
// so the inline cache can compare layouts by identity alone. A shape is never
// mutated once it is shared or interned; every mutating operation forks.
//
// Interning is by structural content: the runtime keeps a hash index over
// (prototype, ordered property sequence), and identical content always
// resolves to the identical instance. That invariant is what keeps
// identity-only comparison in the inline cache sound.
type Shape struct {
	id       uint64
	refCount int32
	proto    *Object
	props    []shapeProp
	buckets  []int32 // own hash over props, power-of-two
	live     int     // non-deleted property count
	deleted  int
	hash     uint64 // accumulated content hash, meaningful while hashed
	hashed   bool   // present in the runtime shape index
}

const (
	initialPropBuckets = 4
	compactMinDeleted  = 8

	// Multiplier for the incremental content hash, applied per appended
	// (atom, flags) pair. Accumulating keeps transition lookup O(1) in the
	// property count.
	shapeHashMul  = 263
	shapeHashSeed = 0x9e3779b97f4a7c15
)

// ID returns the shape's identity. IDs are unique per runtime and never
// reused.
func (s *Shape) ID() uint64 { return s.id }

// Proto returns the prototype object recorded on the shape.
func (s *Shape) Proto() *Object { return s.proto }

// PropCount returns the number of live (non-deleted) properties.
func (s *Shape) PropCount() int { return s.live }

// RefCount returns the current reference count.
func (s *Shape) RefCount() int { return int(s.refCount) }

func atomHash(a atom.Atom) uint32 {
	return uint32(a) * 2654435761
}

func initialShapeHash(proto *Object) uint64 {
	h := uint64(shapeHashSeed)
	if proto != nil {
		h = h*shapeHashMul + proto.id
	}
	return h
}

func extendShapeHash(h uint64, a atom.Atom, flags PropFlags) uint64 {
	h = h*shapeHashMul + uint64(a)
	return h*shapeHashMul + uint64(flags)
}

// findOwn returns the index into s.props of the live entry for a, or -1.
func (s *Shape) findOwn(a atom.Atom) int {
	b := atomHash(a) & uint32(len(s.buckets)-1)
	for i := s.buckets[b]; i >= 0; i = s.props[i].next {
		if s.props[i].a == a {
			return int(i)
		}
	}
	return -1
}

func (s *Shape) byteSize() int64 {
	return 96 + int64(cap(s.props))*16 + int64(len(s.buckets))*4
}

// isExtensionOf reports whether s is exactly parent's property sequence plus
// one trailing (a, flags) entry, under the same prototype. Interned shapes
// never carry tombstones, so the comparison is positional.
func (s *Shape) isExtensionOf(parent *Shape, a atom.Atom, flags PropFlags) bool {
	if s.proto != parent.proto || len(s.props) != len(parent.props)+1 {
		return false
	}
	for i := range parent.props {
		if s.props[i].a != parent.props[i].a || s.props[i].flags != parent.props[i].flags {
			return false
		}
	}
	last := s.props[len(parent.props)]
	return last.a == a && last.flags == flags
}

// rebuildBuckets resizes the own-hash to fit the property count and relinks
// every live entry. Tombstones are left out of the chains.
func (s *Shape) rebuildBuckets() {
	n := initialPropBuckets
	for n < len(s.props)+1 {
		n *= 2
	}
	s.buckets = make([]int32, n)
	for i := range s.buckets {
		s.buckets[i] = -1
	}
	for i := range s.props {
		p := &s.props[i]
		p.next = -1
		if p.a == atom.None {
			continue
		}
		b := atomHash(p.a) & uint32(n-1)
		p.next = s.buckets[b]
		s.buckets[b] = int32(i)
	}
}

// registerShape links s into the content-hash index.
func (rt *Runtime) registerShape(s *Shape) {
	s.hashed = true
	rt.shapeIndex[s.hash] = append(rt.shapeIndex[s.hash], s)
}

func (rt *Runtime) unregisterShape(s *Shape) {
	bucket := rt.shapeIndex[s.hash]
	for i, c := range bucket {
		if c == s {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(rt.shapeIndex, s.hash)
	} else {
		rt.shapeIndex[s.hash] = bucket
	}
	s.hashed = false
}

// initialShape returns the shared empty shape for proto, creating and
// interning it on first use. The returned shape is retained for the caller.
func (rt *Runtime) initialShape(proto *Object) (*Shape, error) {
	h := initialShapeHash(proto)
	for _, c := range rt.shapeIndex[h] {
		if c.proto == proto && len(c.props) == 0 {
			rt.retainShape(c)
			return c, nil
		}
	}
	s := &Shape{
		id:       rt.nextShapeID(),
		refCount: 1,
		proto:    proto,
		buckets:  make([]int32, initialPropBuckets),
		hash:     h,
	}
	for i := range s.buckets {
		s.buckets[i] = -1
	}
	if err := rt.charge(s.byteSize()); err != nil {
		return nil, err
	}
	if proto != nil {
		rt.RetainObject(proto)
	}
	rt.shapeCount++
	rt.registerShape(s)
	return s, nil
}

// cloneShape copies s into a fresh, unregistered shape with refcount 1.
// The clone retains the prototype and every live atom.
func (rt *Runtime) cloneShape(s *Shape) (*Shape, error) {
	c := &Shape{
		id:       rt.nextShapeID(),
		refCount: 1,
		proto:    s.proto,
		props:    make([]shapeProp, len(s.props), len(s.props)+1),
		buckets:  make([]int32, len(s.buckets)),
		live:     s.live,
		deleted:  s.deleted,
		hash:     s.hash,
	}
	if err := rt.charge(c.byteSize()); err != nil {
		return nil, err
	}
	copy(c.props, s.props)
	copy(c.buckets, s.buckets)
	if c.proto != nil {
		rt.RetainObject(c.proto)
	}
	for i := range c.props {
		if c.props[i].a != atom.None {
			rt.atoms.Ref(c.props[i].a)
		}
	}
	rt.shapeCount++
	return c, nil
}

// shapeAdd returns the shape extending s with (a, flags). While s is
// interned, the extension is resolved through the runtime shape index first,
// so two objects with identical property histories land on the identical
// shape. The result is retained for the caller; s itself is not released.
func (rt *Runtime) shapeAdd(s *Shape, a atom.Atom, flags PropFlags) (*Shape, error) {
	var h uint64
	if s.hashed {
		h = extendShapeHash(s.hash, a, flags)
		for _, c := range rt.shapeIndex[h] {
			if c.isExtensionOf(s, a, flags) {
				rt.retainShape(c)
				return c, nil
			}
		}
	}
	c, err := rt.cloneShape(s)
	if err != nil {
		return nil, err
	}
	rt.atoms.Ref(a)
	c.props = append(c.props, shapeProp{a: a, flags: flags, offset: int32(c.live), next: -1})
	c.live++
	if len(c.props) >= len(c.buckets) {
		c.rebuildBuckets()
	} else {
		i := int32(len(c.props) - 1)
		b := atomHash(a) & uint32(len(c.buckets)-1)
		c.props[i].next = c.buckets[b]
		c.buckets[b] = i
	}
	// A lineage that has left the index (delete, redefinition) stays
	// private forever.
	if s.hashed {
		c.hash = h
		rt.registerShape(c)
	}
	return c, nil
}

// shapeRemove returns a private fork of s with the entry at propIdx
// tombstoned and later offsets renumbered. Deletion breaks sharing
// permanently: the fork is never interned, and neither are its descendants.
func (rt *Runtime) shapeRemove(s *Shape, propIdx int) (*Shape, error) {
	c, err := rt.cloneShape(s)
	if err != nil {
		return nil, err
	}
	removed := c.props[propIdx].offset
	rt.atoms.Release(c.props[propIdx].a)
	c.props[propIdx].a = atom.None
	c.props[propIdx].offset = -1
	for i := range c.props {
		if c.props[i].offset > removed {
			c.props[i].offset--
		}
	}
	c.live--
	c.deleted++
	c.rebuildBuckets()
	if c.deleted >= compactMinDeleted && c.deleted*2 >= len(c.props) {
		c.compact()
	}
	return c, nil
}

// compact drops tombstones from a sole-owned private shape. Offsets are
// already dense, so only the sequence and the own-hash change.
func (s *Shape) compact() {
	out := s.props[:0]
	for _, p := range s.props {
		if p.a != atom.None {
			out = append(out, p)
		}
	}
	s.props = out
	s.deleted = 0
	s.rebuildBuckets()
}

// forkForUpdate ensures o's shape can be mutated in place (flag
// redefinition, prototype change). A shared or interned shape is cloned
// into a private one first.
func (rt *Runtime) forkForUpdate(o *Object) error {
	s := o.shape
	if s.refCount == 1 && !s.hashed {
		return nil
	}
	c, err := rt.cloneShape(s)
	if err != nil {
		return err
	}
	rt.releaseShape(s)
	o.shape = c
	return nil
}

func (rt *Runtime) retainShape(s *Shape) {
	s.refCount++
}

func (rt *Runtime) releaseShape(s *Shape) {
	s.refCount--
	if s.refCount > 0 {
		return
	}
	if s.hashed {
		rt.unregisterShape(s)
	}
	for i := range s.props {
		if s.props[i].a != atom.None {
			rt.atoms.Release(s.props[i].a)
		}
	}
	if s.proto != nil {
		rt.ReleaseObject(s.proto)
	}
	rt.chargeBack(s.byteSize())
	rt.shapeCount--
}
