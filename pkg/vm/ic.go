package vm

import "starling/pkg/atom"

// RingCapacity bounds how many distinct shapes one site tracks before it
// degrades to an effective miss on every access. There is deliberately no
// separate megamorphic structure: stale or excess shapes simply age out.
const RingCapacity = 4

type ringEntry struct {
	shape  *Shape
	offset int32
}

// RingSlot caches (shape identity, slot offset) pairs for one atom at one
// bytecode site. Lookup scans from the last-hit cursor and pins it on a hit;
// insertion evicts FIFO. Shape comparison is by pointer identity alone,
// which is sound because a shape is never mutated once shared: stale entries
// stop matching and age out, so no invalidation path exists.
type RingSlot struct {
	atom    atom.Atom
	cursor  uint8
	write   uint8
	filled  uint8
	hits    uint32
	misses  uint32
	entries [RingCapacity]ringEntry
}

// Atom returns the property atom this slot serves.
func (s *RingSlot) Atom() atom.Atom { return s.atom }

// ShapesSeen returns how many distinct shapes currently occupy the ring.
func (s *RingSlot) ShapesSeen() int { return int(s.filled) }

func (s *RingSlot) lookup(sh *Shape) (int32, bool) {
	i := s.cursor
	for {
		e := &s.entries[i]
		if e.shape == sh {
			s.cursor = i
			s.hits++
			return e.offset, true
		}
		i = (i + 1) % RingCapacity
		if i == s.cursor {
			break
		}
	}
	s.misses++
	return -1, false
}

func (s *RingSlot) insert(rt *Runtime, sh *Shape, offset int32) {
	for i := 0; i < int(s.filled); i++ {
		if s.entries[i].shape == sh {
			s.entries[i].offset = offset
			s.cursor = uint8(i)
			return
		}
	}
	e := &s.entries[s.write]
	if e.shape != nil {
		rt.releaseShape(e.shape)
	} else {
		s.filled++
	}
	rt.retainShape(sh)
	e.shape = sh
	e.offset = offset
	s.cursor = s.write
	s.write = (s.write + 1) % RingCapacity
}

// InlineCache is the per-compiled-function table of ring slots. The compiler
// assigns one slot per distinct atom observed at each property site and
// passes the slot index back opaquely at run time. The table lives and dies
// with its function's bytecode.
type InlineCache struct {
	slots      []RingSlot
	slotByAtom map[atom.Atom]int
}

// NewInlineCache creates an empty per-function cache table.
func NewInlineCache() *InlineCache {
	return &InlineCache{slotByAtom: make(map[atom.Atom]int)}
}

// AddSlot returns the slot index for a, allocating one on first sight.
// Called at compile time.
func (ic *InlineCache) AddSlot(rt *Runtime, a atom.Atom) int {
	if i, ok := ic.slotByAtom[a]; ok {
		return i
	}
	rt.atoms.Ref(a)
	ic.slots = append(ic.slots, RingSlot{atom: a})
	i := len(ic.slots) - 1
	ic.slotByAtom[a] = i
	return i
}

// SlotCount returns the number of allocated slots.
func (ic *InlineCache) SlotCount() int { return len(ic.slots) }

// Slot returns the i-th ring slot for inspection.
func (ic *InlineCache) Slot(i int) *RingSlot { return &ic.slots[i] }

// Free releases every shape and atom reference held by the table. Called
// when the owning function's bytecode is destroyed.
func (ic *InlineCache) Free(rt *Runtime) {
	for i := range ic.slots {
		s := &ic.slots[i]
		for j := range s.entries {
			if s.entries[j].shape != nil {
				rt.releaseShape(s.entries[j].shape)
				s.entries[j].shape = nil
			}
		}
		rt.atoms.Release(s.atom)
	}
	ic.slots = nil
	ic.slotByAtom = nil
}

// GetPropertyIC is GetProperty accelerated by a cache site. A hit returns
// the receiver's slot directly; a miss resolves fully and, when the result
// is an own plain data property, records (shape, offset) in the ring.
func (rt *Runtime) GetPropertyIC(o *Object, a atom.Atom, ic *InlineCache, site int) Value {
	if ic == nil || site < 0 || site >= len(ic.slots) || o.kind != storageShaped {
		return rt.GetProperty(o, a)
	}
	slot := &ic.slots[site]
	if off, ok := slot.lookup(o.shape); ok {
		rt.noteHit(slot)
		return o.slots[off]
	}
	rt.stats.Misses++
	v := rt.GetProperty(o, a)
	if pi := o.shape.findOwn(a); pi >= 0 {
		p := &o.shape.props[pi]
		if p.flags&FlagAccessor == 0 {
			slot.insert(rt, o.shape, p.offset)
		}
	}
	return v
}

// SetPropertyIC is SetProperty accelerated by a cache site. Only own
// writable data properties are cached; a hit overwrites the slot in place
// with no shape work at all.
func (rt *Runtime) SetPropertyIC(o *Object, a atom.Atom, v Value, ic *InlineCache, site int) error {
	if ic == nil || site < 0 || site >= len(ic.slots) || o.kind != storageShaped {
		return rt.SetProperty(o, a, v)
	}
	slot := &ic.slots[site]
	if off, ok := slot.lookup(o.shape); ok {
		rt.noteHit(slot)
		rt.releaseValue(o.slots[off])
		rt.retainValue(v)
		o.slots[off] = v
		return nil
	}
	rt.stats.Misses++
	if err := rt.SetProperty(o, a, v); err != nil {
		return err
	}
	// Cache the post-write layout so the next object arriving on the same
	// transition path hits.
	if pi := o.shape.findOwn(a); pi >= 0 {
		p := &o.shape.props[pi]
		if p.flags&FlagAccessor == 0 && p.flags&FlagWritable != 0 {
			slot.insert(rt, o.shape, p.offset)
		}
	}
	return nil
}

func (rt *Runtime) noteHit(slot *RingSlot) {
	rt.stats.Hits++
	if slot.filled <= 1 {
		rt.stats.MonomorphicHits++
	} else {
		rt.stats.PolymorphicHits++
	}
}
