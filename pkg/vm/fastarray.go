package vm

import "starling/pkg/atom"

// Dense fast-array storage for array-like classes. Index reads and in-range
// writes bypass the shape machinery entirely; anything that would make the
// storage sparse or attach named properties migrates the object to shaped
// storage, permanently.

// minDenseCapacity is the smallest non-zero element allocation.
const minDenseCapacity = 4

// roundCapacity rounds a requested element count up to the allocation size
// class, absorbing the bytes the allocator would round up to anyway.
func roundCapacity(n int) int {
	if n <= minDenseCapacity {
		return minDenseCapacity
	}
	return (n + 7) &^ 7
}

// expandFastArray grows o's dense capacity to hold at least newLen elements,
// growing by at least half the current capacity for amortized O(1) appends.
// The element count is unchanged.
func (rt *Runtime) expandFastArray(o *Object, newLen int) error {
	if newLen <= cap(o.elems) {
		return nil
	}
	newCap := cap(o.elems) + cap(o.elems)/2
	if newCap < newLen {
		newCap = newLen
	}
	newCap = roundCapacity(newCap)
	if err := rt.charge(valueSize * int64(newCap-cap(o.elems))); err != nil {
		return err
	}
	elems := make([]Value, len(o.elems), newCap)
	copy(elems, o.elems)
	o.elems = elems
	return nil
}

// setElementDense handles an index write on a dense object: in-range
// overwrite, append at exactly the current length, degradation past it.
func (rt *Runtime) setElementDense(o *Object, idx uint32, v Value) error {
	switch {
	case int(idx) < len(o.elems):
		rt.releaseValue(o.elems[idx])
		rt.retainValue(v)
		o.elems[idx] = v
		return nil
	case int(idx) == len(o.elems):
		if err := rt.expandFastArray(o, len(o.elems)+1); err != nil {
			return err
		}
		rt.retainValue(v)
		o.elems = append(o.elems, v)
		return nil
	default:
		// Writing past the length would create a hole.
		if err := rt.convertToShaped(o); err != nil {
			return err
		}
		a, err := rt.atoms.InternIndex(idx)
		if err != nil {
			return err
		}
		defer rt.atoms.Release(a)
		return rt.SetProperty(o, a, v)
	}
}

// GetElement returns the idx-th element, Absent when out of range. Shaped
// (degraded) array objects take the generic property path.
func (rt *Runtime) GetElement(o *Object, idx uint32) (Value, error) {
	if o.kind == storageDense {
		if int(idx) < len(o.elems) {
			return o.elems[idx], nil
		}
		return Absent, nil
	}
	a, err := rt.atoms.InternIndex(idx)
	if err != nil {
		return Undefined, err
	}
	defer rt.atoms.Release(a)
	return rt.GetProperty(o, a), nil
}

// SetElement writes the idx-th element with the same rules as SetProperty on
// a canonical index atom.
func (rt *Runtime) SetElement(o *Object, idx uint32, v Value) error {
	if o.kind == storageDense {
		return rt.setElementDense(o, idx, v)
	}
	a, err := rt.atoms.InternIndex(idx)
	if err != nil {
		return err
	}
	defer rt.atoms.Release(a)
	return rt.SetProperty(o, a, v)
}

// Push appends v, keeping a dense object dense.
func (rt *Runtime) Push(o *Object, v Value) error {
	if o.kind == storageDense {
		return rt.setElementDense(o, uint32(len(o.elems)), v)
	}
	return rt.SetElement(o, uint32(rt.Length(o)), v)
}

// Length returns the array length: the dense element count, or for a
// degraded array one past the highest own index.
func (rt *Runtime) Length(o *Object) int {
	if o.kind == storageDense {
		return len(o.elems)
	}
	max := -1
	for _, p := range o.shape.props {
		if p.a == atom.None {
			continue
		}
		if idx, ok := rt.atoms.ArrayIndex(p.a); ok && int(idx) > max {
			max = int(idx)
		}
	}
	return max + 1
}

// convertToShaped migrates dense elements into shape-backed storage in index
// order and marks the object permanently non-fast. The migration is staged:
// the target shape and slot array are built to completion off to the side and
// committed in one step, so an out-of-memory failure anywhere along the way
// leaves the object dense and untouched. The shape transitions taken here are
// memoized like any other, so arrays of the same length degrade onto a shared
// shape.
func (rt *Runtime) convertToShaped(o *Object) error {
	if o.kind != storageDense {
		return nil
	}
	ns := o.shape
	rt.retainShape(ns)
	var slots []Value
	if n := len(o.elems); n > 0 {
		if err := rt.charge(valueSize * int64(roundCapacity(n))); err != nil {
			rt.releaseShape(ns)
			return err
		}
		slots = make([]Value, 0, roundCapacity(n))
	}
	for i := range o.elems {
		a, err := rt.atoms.InternIndex(uint32(i))
		if err != nil {
			rt.releaseShape(ns)
			rt.chargeBack(valueSize * int64(cap(slots)))
			return err
		}
		next, err := rt.shapeAdd(ns, a, FlagsDefault)
		rt.atoms.Release(a)
		if err != nil {
			rt.releaseShape(ns)
			rt.chargeBack(valueSize * int64(cap(slots)))
			return err
		}
		rt.releaseShape(ns)
		ns = next
		slots = append(slots, o.elems[i])
	}
	n := len(o.elems)
	rt.releaseShape(o.shape)
	o.shape = ns
	o.slots = slots // element ownership moves from elems to slots
	rt.chargeBack(valueSize * int64(cap(o.elems)))
	o.elems = nil
	o.kind = storageShaped
	rt.deoptCount++
	rt.log.Debugf("fast array degraded to shaped storage (%d elements)", n)
	return nil
}
