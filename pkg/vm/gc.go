package vm

import "starling/pkg/atom"

// Reference-count hooks and child-edge exposure for an external collector.
// This core owns the counts but not the tracing: cycle detection lives in
// the embedder's collector, which walks edges via MarkChildren.

// GCVisitor receives the outgoing edges of a heap cell during tracing.
type GCVisitor interface {
	VisitObject(o *Object)
	VisitShape(s *Shape)
	VisitAtom(a atom.Atom)
}

// RetainObject increments o's reference count.
func (rt *Runtime) RetainObject(o *Object) {
	o.refCount++
}

// ReleaseObject decrements o's reference count, freeing its storage at zero.
// Values held in slots or dense elements are released recursively.
func (rt *Runtime) ReleaseObject(o *Object) {
	o.refCount--
	if o.refCount > 0 {
		return
	}
	for _, v := range o.slots {
		rt.releaseValue(v)
	}
	for _, v := range o.elems {
		rt.releaseValue(v)
	}
	for _, v := range o.getters {
		rt.releaseValue(v)
	}
	for _, v := range o.setters {
		rt.releaseValue(v)
	}
	rt.chargeBack(valueSize*int64(cap(o.slots)+cap(o.elems)) + 96)
	o.slots = nil
	o.elems = nil
	o.getters = nil
	o.setters = nil
	rt.releaseShape(o.shape)
	o.shape = nil
	rt.objectCount--
}

// RefCount returns o's current reference count.
func (o *Object) RefCount() int { return int(o.refCount) }

// RetainShape and ReleaseShape are the collector-facing shape hooks.
func (rt *Runtime) RetainShape(s *Shape)  { rt.retainShape(s) }
func (rt *Runtime) ReleaseShape(s *Shape) { rt.releaseShape(s) }

func (rt *Runtime) retainValue(v Value) {
	if v.typ == TypeObject {
		rt.RetainObject(v.obj)
	}
}

func (rt *Runtime) releaseValue(v Value) {
	if v.typ == TypeObject {
		rt.ReleaseObject(v.obj)
	}
}

// MarkChildren reports o's outgoing edges: its shape, every stored value,
// and the accessor halves. The prototype edge is reached through the shape.
func (rt *Runtime) MarkChildren(o *Object, visit GCVisitor) {
	visit.VisitShape(o.shape)
	for _, v := range o.slots {
		if v.typ == TypeObject {
			visit.VisitObject(v.obj)
		}
	}
	for _, v := range o.elems {
		if v.typ == TypeObject {
			visit.VisitObject(v.obj)
		}
	}
	for _, v := range o.getters {
		if v.typ == TypeObject {
			visit.VisitObject(v.obj)
		}
	}
	for _, v := range o.setters {
		if v.typ == TypeObject {
			visit.VisitObject(v.obj)
		}
	}
}

// MarkShapeChildren reports a shape's outgoing edges: its prototype and the
// atoms naming its live properties.
func (rt *Runtime) MarkShapeChildren(s *Shape, visit GCVisitor) {
	if s.proto != nil {
		visit.VisitObject(s.proto)
	}
	for _, p := range s.props {
		if p.a != atom.None {
			visit.VisitAtom(p.a)
		}
	}
}
