package vm

import (
	"errors"
	"fmt"
	"testing"
)

func TestMemoryLimitSurfacesOOM(t *testing.T) {
	rt := New(WithMemoryLimit(16 * 1024))
	o := newPlainT(t, rt)
	var failed bool
	for i := 0; i < 10000; i++ {
		a, err := rt.InternAtom(fmt.Sprintf("prop%d", i))
		if err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			failed = true
			break
		}
		if err := rt.SetProperty(o, a, NumberValue(float64(i))); err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			failed = true
			break
		}
	}
	if !failed {
		t.Fatalf("16KiB budget never exhausted")
	}
}

func TestOOMAbortsWithoutSideEffects(t *testing.T) {
	rt := New()
	o := newPlainT(t, rt)
	setT(t, rt, o, "a", NumberValue(1))
	shape := o.Shape()
	count := shape.PropCount()

	// Clamp the limit below current usage: the next allocating mutation
	// must fail and leave the object exactly as it was.
	rt.SetMemoryLimit(1)
	b, err := rt.InternAtom("b")
	if err == nil {
		err = rt.SetProperty(o, b, NumberValue(2))
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if o.Shape() != shape || o.Shape().PropCount() != count {
		t.Errorf("failed mutation left side effects")
	}
	rt.SetMemoryLimit(0)
	if v := rt.GetProperty(o, internT(t, rt, "a")); v.AsNumber() != 1 {
		t.Errorf("object damaged by aborted mutation: %v", v)
	}
}

func TestFailedAddLeavesBudgetBalanced(t *testing.T) {
	// Sweep the headroom so the add fails at the shape clone and at the slot
	// growth charge alike; a failed add must leave the accounted usage
	// exactly where it was.
	for extra := int64(0); extra <= 600; extra += 40 {
		rt := New()
		o := newPlainT(t, rt)
		for i := 0; i < 4; i++ {
			setT(t, rt, o, fmt.Sprintf("f%d", i), NumberValue(0))
		}
		a := internT(t, rt, "overflow")
		used := rt.MemoryUsed()
		rt.SetMemoryLimit(used + extra)
		if err := rt.SetProperty(o, a, NumberValue(1)); err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("headroom %d: unexpected error kind: %v", extra, err)
			}
			if rt.MemoryUsed() != used {
				t.Errorf("headroom %d: failed add drifted accounting: %d -> %d", extra, used, rt.MemoryUsed())
			}
		}
	}
}

func TestRuntimesAreIsolated(t *testing.T) {
	rt1 := New()
	rt2 := New()
	o1 := newPlainT(t, rt1)
	o2 := newPlainT(t, rt2)
	setT(t, rt1, o1, "k", NumberValue(1))
	setT(t, rt2, o2, "k", NumberValue(1))
	// Same history, different runtimes: shapes are per-runtime state.
	if o1.Shape() == o2.Shape() {
		t.Errorf("shapes must not be shared across runtimes")
	}
}

func TestShapeAndObjectCounts(t *testing.T) {
	rt := New()
	o := newPlainT(t, rt)
	if rt.ObjectCount() != 1 {
		t.Errorf("object count = %d", rt.ObjectCount())
	}
	setT(t, rt, o, "a", NumberValue(1))
	if rt.ShapeCount() < 1 {
		t.Errorf("expected a live shape, count = %d", rt.ShapeCount())
	}
	rt.ReleaseObject(o)
	if rt.ObjectCount() != 0 {
		t.Errorf("object count after release = %d", rt.ObjectCount())
	}
	if rt.ShapeCount() != 0 {
		t.Errorf("shape count after release = %d", rt.ShapeCount())
	}
}

func TestCacheStatsHitRate(t *testing.T) {
	s := CacheStats{Hits: 3, Misses: 1}
	if got := s.HitRate(); got != 0.75 {
		t.Errorf("HitRate = %v", got)
	}
	if got := (CacheStats{}).HitRate(); got != 0 {
		t.Errorf("empty HitRate = %v", got)
	}
}
