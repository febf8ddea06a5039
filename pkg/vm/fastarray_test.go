package vm

import (
	"errors"
	"testing"
)

func newArrayT(t *testing.T, rt *Runtime, elems ...Value) *Object {
	t.Helper()
	o, err := rt.NewArray(nil, elems...)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	return o
}

func TestFastArrayBasics(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1), NumberValue(2), NumberValue(3))
	if !a.IsFastArray() {
		t.Fatalf("fresh array must be fast")
	}
	if rt.Length(a) != 3 {
		t.Errorf("length = %d", rt.Length(a))
	}
	v, err := rt.GetElement(a, 1)
	if err != nil || v.AsNumber() != 2 {
		t.Errorf("GetElement(1) = %v, %v", v, err)
	}
	if v, _ := rt.GetElement(a, 99); !v.IsAbsent() {
		t.Errorf("out-of-range read must be Absent, got %v", v)
	}
	// Index access through the generic property path also stays dense.
	one := internT(t, rt, "1")
	if v := rt.GetProperty(a, one); v.AsNumber() != 2 {
		t.Errorf("property path read %v", v)
	}
	if err := rt.SetProperty(a, one, NumberValue(20)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := rt.GetElement(a, 1); v.AsNumber() != 20 {
		t.Errorf("in-range write did not land: %v", v)
	}
	if !a.IsFastArray() {
		t.Errorf("in-range index write must not degrade")
	}
}

func TestPushStaysFast(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1), NumberValue(2), NumberValue(3))
	if err := rt.Push(a, NumberValue(4)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !a.IsFastArray() {
		t.Errorf("push must never degrade a fast array")
	}
	if rt.Length(a) != 4 {
		t.Errorf("length after push = %d", rt.Length(a))
	}
	for i := 0; i < 1000; i++ {
		if err := rt.Push(a, NumberValue(float64(i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if !a.IsFastArray() || rt.Length(a) != 1004 {
		t.Errorf("amortized append broke: fast=%v len=%d", a.IsFastArray(), rt.Length(a))
	}
}

func TestNamedPropertyDegrades(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1), NumberValue(2), NumberValue(3))
	setT(t, rt, a, "x", NumberValue(1))
	if a.IsFastArray() {
		t.Fatalf("named property must degrade the array")
	}
	// Elements survive the migration, in order, still reachable both ways.
	for i := uint32(0); i < 3; i++ {
		v, err := rt.GetElement(a, i)
		if err != nil || v.AsNumber() != float64(i+1) {
			t.Errorf("element %d after degrade: %v, %v", i, v, err)
		}
	}
	keys := rt.OwnKeys(a)
	want := []string{"0", "1", "2", "x"}
	for i := range want {
		if i >= len(keys) || keys[i] != want[i] {
			t.Fatalf("keys after degrade = %v, want %v", keys, want)
		}
	}
	if rt.Length(a) != 3 {
		t.Errorf("length after degrade = %d", rt.Length(a))
	}
}

func TestHoleWriteDegrades(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1))
	if err := rt.SetElement(a, 5, NumberValue(9)); err != nil {
		t.Fatalf("hole write: %v", err)
	}
	if a.IsFastArray() {
		t.Errorf("write past length must degrade")
	}
	if v, _ := rt.GetElement(a, 5); v.AsNumber() != 9 {
		t.Errorf("sparse element lost: %v", v)
	}
	if v, _ := rt.GetElement(a, 0); v.AsNumber() != 1 {
		t.Errorf("dense element lost: %v", v)
	}
	if v, _ := rt.GetElement(a, 3); !v.IsAbsent() {
		t.Errorf("hole must read Absent, got %v", v)
	}
}

func TestAccessorDegrades(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1))
	err := rt.DefineAccessor(a, internT(t, rt, "first"), Undefined, Undefined, FlagEnumerable)
	if err != nil {
		t.Fatalf("define accessor: %v", err)
	}
	if a.IsFastArray() {
		t.Errorf("accessor install must degrade")
	}
}

func TestDegradeIsPermanent(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1), NumberValue(2))
	setT(t, rt, a, "x", NumberValue(1))
	if a.IsFastArray() {
		t.Fatalf("precondition")
	}
	// Removing the offending property must not re-enable fast mode.
	if ok, _ := rt.DeleteProperty(a, internT(t, rt, "x")); !ok {
		t.Fatalf("delete failed")
	}
	if a.IsFastArray() {
		t.Errorf("degradation must be one-directional")
	}
}

func TestInteriorDeleteDegrades(t *testing.T) {
	rt := New()
	a := newArrayT(t, rt, NumberValue(1), NumberValue(2), NumberValue(3))
	// Trailing delete shrinks and stays fast.
	if ok, err := rt.DeleteProperty(a, internT(t, rt, "2")); !ok || err != nil {
		t.Fatalf("trailing delete: ok=%v err=%v", ok, err)
	}
	if !a.IsFastArray() || rt.Length(a) != 2 {
		t.Errorf("trailing delete: fast=%v len=%d", a.IsFastArray(), rt.Length(a))
	}
	// Interior delete would leave a hole.
	if ok, err := rt.DeleteProperty(a, internT(t, rt, "0")); !ok || err != nil {
		t.Fatalf("interior delete: ok=%v err=%v", ok, err)
	}
	if a.IsFastArray() {
		t.Errorf("interior delete must degrade")
	}
	if v, _ := rt.GetElement(a, 0); !v.IsAbsent() {
		t.Errorf("deleted element still present: %v", v)
	}
	if v, _ := rt.GetElement(a, 1); v.AsNumber() != 2 {
		t.Errorf("surviving element lost: %v", v)
	}
}

func TestDegradeOOMLeavesArrayIntact(t *testing.T) {
	// Sweep the budget headroom so the migration fails at every stage: the
	// up-front slot charge, a mid-loop shape clone, a mid-loop atom intern.
	// Whenever the named-property set errors, the array must be exactly as
	// dense as before; with enough headroom it must degrade completely.
	var sawFail, sawOK bool
	for extra := int64(0); extra <= 4000; extra += 100 {
		rt := New()
		a := newArrayT(t, rt)
		for i := 0; i < 16; i++ {
			if err := rt.Push(a, NumberValue(float64(i))); err != nil {
				t.Fatalf("push %d: %v", i, err)
			}
		}
		x := internT(t, rt, "x")
		rt.SetMemoryLimit(rt.MemoryUsed() + extra)
		err := rt.SetProperty(a, x, NumberValue(1))
		rt.SetMemoryLimit(0)
		if err != nil {
			sawFail = true
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("headroom %d: unexpected error kind: %v", extra, err)
			}
			// The object must be in exactly one of two consistent states:
			// still fully dense (migration aborted cleanly), or fully
			// migrated with every index key present once (only the named
			// append failed). Never a half-converted hybrid.
			if a.IsFastArray() {
				if got := a.Shape().PropCount(); got != 0 {
					t.Errorf("headroom %d: partial migration left %d shape props", extra, got)
				}
			} else if got := a.Shape().PropCount(); got != 16 {
				t.Errorf("headroom %d: migrated shape has %d props, want 16", extra, got)
			}
			if rt.Length(a) != 16 {
				t.Errorf("headroom %d: length = %d", extra, rt.Length(a))
			}
			keys := rt.OwnKeys(a)
			if len(keys) != 16 {
				t.Errorf("headroom %d: keys after failed set = %v", extra, keys)
			}
			seen := make(map[string]bool)
			for _, k := range keys {
				if seen[k] {
					t.Errorf("headroom %d: duplicate key %q in %v", extra, k, keys)
				}
				seen[k] = true
			}
			for i := uint32(0); i < 16; i++ {
				if v, _ := rt.GetElement(a, i); v.AsNumber() != float64(i) {
					t.Errorf("headroom %d: element %d = %v", extra, i, v)
				}
			}
		} else {
			sawOK = true
			if a.IsFastArray() {
				t.Errorf("headroom %d: named set did not degrade", extra)
			}
			if v := rt.GetProperty(a, x); v.AsNumber() != 1 {
				t.Errorf("headroom %d: named property = %v", extra, v)
			}
			if keys := rt.OwnKeys(a); len(keys) != 17 {
				t.Errorf("headroom %d: keys after degrade = %v", extra, keys)
			}
		}
	}
	if !sawFail || !sawOK {
		t.Fatalf("sweep did not cover both outcomes: fail=%v ok=%v", sawFail, sawOK)
	}
}

func TestSharedShapesAfterDegrade(t *testing.T) {
	rt := New()
	a1 := newArrayT(t, rt, NumberValue(1), NumberValue(2))
	a2 := newArrayT(t, rt, NumberValue(3), NumberValue(4))
	setT(t, rt, a1, "x", NumberValue(0))
	setT(t, rt, a2, "x", NumberValue(0))
	// Identical migration histories land on the identical shape.
	if a1.Shape() != a2.Shape() {
		t.Errorf("degraded arrays with equal histories should share a shape")
	}
}
