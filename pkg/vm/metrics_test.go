package vm

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorExposesRuntimeCounters(t *testing.T) {
	rt := New()
	o := newPlainT(t, rt)
	setT(t, rt, o, "x", NumberValue(1))

	c := NewCollector(rt)
	if got := testutil.CollectAndCount(c); got != 7 {
		t.Errorf("collected %d metrics, want 7", got)
	}

	expected := `
# HELP starling_objects_live Live objects
# TYPE starling_objects_live gauge
starling_objects_live 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "starling_objects_live"); err != nil {
		t.Errorf("objects gauge: %v", err)
	}
}

func TestCollectorTracksCacheActivity(t *testing.T) {
	rt := New()
	o := newPlainT(t, rt)
	setT(t, rt, o, "x", NumberValue(7))
	a := internT(t, rt, "x")

	ic := NewInlineCache()
	defer ic.Free(rt)
	site := ic.AddSlot(rt, a)
	rt.GetPropertyIC(o, a, ic, site) // miss
	rt.GetPropertyIC(o, a, ic, site) // hit

	c := NewCollector(rt)
	expected := `
# HELP starling_ic_hits_total Inline cache hits
# TYPE starling_ic_hits_total counter
starling_ic_hits_total 1
# HELP starling_ic_misses_total Inline cache misses
# TYPE starling_ic_misses_total counter
starling_ic_misses_total 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"starling_ic_hits_total", "starling_ic_misses_total")
	if err != nil {
		t.Errorf("cache counters: %v", err)
	}
}
