// Command starling runs synthetic property-access workloads against the
// object runtime and reports inline-cache behavior. It exists to exercise the
// runtime end to end and to produce heap snapshots for inspection.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"

	"starling/pkg/snapshot"
	"starling/pkg/vm"

	_ "github.com/tliron/commonlog/simple"
)

var (
	workload     = pflag.String("workload", "all", "Workload to run: mono, poly, mega, array, all")
	objects      = pflag.Int("objects", 1000, "Number of objects per workload")
	iterations   = pflag.Int("iterations", 100, "Access passes over the object set")
	memLimit     = pflag.Int64("memory-limit", 0, "Runtime memory limit in bytes (0 = unlimited)")
	cacheStats   = pflag.Bool("cache-stats", false, "Show inline cache statistics after execution")
	snapshotPath = pflag.String("snapshot", "", "Write a CBOR heap snapshot to this file")
	metricsAddr  = pflag.String("metrics-addr", "", "Serve Prometheus metrics on this address and block (e.g. :9090)")
	verbosity    = pflag.IntP("verbose", "v", 0, "Log verbosity (0 = notice, 1 = info, 2 = debug)")
)

func main() {
	pflag.Parse()

	commonlog.Configure(*verbosity, nil)

	var opts []vm.Option
	if *memLimit > 0 {
		opts = append(opts, vm.WithMemoryLimit(*memLimit))
	}
	rt := vm.New(opts...)

	var roots []*vm.Object
	run := func(name string, fn func(*vm.Runtime, int, int) (*vm.Object, error)) {
		if *workload != "all" && *workload != name {
			return
		}
		root, err := fn(rt, *objects, *iterations)
		if err != nil {
			fmt.Fprintf(os.Stderr, "workload %s: %s\n", name, err)
			os.Exit(70)
		}
		if root != nil {
			roots = append(roots, root)
		}
	}
	run("mono", runMonomorphic)
	run("poly", runPolymorphic)
	run("mega", runMegamorphic)
	run("array", runFastArray)

	if *cacheStats {
		printCacheStats(rt)
	}

	if *snapshotPath != "" {
		if err := writeSnapshot(rt, roots, *snapshotPath); err != nil {
			fmt.Fprintf(os.Stderr, "snapshot: %s\n", err)
			os.Exit(70)
		}
		fmt.Printf("Snapshot written to %s\n", *snapshotPath)
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(vm.NewCollector(rt))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		fmt.Printf("Serving metrics on %s/metrics\n", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server: %s\n", err)
			os.Exit(70)
		}
	}
}

// runMonomorphic builds objects that all share one shape, so a single cache
// entry serves every access.
func runMonomorphic(rt *vm.Runtime, count, iters int) (*vm.Object, error) {
	x, err := rt.InternAtom("x")
	if err != nil {
		return nil, err
	}
	objs := make([]*vm.Object, count)
	for i := range objs {
		o, err := rt.NewPlainObject(nil)
		if err != nil {
			return nil, err
		}
		if err := rt.SetProperty(o, x, vm.NumberValue(float64(i))); err != nil {
			return nil, err
		}
		objs[i] = o
	}

	ic := vm.NewInlineCache()
	defer ic.Free(rt)
	site := ic.AddSlot(rt, x)
	var sum float64
	for it := 0; it < iters; it++ {
		for _, o := range objs {
			sum += rt.GetPropertyIC(o, x, ic, site).AsNumber()
		}
	}
	fmt.Printf("mono:  %d objects, %d passes, checksum %.0f\n", count, iters, sum)
	return objs[0], nil
}

// runPolymorphic cycles objects through four distinct shapes, which the
// four-entry ring still covers completely.
func runPolymorphic(rt *vm.Runtime, count, iters int) (*vm.Object, error) {
	x, err := rt.InternAtom("x")
	if err != nil {
		return nil, err
	}
	padding := []string{"a", "b", "c", "d"}
	objs := make([]*vm.Object, count)
	for i := range objs {
		o, err := rt.NewPlainObject(nil)
		if err != nil {
			return nil, err
		}
		// Pre-pad with a distinct property so the shape of x differs.
		pad, err := rt.InternAtom(padding[i%len(padding)])
		if err != nil {
			return nil, err
		}
		if err := rt.SetProperty(o, pad, vm.NumberValue(0)); err != nil {
			return nil, err
		}
		if err := rt.SetProperty(o, x, vm.NumberValue(float64(i))); err != nil {
			return nil, err
		}
		objs[i] = o
	}

	ic := vm.NewInlineCache()
	defer ic.Free(rt)
	site := ic.AddSlot(rt, x)
	var sum float64
	for it := 0; it < iters; it++ {
		for _, o := range objs {
			sum += rt.GetPropertyIC(o, x, ic, site).AsNumber()
		}
	}
	fmt.Printf("poly:  %d objects, %d shapes, %d passes, checksum %.0f\n",
		count, len(padding), iters, sum)
	return objs[0], nil
}

// runMegamorphic gives every object its own shape, overflowing the ring so
// the site degrades to full lookups.
func runMegamorphic(rt *vm.Runtime, count, iters int) (*vm.Object, error) {
	x, err := rt.InternAtom("x")
	if err != nil {
		return nil, err
	}
	objs := make([]*vm.Object, count)
	for i := range objs {
		o, err := rt.NewPlainObject(nil)
		if err != nil {
			return nil, err
		}
		pad, err := rt.InternAtom(fmt.Sprintf("p%d", i))
		if err != nil {
			return nil, err
		}
		if err := rt.SetProperty(o, pad, vm.NumberValue(0)); err != nil {
			return nil, err
		}
		if err := rt.SetProperty(o, x, vm.NumberValue(float64(i))); err != nil {
			return nil, err
		}
		objs[i] = o
	}

	ic := vm.NewInlineCache()
	defer ic.Free(rt)
	site := ic.AddSlot(rt, x)
	var sum float64
	for it := 0; it < iters; it++ {
		for _, o := range objs {
			sum += rt.GetPropertyIC(o, x, ic, site).AsNumber()
		}
	}
	fmt.Printf("mega:  %d objects, %d shapes, %d passes, checksum %.0f\n",
		count, count, iters, sum)
	return objs[0], nil
}

// runFastArray pushes through the dense path, then forces one degradation by
// adding a named property.
func runFastArray(rt *vm.Runtime, count, iters int) (*vm.Object, error) {
	arr, err := rt.NewArray(nil)
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		if err := rt.Push(arr, vm.NumberValue(float64(i))); err != nil {
			return nil, err
		}
	}
	var sum float64
	for it := 0; it < iters; it++ {
		for i := 0; i < rt.Length(arr); i++ {
			v, err := rt.GetElement(arr, uint32(i))
			if err != nil {
				return nil, err
			}
			sum += v.AsNumber()
		}
	}

	tag, err := rt.InternAtom("tag")
	if err != nil {
		return nil, err
	}
	if err := rt.SetProperty(arr, tag, vm.StringValue("degraded")); err != nil {
		return nil, err
	}
	fmt.Printf("array: %d elements, %d passes, fast=%v after named write, checksum %.0f\n",
		count, iters, arr.IsFastArray(), sum)
	return arr, nil
}

func printCacheStats(rt *vm.Runtime) {
	s := rt.Stats()
	fmt.Println("--- Inline Cache Stats ---")
	fmt.Printf("Hits:        %d (mono %d, poly %d)\n", s.Hits, s.MonomorphicHits, s.PolymorphicHits)
	fmt.Printf("Misses:      %d\n", s.Misses)
	fmt.Printf("Hit rate:    %.1f%%\n", s.HitRate()*100)
	fmt.Printf("Shapes:      %d live\n", rt.ShapeCount())
	fmt.Printf("Objects:     %d live\n", rt.ObjectCount())
	fmt.Printf("Deopts:      %d\n", rt.DeoptCount())
	fmt.Printf("Memory:      %d bytes\n", rt.MemoryUsed())
}

func writeSnapshot(rt *vm.Runtime, roots []*vm.Object, path string) error {
	h, err := snapshot.Capture(rt, roots...)
	if err != nil {
		return err
	}
	data, err := snapshot.Marshal(h)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
