package vm

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a runtime's cache and heap statistics as Prometheus
// metrics. Collect reads counters without synchronization, which is fine for
// scraping an embedder that drives the runtime from one goroutine; values
// may be momentarily torn, never wrong cumulatively.
type Collector struct {
	rt *Runtime

	hits    *prometheus.Desc
	misses  *prometheus.Desc
	shapes  *prometheus.Desc
	objects *prometheus.Desc
	atoms   *prometheus.Desc
	deopts  *prometheus.Desc
	memory  *prometheus.Desc
}

// NewCollector creates a prometheus.Collector over rt.
func NewCollector(rt *Runtime) *Collector {
	return &Collector{
		rt:      rt,
		hits:    prometheus.NewDesc("starling_ic_hits_total", "Inline cache hits", nil, nil),
		misses:  prometheus.NewDesc("starling_ic_misses_total", "Inline cache misses", nil, nil),
		shapes:  prometheus.NewDesc("starling_shapes_live", "Live shapes", nil, nil),
		objects: prometheus.NewDesc("starling_objects_live", "Live objects", nil, nil),
		atoms:   prometheus.NewDesc("starling_atoms_live", "Live interned atoms", nil, nil),
		deopts:  prometheus.NewDesc("starling_fast_array_deopts_total", "Fast arrays degraded to shaped storage", nil, nil),
		memory:  prometheus.NewDesc("starling_memory_used_bytes", "Accounted memory usage", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.shapes
	ch <- c.objects
	ch <- c.atoms
	ch <- c.deopts
	ch <- c.memory
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.rt.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.shapes, prometheus.GaugeValue, float64(c.rt.ShapeCount()))
	ch <- prometheus.MustNewConstMetric(c.objects, prometheus.GaugeValue, float64(c.rt.ObjectCount()))
	ch <- prometheus.MustNewConstMetric(c.atoms, prometheus.GaugeValue, float64(c.rt.Atoms().Count()))
	ch <- prometheus.MustNewConstMetric(c.deopts, prometheus.CounterValue, float64(c.rt.DeoptCount()))
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(c.rt.MemoryUsed()))
}
