package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FrenchMajesty/ingredient-filter/pkg/jobs"
	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
)

var (
	resolutionsDesc = prometheus.NewDesc(
		"ingredient_resolutions_total",
		"Resolved ingredients by the tier that answered",
		[]string{"tier"},
		nil,
	)
	fallbacksDesc = prometheus.NewDesc(
		"ingredient_classification_fallbacks_total",
		"Classifications that failed and were stored as all-fail",
		nil,
		nil,
	)
	resolveErrorsDesc = prometheus.NewDesc(
		"ingredient_resolution_errors_total",
		"Resolutions that returned an error",
		nil,
		nil,
	)
	cacheHitRateDesc = prometheus.NewDesc(
		"ingredient_cache_hit_ratio",
		"Share of resolutions answered without the classifier",
		nil,
		nil,
	)
	jobsDesc = prometheus.NewDesc(
		"ingredient_jobs",
		"Jobs currently held by the orchestrator, by status",
		[]string{"status"},
		nil,
	)
	queueDepthDesc = prometheus.NewDesc(
		"ingredient_job_queue_depth",
		"Jobs waiting for a worker",
		nil,
		nil,
	)
	rejectedDesc = prometheus.NewDesc(
		"ingredient_jobs_rejected_total",
		"Submissions rejected because the queue was full",
		nil,
		nil,
	)
)

// ResolverSource exposes resolver counters
type ResolverSource interface {
	GetMetrics() resolver.Metrics
}

// JobSource exposes orchestrator counters
type JobSource interface {
	Stats() jobs.Stats
}

// Collector is a custom Prometheus collector that reads resolver and job
// counters on each scrape.
type Collector struct {
	resolver ResolverSource
	jobs     JobSource
}

// NewCollector creates a collector; either source may be nil
func NewCollector(r ResolverSource, j JobSource) *Collector {
	return &Collector{resolver: r, jobs: j}
}

// Describe sends the metric descriptors to the channel.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- resolutionsDesc
	ch <- fallbacksDesc
	ch <- resolveErrorsDesc
	ch <- cacheHitRateDesc
	ch <- jobsDesc
	ch <- queueDepthDesc
	ch <- rejectedDesc
}

// Collect emits the current counters.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.resolver != nil {
		m := c.resolver.GetMetrics()
		ch <- prometheus.MustNewConstMetric(resolutionsDesc, prometheus.CounterValue, float64(m.ExactHits), "exact")
		ch <- prometheus.MustNewConstMetric(resolutionsDesc, prometheus.CounterValue, float64(m.InferredHits), "inferred")
		ch <- prometheus.MustNewConstMetric(resolutionsDesc, prometheus.CounterValue, float64(m.Classified), "classified")
		ch <- prometheus.MustNewConstMetric(fallbacksDesc, prometheus.CounterValue, float64(m.Fallbacks))
		ch <- prometheus.MustNewConstMetric(resolveErrorsDesc, prometheus.CounterValue, float64(m.Errors))
		ch <- prometheus.MustNewConstMetric(cacheHitRateDesc, prometheus.GaugeValue, float64(m.CacheHitRate)/100)
	}

	if c.jobs != nil {
		s := c.jobs.Stats()
		for status, n := range map[jobs.Status]int{
			jobs.StatusPending:   s.Pending,
			jobs.StatusAnalyzing: s.Analyzing,
			jobs.StatusComplete:  s.Complete,
			jobs.StatusError:     s.Error,
		} {
			ch <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(n), string(status))
		}
		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(s.QueueDepth))
		ch <- prometheus.MustNewConstMetric(rejectedDesc, prometheus.CounterValue, float64(s.Rejected))
	}
}

// NewRegistry returns a registry holding the collector plus the Go runtime
// and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
