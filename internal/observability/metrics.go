package observability

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// Metrics holds the process-wide counters exposed on /metrics in the
// Prometheus text format. Collection is a no-op unless METRICS_ENABLED is set.
type Metrics struct {
	enabled bool
	log     *logger.Logger

	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	llmRequests *CounterVec
	llmLatency  *HistogramVec

	pipelineRuns  *CounterVec
	pipelineStage *HistogramVec

	memoryLookups *CounterVec
	graphEnrich   *CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Enabled reports whether metric collection is on for this process.
func Enabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("METRICS_ENABLED")))
	if v == "" {
		return false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// Init builds the singleton. Safe to call more than once; later calls return
// the first instance.
func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		m := &Metrics{
			enabled: Enabled(),
			log:     log,
		}
		if m.enabled {
			m.apiRequests = NewCounterVec("cs_api_requests_total", "API requests by method, route and status.", []string{"method", "route", "status"})
			m.apiLatency = NewHistogramVec("cs_api_request_duration_seconds", "API request latency in seconds.", []string{"method", "route"}, nil)
			m.apiInflight = NewGauge("cs_api_inflight_requests", "In-flight API requests.")
			m.llmRequests = NewCounterVec("cs_llm_requests_total", "Upstream model requests by model, endpoint and status.", []string{"model", "endpoint", "status"})
			m.llmLatency = NewHistogramVec("cs_llm_request_duration_seconds", "Upstream model request latency in seconds.", []string{"model", "endpoint"}, []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
			m.pipelineRuns = NewCounterVec("cs_pipeline_runs_total", "Query pipeline runs by outcome.", []string{"outcome"})
			m.pipelineStage = NewHistogramVec("cs_pipeline_stage_duration_seconds", "Query pipeline stage latency in seconds.", []string{"stage"}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
			m.memoryLookups = NewCounterVec("cs_memory_lookups_total", "Memory lookups by result.", []string{"result"})
			m.graphEnrich = NewCounterVec("cs_graph_enrichments_total", "Graph enrichment attempts by outcome.", []string{"outcome"})
			if log != nil {
				log.Info("metrics collection enabled")
			}
		}
		instance = m
	})
	return instance
}

// Current returns the singleton, initializing a disabled instance if Init was
// never called. Callers can use the result unconditionally.
func Current() *Metrics {
	if instance == nil {
		return Init(nil)
	}
	return instance
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflightInc() {
	if m == nil || !m.enabled {
		return
	}
	m.apiInflight.Add(1)
}

func (m *Metrics) APIInflightDec() {
	if m == nil || !m.enabled {
		return
	}
	m.apiInflight.Add(-1)
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.llmRequests.Inc(model, endpoint, status)
	m.llmLatency.Observe(dur.Seconds(), model, endpoint)
}

func (m *Metrics) ObservePipelineRun(outcome string, dur time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.pipelineRuns.Inc(outcome)
	m.pipelineStage.Observe(dur.Seconds(), "total")
}

func (m *Metrics) ObservePipelineStage(stage string, dur time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.pipelineStage.Observe(dur.Seconds(), stage)
}

func (m *Metrics) ObserveMemoryLookup(result string) {
	if m == nil || !m.enabled {
		return
	}
	m.memoryLookups.Inc(result)
}

func (m *Metrics) ObserveGraphEnrichment(outcome string) {
	if m == nil || !m.enabled {
		return
	}
	m.graphEnrich.Inc(outcome)
}

// WritePrometheus renders every registered metric in the text exposition
// format. When collection is disabled it writes nothing.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil || !m.enabled {
		return
	}
	m.apiRequests.WritePrometheus(w)
	m.apiLatency.WritePrometheus(w)
	m.apiInflight.WritePrometheus(w)
	m.llmRequests.WritePrometheus(w)
	m.llmLatency.WritePrometheus(w)
	m.pipelineRuns.WritePrometheus(w)
	m.pipelineStage.WritePrometheus(w)
	m.memoryLookups.WritePrometheus(w)
	m.graphEnrich.WritePrometheus(w)
}

// --- metric primitives ---

type Counter struct {
	name string
	help string
	mu   sync.Mutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) WritePrometheus(w io.Writer) {
	c.mu.Lock()
	v := c.val
	c.mu.Unlock()
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %s\n", c.name, c.help, c.name, c.name, formatFloat(v))
}

type CounterVec struct {
	name   string
	help   string
	labels []string
	mu     sync.Mutex
	vals   map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labels: labels, vals: make(map[string]float64)}
}

func (c *CounterVec) Inc(labelValues ...string) { c.Add(1, labelValues...) }

func (c *CounterVec) Add(v float64, labelValues ...string) {
	key := labelString(c.labels, labelValues)
	c.mu.Lock()
	c.vals[key] += v
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.vals))
	for k := range c.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s} %s\n", c.name, k, formatFloat(c.vals[k]))
	}
	c.mu.Unlock()
}

type Gauge struct {
	name string
	help string
	mu   sync.Mutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.val += v
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) {
	g.mu.Lock()
	v := g.val
	g.mu.Unlock()
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", g.name, g.help, g.name, g.name, formatFloat(v))
}

type histogram struct {
	counts []uint64
	sum    float64
	total  uint64
}

type HistogramVec struct {
	name    string
	help    string
	labels  []string
	buckets []float64
	mu      sync.Mutex
	vals    map[string]*histogram
}

var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &HistogramVec{name: name, help: help, labels: labels, buckets: sorted, vals: make(map[string]*histogram)}
}

func (h *HistogramVec) Observe(v float64, labelValues ...string) {
	key := labelString(h.labels, labelValues)
	h.mu.Lock()
	hist, ok := h.vals[key]
	if !ok {
		hist = &histogram{counts: make([]uint64, len(h.buckets))}
		h.vals[key] = hist
	}
	for i, b := range h.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.total++
	hist.sum += v
	h.mu.Unlock()
}

func (h *HistogramVec) WritePrometheus(w io.Writer) {
	h.mu.Lock()
	keys := make([]string, 0, len(h.vals))
	for k := range h.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	for _, k := range keys {
		hist := h.vals[k]
		for i, b := range h.buckets {
			fmt.Fprintf(w, "%s_bucket{%s} %d\n", h.name, withLe(k, formatFloat(b)), hist.counts[i])
		}
		fmt.Fprintf(w, "%s_bucket{%s} %d\n", h.name, withLe(k, "+Inf"), hist.total)
		fmt.Fprintf(w, "%s_sum{%s} %s\n", h.name, k, formatFloat(hist.sum))
		fmt.Fprintf(w, "%s_count{%s} %d\n", h.name, k, hist.total)
	}
	h.mu.Unlock()
}

func labelString(names, values []string) string {
	n := len(names)
	if len(values) < n {
		n = len(values)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("%s=%q", names[i], escapeLabel(values[i])))
	}
	return strings.Join(parts, ",")
}

func withLe(labels, le string) string {
	if labels == "" {
		return fmt.Sprintf("le=%q", le)
	}
	return labels + fmt.Sprintf(",le=%q", le)
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
