// Package telemetry records HTTP and scheduling metrics in memory and serves
// them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultDurationBuckets are request latency boundaries in seconds.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
	// Above every boundary: only +Inf sees it.
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns cumulative bucket counts for Prometheus export.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

type series struct {
	name   string
	labels string // rendered {k="v",...}, empty for none
}

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	mu         sync.RWMutex
	counters   map[series]*int64
	gauges     map[series]*int64
	histograms map[series]*histogram
	help       map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[series]*int64),
		gauges:     make(map[series]*int64),
		histograms: make(map[series]*histogram),
		help:       make(map[string]string),
	}
}

// Describe sets the HELP text printed for a metric name.
func (r *Registry) Describe(name, help string) {
	r.mu.Lock()
	r.help[name] = help
	r.mu.Unlock()
}

// Inc adds one to the counter name{labels}.
func (r *Registry) Inc(name string, labels map[string]string) {
	atomic.AddInt64(r.cell(r.counters, series{name, renderLabels(labels)}), 1)
}

// Counter returns the current value of name{labels}.
func (r *Registry) Counter(name string, labels map[string]string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.counters[series{name, renderLabels(labels)}]; ok {
		return atomic.LoadInt64(v)
	}
	return 0
}

// AddGauge moves the gauge name{labels} by delta.
func (r *Registry) AddGauge(name string, labels map[string]string, delta int64) {
	atomic.AddInt64(r.cell(r.gauges, series{name, renderLabels(labels)}), delta)
}

func (r *Registry) Gauge(name string, labels map[string]string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.gauges[series{name, renderLabels(labels)}]; ok {
		return atomic.LoadInt64(v)
	}
	return 0
}

// Observe records v in the histogram name{labels}.
func (r *Registry) Observe(name string, labels map[string]string, v float64) {
	key := series{name, renderLabels(labels)}
	r.mu.RLock()
	h, ok := r.histograms[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if h, ok = r.histograms[key]; !ok {
			h = newHistogram(defaultDurationBuckets)
			r.histograms[key] = h
		}
		r.mu.Unlock()
	}
	h.Observe(v)
}

func (r *Registry) cell(m map[series]*int64, key series) *int64 {
	r.mu.RLock()
	v, ok := m[key]
	r.mu.RUnlock()
	if ok {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok = m[key]; !ok {
		v = new(int64)
		m[key] = v
	}
	return v
}

func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.Quote(labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records request counts, latency and in-flight requests
// labelled by method, route pattern and status.
func (r *Registry) MetricsMiddleware() echo.MiddlewareFunc {
	r.Describe("http_requests_total", "Total HTTP requests.")
	r.Describe("http_request_duration_seconds", "HTTP request latency.")
	r.Describe("http_requests_in_flight", "Requests currently being served.")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r.AddGauge("http_requests_in_flight", nil, 1)
			start := time.Now()

			err := next(c)

			r.AddGauge("http_requests_in_flight", nil, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			// Use route pattern, not actual path.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := map[string]string{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			r.Inc("http_requests_total", labels)
			r.Observe("http_request_duration_seconds", map[string]string{"method": labels["method"], "route": route}, time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// PrometheusHandler serves every metric in the text exposition format.
func (r *Registry) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(r.Expose()))
	}
}

// Expose renders the registry. Series are sorted so output is stable.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	r.writeScalars(&b, r.counters, "counter")
	r.writeScalars(&b, r.gauges, "gauge")

	keys := sortedKeys(r.histograms)
	last := ""
	for _, k := range keys {
		if k.name != last {
			r.writeHeader(&b, k.name, "histogram")
			last = k.name
		}
		h := r.histograms[k]
		cum := h.cumulativeBuckets()
		for i, bound := range h.boundaries {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", k.name, withLabel(k.labels, "le", strconv.FormatFloat(bound, 'g', -1, 64)), cum[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", k.name, withLabel(k.labels, "le", "+Inf"), h.Count())
		fmt.Fprintf(&b, "%s_sum%s %g\n", k.name, k.labels, h.Sum())
		fmt.Fprintf(&b, "%s_count%s %d\n", k.name, k.labels, h.Count())
	}
	return b.String()
}

func (r *Registry) writeScalars(b *strings.Builder, m map[series]*int64, typ string) {
	last := ""
	for _, k := range sortedKeys(m) {
		if k.name != last {
			r.writeHeader(b, k.name, typ)
			last = k.name
		}
		fmt.Fprintf(b, "%s%s %d\n", k.name, k.labels, atomic.LoadInt64(m[k]))
	}
}

func (r *Registry) writeHeader(b *strings.Builder, name, typ string) {
	if help, ok := r.help[name]; ok {
		fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

// withLabel appends k="v" to an already rendered label set.
func withLabel(rendered, k, v string) string {
	pair := k + "=" + strconv.Quote(v)
	if rendered == "" {
		return "{" + pair + "}"
	}
	return rendered[:len(rendered)-1] + "," + pair + "}"
}

func sortedKeys[V any](m map[series]V) []series {
	keys := make([]series, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].labels < keys[j].labels
	})
	return keys
}
