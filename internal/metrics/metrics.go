// Package metrics keeps in-process counters and histograms and renders
// them in the Prometheus text format.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const namespace = "scriptgen"

// Request latency buckets: 5ms to 10s.
var requestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Task duration buckets: 1s to 30m.
var taskBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}

type requestKey struct {
	endpoint string
	method   string
}

type errorKey struct {
	requestKey
	class int
}

type taskKey struct {
	kind    string
	outcome string
}

// Metrics holds the service's counters, gauges and histograms.
type Metrics struct {
	mu sync.RWMutex

	requests        map[requestKey]*uint64
	requestDuration map[requestKey]*Histogram
	requestErrors   map[errorKey]*uint64
	taskDuration    map[taskKey]*Histogram
	counters        map[string]*uint64

	wsConnections int64
	queueLength   int64

	startTime time.Time
}

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	count   uint64
	sum     float64
	buckets []float64
	counts  []uint64
}

func newHistogram(buckets []float64) *Histogram {
	return &Histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

func New() *Metrics {
	return &Metrics{
		requests:        make(map[requestKey]*uint64),
		requestDuration: make(map[requestKey]*Histogram),
		requestErrors:   make(map[errorKey]*uint64),
		taskDuration:    make(map[taskKey]*Histogram),
		counters:        make(map[string]*uint64),
		startTime:       time.Now(),
	}
}

// counterFor returns the counter stored under k, creating it on first use.
func counterFor[K comparable](m *Metrics, set map[K]*uint64, k K) *uint64 {
	m.mu.RLock()
	c := set[k]
	m.mu.RUnlock()
	if c != nil {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c = set[k]; c == nil {
		c = new(uint64)
		set[k] = c
	}
	return c
}

func histogramFor[K comparable](m *Metrics, set map[K]*Histogram, k K, buckets []float64) *Histogram {
	m.mu.RLock()
	h := set[k]
	m.mu.RUnlock()
	if h != nil {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h = set[k]; h == nil {
		h = newHistogram(buckets)
		set[k] = h
	}
	return h
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := requestKey{endpoint: normalizeEndpoint(path), method: method}
	atomic.AddUint64(counterFor(m, m.requests, key), 1)
	histogramFor(m, m.requestDuration, key, requestBuckets).Observe(duration.Seconds())
	if statusCode >= 400 {
		atomic.AddUint64(counterFor(m, m.requestErrors, errorKey{key, statusCode / 100}), 1)
	}
}

// normalizeEndpoint replaces UUID and numeric path segments with {id}.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if isUUID(part) || isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isUUID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (m *Metrics) IncWSConnections() { atomic.AddInt64(&m.wsConnections, 1) }
func (m *Metrics) DecWSConnections() { atomic.AddInt64(&m.wsConnections, -1) }

// SetQueueLength records how many tasks wait in the work queue.
func (m *Metrics) SetQueueLength(length int64) {
	atomic.StoreInt64(&m.queueLength, length)
}

// ObserveTask records how long a queued task ran and how it ended.
func (m *Metrics) ObserveTask(kind, outcome string, duration time.Duration) {
	histogramFor(m, m.taskDuration, taskKey{kind, outcome}, taskBuckets).Observe(duration.Seconds())
}

// IncCounter increments a named event counter.
func (m *Metrics) IncCounter(name string) {
	atomic.AddUint64(counterFor(m, m.counters, name), 1)
}

// Handler serves the metrics in the Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var b exposition
		m.render(&b)
		w.Write([]byte(b.String()))
	}
}

func (m *Metrics) render(b *exposition) {
	b.family("uptime_seconds", "gauge", "Time since the server started")
	b.sample("uptime_seconds", "", fmt.Sprintf("%f", time.Since(m.startTime).Seconds()))

	b.family("websocket_connections_active", "gauge", "Active WebSocket connections")
	b.sample("websocket_connections_active", "", fmt.Sprint(atomic.LoadInt64(&m.wsConnections)))

	b.family("work_queue_length", "gauge", "Tasks waiting in the work queue")
	b.sample("work_queue_length", "", fmt.Sprint(atomic.LoadInt64(&m.queueLength)))

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.requests) > 0 {
		b.family("http_requests_total", "counter", "Total HTTP requests")
		for _, k := range sortedKeys(m.requests, requestLabels) {
			b.sample("http_requests_total", requestLabels(k), fmt.Sprint(atomic.LoadUint64(m.requests[k])))
		}
	}

	if len(m.requestDuration) > 0 {
		b.family("http_request_duration_seconds", "histogram", "HTTP request latency")
		for _, k := range sortedKeys(m.requestDuration, requestLabels) {
			b.histogram("http_request_duration_seconds", requestLabels(k), m.requestDuration[k])
		}
	}

	if len(m.taskDuration) > 0 {
		b.family("task_duration_seconds", "histogram", "Queued task run time")
		for _, k := range sortedKeys(m.taskDuration, taskLabels) {
			b.histogram("task_duration_seconds", taskLabels(k), m.taskDuration[k])
		}
	}

	if len(m.requestErrors) > 0 {
		b.family("http_errors_total", "counter", "Total HTTP errors by status class")
		for _, k := range sortedKeys(m.requestErrors, errorLabels) {
			b.sample("http_errors_total", errorLabels(k), fmt.Sprint(atomic.LoadUint64(m.requestErrors[k])))
		}
	}

	if len(m.counters) > 0 {
		b.family("counter", "counter", "Job outcome counters")
		for _, name := range sortedKeys(m.counters, nameLabel) {
			b.sample("counter", nameLabel(name), fmt.Sprint(atomic.LoadUint64(m.counters[name])))
		}
	}
}

func requestLabels(k requestKey) string {
	return fmt.Sprintf(`endpoint="%s",method="%s"`, k.endpoint, k.method)
}

func errorLabels(k errorKey) string {
	return fmt.Sprintf(`%s,status_class="%dxx"`, requestLabels(k.requestKey), k.class)
}

func taskLabels(k taskKey) string {
	return fmt.Sprintf(`kind="%s",outcome="%s"`, k.kind, k.outcome)
}

func nameLabel(name string) string {
	return fmt.Sprintf(`name="%s"`, name)
}

// sortedKeys orders map keys by their rendered labels for stable output.
func sortedKeys[K comparable, V any](set map[K]V, label func(K) string) []K {
	keys := make([]K, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return label(keys[i]) < label(keys[j]) })
	return keys
}

// exposition accumulates Prometheus text output.
type exposition struct {
	strings.Builder
	started bool
}

func (b *exposition) family(name, kind, help string) {
	if b.started {
		b.WriteByte('\n')
	}
	b.started = true
	fmt.Fprintf(b, "# HELP %s_%s %s\n# TYPE %s_%s %s\n", namespace, name, help, namespace, name, kind)
}

func (b *exposition) sample(name, labels, value string) {
	if labels == "" {
		fmt.Fprintf(b, "%s_%s %s\n", namespace, name, value)
		return
	}
	fmt.Fprintf(b, "%s_%s{%s} %s\n", namespace, name, labels, value)
}

func (b *exposition) histogram(name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, le := range h.buckets {
		b.sample(name+"_bucket", fmt.Sprintf(`%s,le="%g"`, labels, le), fmt.Sprint(h.counts[i]))
	}
	b.sample(name+"_bucket", labels+`,le="+Inf"`, fmt.Sprint(h.count))
	b.sample(name+"_sum", labels, fmt.Sprintf("%f", h.sum))
	b.sample(name+"_count", labels, fmt.Sprint(h.count))
}

// MetricsMiddleware records every request passing through it.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
