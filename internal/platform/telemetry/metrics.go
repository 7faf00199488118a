// Package telemetry collects request and booking metrics in memory and serves
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/db"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; cumulative counts are built at
// export time.
type histogram struct {
	mu      sync.Mutex
	buckets []int64
	count   int64
	sum     uint64 // math.Float64bits
}

func newHistogram() *histogram {
	return &histogram{buckets: make([]int64, len(durationBuckets))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range durationBuckets {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		out[i] = running
	}
	return out
}

// Metrics is safe for concurrent use. The zero value is not usable; call New.
type Metrics struct {
	mu        sync.RWMutex
	durations map[string]*histogram // method|route|status
	counters  map[string]*int64     // name|label
	active    int64
}

func New() *Metrics {
	return &Metrics{
		durations: make(map[string]*histogram),
		counters:  make(map[string]*int64),
	}
}

func labelsKey(parts ...string) string { return strings.Join(parts, "|") }

func (m *Metrics) histogramFor(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram()
		m.durations[key] = h
	}
	return h
}

func (m *Metrics) inc(name, label string) {
	key := labelsKey(name, label)
	m.mu.RLock()
	p, ok := m.counters[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if p, ok = m.counters[key]; !ok {
			p = new(int64)
			m.counters[key] = p
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

// Counter returns the current value of a named counter.
func (m *Metrics) Counter(name, label string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.counters[labelsKey(name, label)]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// BookingOutcome counts a booking attempt by result.
func (m *Metrics) BookingOutcome(outcome string) { m.inc("bookings_total", outcome) }

// QueueCall counts a call-next request by result.
func (m *Metrics) QueueCall(result string) { m.inc("queue_calls_total", result) }

// Middleware records request duration keyed by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)
			atomic.AddInt64(&m.active, -1)

			code := c.Response().Status
			if err != nil && !c.Response().Committed {
				code, _ = apperr.Resolve(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.histogramFor(labelsKey(c.Request().Method, route, strconv.Itoa(code))).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves GET /metrics. pool may be nil.
func (m *Metrics) Handler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.writeDurations(&b)

		b.WriteString("# HELP http_server_active_requests Requests currently being served.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		m.writeCounter(&b, "bookings_total", "outcome", "Booking attempts by outcome.")
		m.writeCounter(&b, "queue_calls_total", "result", "Call-next requests by result.")

		if pool != nil {
			stats := db.GetPoolStats(pool)
			for _, g := range []struct {
				name, help string
				val        int32
			}{
				{"db_pool_acquired_connections", "Connections in use.", stats.AcquiredConns},
				{"db_pool_idle_connections", "Idle connections.", stats.IdleConns},
				{"db_pool_max_connections", "Pool size limit.", stats.MaxConns},
			} {
				fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", g.name, g.help, g.name, g.name, g.val)
			}
		}
		return c.String(http.StatusOK, b.String())
	}
}

func (m *Metrics) writeDurations(b *strings.Builder) {
	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	m.mu.RLock()
	keys := make([]string, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		h := m.histogramFor(key)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		for i, le := range h.cumulative() {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, durationBuckets[i], le)
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
		fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
	}
	b.WriteByte('\n')
}

func (m *Metrics) writeCounter(b *strings.Builder, name, label, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)

	m.mu.RLock()
	var lines []string
	for key, p := range m.counters {
		parts := strings.SplitN(key, "|", 2)
		if parts[0] != name {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s{%s=%q} %d", name, label, parts[1], atomic.LoadInt64(p)))
	}
	m.mu.RUnlock()

	sort.Strings(lines)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}
