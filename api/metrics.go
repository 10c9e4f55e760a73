package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const slowRequestThreshold = 1 * time.Second

// RouteStats aggregates request metrics for a single route.
type RouteStats struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MinTime     time.Duration `json:"minTime"`
	MaxTime     time.Duration `json:"maxTime"`
	LastRequest time.Time     `json:"lastRequest"`
}

// MetricsSnapshot is the admin metrics endpoint payload.
type MetricsSnapshot struct {
	StartedAt     time.Time    `json:"startedAt"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
	TotalRequests int64        `json:"totalRequests"`
	TotalErrors   int64        `json:"totalErrors"`
	Routes        []RouteStats `json:"routes"`
}

// MetricsCollector aggregates per-route request metrics in memory. Metrics
// are best effort; losing them must never slow down a request.
type MetricsCollector struct {
	mu        sync.RWMutex
	routes    map[string]*RouteStats
	startedAt time.Time

	totalRequests int64
	totalErrors   int64
}

var (
	globalMetrics     *MetricsCollector
	globalMetricsOnce sync.Once
)

// GetMetrics returns the process-wide metrics collector.
func GetMetrics() *MetricsCollector {
	globalMetricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			routes:    make(map[string]*RouteStats),
			startedAt: time.Now(),
		}
	})
	return globalMetrics
}

// Record folds one finished request into the per-route aggregates.
func (mc *MetricsCollector) Record(method, path string, status int, duration time.Duration) {
	normalized := normalizeRoutePath(path)
	key := method + " " + normalized

	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats, ok := mc.routes[key]
	if !ok {
		stats = &RouteStats{
			Method:  method,
			Path:    normalized,
			MinTime: duration,
		}
		mc.routes[key] = stats
	}

	stats.Count++
	stats.TotalTime += duration
	stats.AvgTime = stats.TotalTime / time.Duration(stats.Count)
	stats.LastRequest = time.Now()
	if duration < stats.MinTime {
		stats.MinTime = duration
	}
	if duration > stats.MaxTime {
		stats.MaxTime = duration
	}

	mc.totalRequests++
	if status >= 400 {
		stats.ErrorCount++
		mc.totalErrors++
	}
}

// Snapshot copies the current aggregates, busiest routes first.
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	routes := make([]RouteStats, 0, len(mc.routes))
	for _, stats := range mc.routes {
		routes = append(routes, *stats)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Count > routes[j].Count })

	return MetricsSnapshot{
		StartedAt:     mc.startedAt,
		UptimeSeconds: int64(time.Since(mc.startedAt).Seconds()),
		TotalRequests: mc.totalRequests,
		TotalErrors:   mc.totalErrors,
		Routes:        routes,
	}
}

// the segments after /user/ and /user/code/ carry identifiers, not route
// structure; collapse them so one route does not fan out into thousands of
// aggregates
var userSegment = regexp.MustCompile(`/user/(code/)?[^/]+`)

func normalizeRoutePath(path string) string {
	return userSegment.ReplaceAllStringFunc(path, func(m string) string {
		if strings.HasPrefix(m, "/user/code/") {
			return "/user/code/{code}"
		}
		return "/user/{id}"
	})
}

// MetricsMiddleware records timing and status for every request.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		// the metrics route, the healthcheck and the long-lived websocket
		// would only pollute the aggregates
		if path == "/health" || path == "/ws/stats" || path == "/api/v1/admin/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		GetMetrics().Record(r.Method, path, wrapped.statusCode, duration)

		if duration > slowRequestThreshold {
			zap.S().Warnw("slow request",
				"method", r.Method,
				"path", path,
				"duration", duration,
				"status", wrapped.statusCode,
			)
		}
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code. It
// implements http.Hijacker so websocket upgrades still work through it.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}
