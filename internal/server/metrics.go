package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/loop"
	"github.com/conneroisu/asyncview/internal/registry"
	"github.com/conneroisu/asyncview/internal/websocket"
)

const namespace = "asyncview"

// viewCollector reads view, loop, hub and error state at scrape time.
type viewCollector struct {
	registry  *registry.ViewRegistry
	loop      *loop.Loop
	hub       *websocket.Hub
	collector *errors.ErrorCollector

	views     *prometheus.Desc
	state     *prometheus.Desc
	emissions *prometheus.Desc
	binds     *prometheus.Desc
	dropped   *prometheus.Desc
	clients   *prometheus.Desc
	sent      *prometheus.Desc
	discarded *prometheus.Desc
	surfaced  *prometheus.Desc
	tasks     *prometheus.Desc
	pending   *prometheus.Desc
}

func newViewCollector(reg *registry.ViewRegistry, lp *loop.Loop, hub *websocket.Hub, ec *errors.ErrorCollector) *viewCollector {
	return &viewCollector{
		registry:  reg,
		loop:      lp,
		hub:       hub,
		collector: ec,
		views:     prometheus.NewDesc(namespace+"_views", "Number of registered views.", nil, nil),
		state: prometheus.NewDesc(namespace+"_view_state", "Lifecycle state of each view (1 for the current state).",
			[]string{"view", "source", "state"}, nil),
		emissions: prometheus.NewDesc(namespace+"_view_emissions_total", "Values projected onto each view.",
			[]string{"view"}, nil),
		binds: prometheus.NewDesc(namespace+"_view_binds_total", "Producers bound to each view.",
			[]string{"view"}, nil),
		dropped: prometheus.NewDesc(namespace+"_view_dropped_callbacks_total", "Callbacks from released producers that were ignored.",
			[]string{"view"}, nil),
		clients:   prometheus.NewDesc(namespace+"_websocket_clients", "Connected websocket clients.", nil, nil),
		sent:      prometheus.NewDesc(namespace+"_websocket_messages_sent_total", "Messages queued to websocket clients.", nil, nil),
		discarded: prometheus.NewDesc(namespace+"_websocket_messages_dropped_total", "Messages dropped for slow clients or a full hub.", nil, nil),
		surfaced:  prometheus.NewDesc(namespace+"_surfaced_errors", "Producer failures currently held by the error collector.", nil, nil),
		tasks:     prometheus.NewDesc(namespace+"_loop_tasks_total", "Producer callbacks run on the event loop.", nil, nil),
		pending:   prometheus.NewDesc(namespace+"_loop_pending_tasks", "Producer callbacks waiting for the event loop.", nil, nil),
	}
}

func (c *viewCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.views, c.state, c.emissions, c.binds, c.dropped, c.clients, c.sent, c.discarded, c.surfaced, c.tasks, c.pending} {
		ch <- d
	}
}

func (c *viewCollector) Collect(ch chan<- prometheus.Metric) {
	infos := c.registry.Infos()
	ch <- prometheus.MustNewConstMetric(c.views, prometheus.GaugeValue, float64(len(infos)))
	for _, info := range infos {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, 1, info.Name, info.Source, info.State.String())
		ch <- prometheus.MustNewConstMetric(c.emissions, prometheus.CounterValue, float64(info.Stats.Emissions), info.Name)
		ch <- prometheus.MustNewConstMetric(c.binds, prometheus.CounterValue, float64(info.Stats.Binds), info.Name)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(info.Stats.Dropped), info.Name)
	}

	sent, dropped := c.hub.Stats()
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(c.hub.ConnectedClients()))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(sent))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(dropped))
	ch <- prometheus.MustNewConstMetric(c.surfaced, prometheus.GaugeValue, float64(len(c.collector.GetErrors())))
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(c.loop.Executed()))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.loop.Pending()))
}

// metrics owns a private registry so several servers can coexist in one
// process (tests do this).
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.HistogramVec
}

func newMetrics(views *viewCollector) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		views,
		m.requests,
	)
	return m
}

// observe records request latency labelled with the matched chi route.
func (m *metrics) observe(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	if status == 0 {
		// Hijacked (websocket) or nothing written.
		status = http.StatusSwitchingProtocols
	}
	m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// instrument logs and measures every request. The wrapped writer keeps
// http.Hijacker so websocket upgrades pass through.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.metrics.observe(r, ww.Status(), elapsed)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", elapsed)
	})
}
