package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// Screencast
	Frames    *prometheus.CounterVec
	FrameAcks *prometheus.CounterVec

	// Registry
	SessionsActive prometheus.Gauge
	TabsActive     prometheus.Gauge

	// Transfers
	Downloads *prometheus.CounterVec
	Uploads   *prometheus.CounterVec

	// Profile archive operations
	ProfileOps *prometheus.CounterVec
}

// New creates a metrics collector with its own registry so tests can build many
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_browser_frames_total",
			Help: "Screencast frames by outcome",
		}, []string{"outcome"}),
		FrameAcks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_browser_frame_acks_total",
			Help: "Screencast frame acknowledgements by result",
		}, []string{"result"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "remote_browser_sessions_active",
			Help: "Connected sessions",
		}),
		TabsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "remote_browser_tabs_active",
			Help: "Open tabs across all sessions",
		}),
		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_browser_downloads_total",
			Help: "Intercepted attachment downloads by result",
		}, []string{"result"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_browser_uploads_total",
			Help: "Upload attach attempts by result",
		}, []string{"result"}),
		ProfileOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_browser_profile_operations_total",
			Help: "Profile export/import operations by result",
		}, []string{"op", "result"}),
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveAck records one frame acknowledgement
func (m *Metrics) ObserveAck(err error) {
	m.FrameAcks.WithLabelValues(result(err)).Inc()
}

// ObserveFrame records a frame outcome label
func (m *Metrics) ObserveFrame(outcome string) {
	m.Frames.WithLabelValues(outcome).Inc()
}

// ObserveDownload records an interception attempt
func (m *Metrics) ObserveDownload(err error) {
	m.Downloads.WithLabelValues(result(err)).Inc()
}

// ObserveUpload records an upload attach attempt
func (m *Metrics) ObserveUpload(err error) {
	m.Uploads.WithLabelValues(result(err)).Inc()
}

// ObserveProfileOp records an export or import
func (m *Metrics) ObserveProfileOp(op string, err error) {
	m.ProfileOps.WithLabelValues(op, result(err)).Inc()
}
