package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/browserbase-live/internal/proxy"
	"github.com/shehryarbajwa/browserbase-live/internal/ratelimit"
)

// RouteOptions configures the optional parts of the HTTP surface.
type RouteOptions struct {
	// RateLimiter guards the upload, download and /dev endpoints when set.
	RateLimiter *ratelimit.Limiter
	Metrics     http.Handler
	// PublicDir, when set, is served as static files at /.
	PublicDir string
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, opts RouteOptions) *mux.Router {
	r := mux.NewRouter()

	// Liveness and channels are never rate limited.
	r.HandleFunc("/__health", h.Health).Methods("GET")
	r.HandleFunc("/ws", proxyServer.HandleControl).Methods("GET")
	r.HandleFunc("/audio", proxyServer.HandleAudio).Methods("GET")
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods("GET")
	}

	limited := r.PathPrefix("").Subrouter()
	if opts.RateLimiter != nil {
		limited.Use(RateLimitMiddleware(opts.RateLimiter))
	}

	limited.HandleFunc("/upload", h.Upload).Methods("POST", "OPTIONS")
	limited.HandleFunc("/download", h.Download).Methods("GET")

	dev := limited.PathPrefix("/dev").Subrouter()
	dev.HandleFunc("/state", h.DevState).Methods("GET")
	dev.HandleFunc("/export", h.Export).Methods("GET")
	dev.HandleFunc("/import", h.Import).Methods("POST", "OPTIONS")
	dev.HandleFunc("/start-audio", h.StartAudio).Methods("POST")
	dev.HandleFunc("/stop-audio", h.StopAudio).Methods("POST")

	if opts.PublicDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.PublicDir))).Methods("GET")
	}

	r.Use(loggingMiddleware(h.log))
	r.Use(corsMiddleware)

	return r
}
