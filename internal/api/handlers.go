package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/download"
	"github.com/shehryarbajwa/browserbase-live/internal/profile"
	"github.com/shehryarbajwa/browserbase-live/internal/session"
	"github.com/shehryarbajwa/browserbase-live/internal/state"
	"github.com/shehryarbajwa/browserbase-live/internal/upload"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

const maxUploadMemory = 32 << 20

// ProcessInfo describes the automation process for diagnostics.
type ProcessInfo interface {
	Executable() string
	Running() bool
	Uptime() time.Duration
}

// AudioControl starts and stops the audio capture source.
type AudioControl interface {
	Start() error
	Stop()
	Available() bool
}

// AudioClients counts subscribers of the audio channel.
type AudioClients interface {
	Subscribers() int
}

// Info is static server metadata reported by the diagnostics endpoints.
type Info struct {
	Port       int
	ProfileDir string
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessions  *session.Manager
	process   ProcessInfo
	uploads   *upload.Store
	downloads *download.Store
	profiles  *profile.Engine
	audio     AudioControl
	listeners AudioClients
	state     *state.Store
	info      Info
	started   time.Time
	log       *zap.Logger
}

// Deps groups the collaborators a Handler serves.
type Deps struct {
	Sessions  *session.Manager
	Process   ProcessInfo
	Uploads   *upload.Store
	Downloads *download.Store
	Profiles  *profile.Engine
	Audio     AudioControl
	Listeners AudioClients
	State     *state.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps, info Info, log *zap.Logger) *Handler {
	return &Handler{
		sessions:  d.Sessions,
		process:   d.Process,
		uploads:   d.Uploads,
		downloads: d.Downloads,
		profiles:  d.Profiles,
		audio:     d.Audio,
		listeners: d.Listeners,
		state:     d.State,
		info:      info,
		started:   time.Now(),
		log:       log.Named("http"),
	}
}

type result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, result{OK: false, Message: message})
}

// Health handles GET /__health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.process.Running() {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"pid":         os.Getpid(),
		"chrome":      h.process.Executable(),
		"userDataDir": h.info.ProfileDir,
	})
}

// Upload handles POST /upload. The file is attached to the focused file
// input of the named tab, else its first file input.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondFailure(w, http.StatusBadRequest, "no file")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondFailure(w, http.StatusBadRequest, "no file")
		return
	}
	defer file.Close()

	connID, tabID := r.FormValue("connId"), r.FormValue("tabId")
	if connID == "" || tabID == "" {
		respondFailure(w, http.StatusBadRequest, "missing connId or tabId")
		return
	}
	sess, err := h.sessions.GetSession(connID)
	if err != nil {
		respondFailure(w, http.StatusNotFound, err.Error())
		return
	}
	tab, err := sess.Tab(tabID)
	if err != nil {
		respondFailure(w, http.StatusNotFound, err.Error())
		return
	}

	path, err := h.uploads.Save(header.Filename, file)
	if err != nil {
		h.log.Error("upload save failed", zap.Error(err))
		respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.uploads.Attach(r.Context(), tab.Page(), path); err != nil {
		os.Remove(path)
		if errors.Is(err, upload.ErrNoFileInput) {
			respondFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result{OK: true})
}

// Download handles GET /download?token=...
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	f, t, err := h.downloads.Open(token)
	switch {
	case errors.Is(err, download.ErrTokenNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, download.ErrFileMissing):
		http.Error(w, "file missing", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("download open failed", zap.String("token", token), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", t.MIME)
	w.Header().Set("Content-Disposition", download.ContentDisposition(t.Filename))
	http.ServeContent(w, r, t.Filename, t.CreatedAt, f)
}

type memoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

type devStats struct {
	PID            int                     `json:"pid"`
	ChromePath     string                  `json:"chromePath"`
	BrowserRunning bool                    `json:"browserRunning"`
	UserDataDir    string                  `json:"userDataDir"`
	AppPort        int                     `json:"appPort"`
	Platform       string                  `json:"platform"`
	Arch           string                  `json:"arch"`
	Uptime         float64                 `json:"uptime"`
	BrowserUptime  float64                 `json:"browserUptime"`
	Memory         memoryStats             `json:"memory"`
	Interfaces     map[string][]string     `json:"interfaces"`
	Connections    int                     `json:"connections"`
	Tabs           int                     `json:"tabs"`
	Sessions       []models.SessionSummary `json:"sessions"`
	AudioAvailable bool                    `json:"audioAvailable"`
	AudioClients   int                     `json:"audioClients"`
	SessionState   models.SessionState     `json:"sessionState"`
}

func interfaces() map[string][]string {
	out := make(map[string][]string)
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			out[iface.Name] = append(out[iface.Name], a.String())
		}
	}
	return out
}

// DevState handles GET /dev/state
func (h *Handler) DevState(w http.ResponseWriter, r *http.Request) {
	st, err := h.state.Load()
	if err != nil {
		respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	connections, tabs := h.sessions.Counts()

	stats := devStats{
		PID:            os.Getpid(),
		ChromePath:     h.process.Executable(),
		BrowserRunning: h.process.Running(),
		UserDataDir:    h.info.ProfileDir,
		AppPort:        h.info.Port,
		Platform:       runtime.GOOS,
		Arch:           runtime.GOARCH,
		Uptime:         time.Since(h.started).Seconds(),
		BrowserUptime:  h.process.Uptime().Seconds(),
		Memory: memoryStats{
			Alloc:      ms.Alloc,
			TotalAlloc: ms.TotalAlloc,
			Sys:        ms.Sys,
			HeapInuse:  ms.HeapInuse,
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Interfaces:     interfaces(),
		Connections:    connections,
		Tabs:           tabs,
		Sessions:       h.sessions.ListSessions(),
		AudioAvailable: h.audio.Available(),
		SessionState:   st,
	}
	if h.listeners != nil {
		stats.AudioClients = h.listeners.Subscribers()
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

// Export handles GET /dev/export?full=0|1&format=tar.gz|zip
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	format := profile.ParseFormat(r.URL.Query().Get("format"))

	job, err := h.profiles.PrepareExport(full, format)
	switch {
	case errors.Is(err, profile.ErrNothingToExport):
		http.Error(w, "nothing to export", http.StatusNotFound)
		return
	case errors.Is(err, profile.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, profile.ErrNoArchiver):
		http.Error(w, "no archiving method available on host", http.StatusInternalServerError)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := "application/gzip"
	if format == profile.Zip {
		contentType = "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", download.ContentDisposition(job.Filename))

	// Headers are already sent, so a failure can only truncate the stream.
	if err := job.Run(r.Context(), w); err != nil {
		h.log.Warn("export aborted", zap.Error(err))
	}
}

// Import handles POST /dev/import
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondFailure(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondFailure(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	path, err := h.uploads.Save(header.Filename, file)
	if err != nil {
		respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(path)

	res, err := h.profiles.Import(r.Context(), path, header.Filename)
	switch {
	case errors.Is(err, profile.ErrBusy):
		respondFailure(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, profile.ErrUnknownFormat):
		respondFailure(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, profile.ErrNoArchiver):
		respondFailure(w, http.StatusInternalServerError, "no extraction method available")
		return
	case err != nil:
		respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type audioResult struct {
	OK             bool   `json:"ok"`
	AudioAvailable bool   `json:"audioAvailable"`
	Message        string `json:"message,omitempty"`
}

// StartAudio handles POST /dev/start-audio. A missing capture command is
// reported through audioAvailable rather than as a failure.
func (h *Handler) StartAudio(w http.ResponseWriter, r *http.Request) {
	res := audioResult{OK: true}
	if err := h.audio.Start(); err != nil {
		h.log.Info("audio start", zap.Error(err))
		res.Message = err.Error()
	}
	res.AudioAvailable = h.audio.Available()
	respondJSON(w, http.StatusOK, res)
}

// StopAudio handles POST /dev/stop-audio
func (h *Handler) StopAudio(w http.ResponseWriter, r *http.Request) {
	h.audio.Stop()
	respondJSON(w, http.StatusOK, audioResult{OK: true, AudioAvailable: h.audio.Available()})
}
