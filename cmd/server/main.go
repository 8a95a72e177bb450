package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/api"
	"github.com/shehryarbajwa/browserbase-live/internal/audio"
	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/config"
	"github.com/shehryarbajwa/browserbase-live/internal/download"
	"github.com/shehryarbajwa/browserbase-live/internal/logging"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
	"github.com/shehryarbajwa/browserbase-live/internal/profile"
	"github.com/shehryarbajwa/browserbase-live/internal/proxy"
	"github.com/shehryarbajwa/browserbase-live/internal/ratelimit"
	"github.com/shehryarbajwa/browserbase-live/internal/session"
	"github.com/shehryarbajwa/browserbase-live/internal/state"
	"github.com/shehryarbajwa/browserbase-live/internal/upload"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	if envErr != nil {
		logger.Debug("no .env file found, using system environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLauncher(cfg *config.Config, logger *zap.Logger) (browser.Launcher, func(), error) {
	if cfg.Browser.Backend == "docker" {
		dl, err := browser.NewDockerLauncher(browser.DockerOptions{
			Image:       cfg.Browser.DockerImage,
			UserDataDir: cfg.Browser.UserDataDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return dl, func() { dl.Close() }, nil
	}

	bin, err := browser.FindChrome(cfg.Browser.ChromePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using chrome", zap.String("path", bin))
	return browser.NewLocalLauncher(browser.LocalOptions{
		Bin:         bin,
		UserDataDir: cfg.Browser.UserDataDir,
		Headful:     cfg.Browser.Headful,
		NoSandbox:   cfg.Browser.NoSandbox,
	}), func() {}, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting remote browser server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("backend", cfg.Browser.Backend))

	m := metrics.New()

	launcher, closeLauncher, err := newLauncher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLauncher()

	process := browser.NewProcess(launcher, logger)
	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err = process.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	defer process.Close()

	st, err := state.NewStore(cfg.Storage.StateFile)
	if err != nil {
		return err
	}
	downloads, err := download.NewStore(cfg.Storage.DownloadsDir(), cfg.Downloads.MaxEntries, cfg.Downloads.TTL, m, logger)
	if err != nil {
		return err
	}
	uploads, err := upload.NewStore(cfg.Storage.UploadsDir(), m, logger)
	if err != nil {
		return err
	}

	sessions := session.NewManager(process, st, downloads, session.Options{
		DefaultURL:        cfg.Stream.DefaultURL,
		Width:             cfg.Stream.ViewportWidth,
		Height:            cfg.Stream.ViewportHeight,
		MaxFPS:            cfg.Stream.MaxFPS,
		FrameInterval:     cfg.Stream.FrameInterval(),
		JPEGQuality:       cfg.Stream.JPEGQuality,
		NavigationTimeout: cfg.Stream.NavigationTimeout,
		UserAgent:         browser.DefaultUserAgent,
	}, m, logger)

	archivers := profile.Resolve(profile.DefaultArchivers()...)
	for format, a := range archivers {
		logger.Info("archiver selected", zap.String("format", string(format)), zap.String("archiver", a.Name()))
	}
	engine := profile.NewEngine(profile.Options{
		ProfileDir: cfg.Browser.UserDataDir,
		Archivers:  archivers,
	}, st, process, sessions, m, logger)

	hub := proxy.NewAudioHub(logger)
	capture := audio.New(audio.Options{
		Command: cfg.Audio.Command,
		OnChunk: hub.Publish,
		OnState: func(available bool) {
			hub.SetAvailable(available)
			sessions.Broadcast(models.AudioAvailableMessage{Type: models.TypeAudioAvailable, Available: available})
		},
	}, logger)
	if cfg.Audio.Enabled {
		if err := capture.Start(); err != nil {
			logger.Warn("audio capture unavailable", zap.Error(err))
		}
	}
	defer capture.Stop()

	routeOpts := api.RouteOptions{
		Metrics:   m.Handler(),
		PublicDir: cfg.Server.PublicDir,
	}
	if cfg.RateLimit.Enabled {
		routeOpts.RateLimiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	handler := api.NewHandler(api.Deps{
		Sessions:  sessions,
		Process:   process,
		Uploads:   uploads,
		Downloads: downloads,
		Profiles:  engine,
		Audio:     capture,
		Listeners: hub,
		State:     st,
	}, api.Info{Port: cfg.Server.Port, ProfileDir: cfg.Browser.UserDataDir}, logger)
	router := handler.SetupRoutes(proxy.NewServer(sessions, hub, logger), routeOpts)

	// No write timeout: exports and websocket streams are long-lived.
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("http", "http://"+cfg.Server.Addr()),
			zap.String("control", "ws://"+cfg.Server.Addr()+"/ws"),
			zap.String("audio", "ws://"+cfg.Server.Addr()+"/audio"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sessions.Shutdown(ctx); err != nil {
		logger.Warn("session shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
	return nil
}
