package config

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Stream    StreamConfig
	Storage   StorageConfig
	Downloads DownloadConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Audio     AudioConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port      int    `envconfig:"PORT" default:"3000"`
	Host      string `envconfig:"HOST" default:"0.0.0.0"`
	PublicDir string `envconfig:"PUBLIC_DIR" default:""`
}

// BrowserConfig describes the shared automation process.
type BrowserConfig struct {
	ChromePath  string `envconfig:"CHROME_PATH" default:""`
	UserDataDir string `envconfig:"USER_DATA_DIR" default:"./chrome-profile"`
	Headful     bool   `envconfig:"HEADFUL" default:"false"`
	NoSandbox   bool   `envconfig:"NO_SANDBOX" default:"false"`
	Backend     string `envconfig:"BROWSER_BACKEND" default:"local"`
	DockerImage string `envconfig:"DOCKER_IMAGE" default:"browserless/chrome:latest"`
}

// StreamConfig holds screencast and tab defaults.
type StreamConfig struct {
	MaxFPS            int           `envconfig:"MAX_FPS" default:"15"`
	JPEGQuality       int           `envconfig:"JPEG_QUALITY" default:"60"`
	ViewportWidth     int           `envconfig:"VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight    int           `envconfig:"VIEWPORT_HEIGHT" default:"800"`
	DefaultURL        string        `envconfig:"DEFAULT_URL" default:"https://www.google.com"`
	NavigationTimeout time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"30s"`
}

// StorageConfig holds on-disk locations owned by the server.
type StorageConfig struct {
	DataDir   string `envconfig:"DATA_DIR" default:"./data"`
	StateFile string `envconfig:"STATE_FILE" default:"./session_state.json"`
}

// DownloadConfig bounds intercepted download retention.
type DownloadConfig struct {
	TTL        time.Duration `envconfig:"DOWNLOAD_TTL" default:"30m"`
	MaxEntries int           `envconfig:"DOWNLOAD_MAX_ENTRIES" default:"256"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the upload/dev surface.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
	Enabled           bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// AudioConfig controls the audio capture subprocess.
type AudioConfig struct {
	Enabled bool   `envconfig:"AUDIO_ENABLED" default:"true"`
	Command string `envconfig:"AUDIO_COMMAND" default:"ffmpeg"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 3000, Host: "0.0.0.0"},
		Browser: BrowserConfig{
			UserDataDir: "./chrome-profile",
			Backend:     "local",
			DockerImage: "browserless/chrome:latest",
		},
		Stream: StreamConfig{
			MaxFPS:            15,
			JPEGQuality:       60,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			DefaultURL:        "https://www.google.com",
			NavigationTimeout: 30 * time.Second,
		},
		Storage:   StorageConfig{DataDir: "./data", StateFile: "./session_state.json"},
		Downloads: DownloadConfig{TTL: 30 * time.Minute, MaxEntries: 256},
		Logging:   LogConfig{Level: "info"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 20, Enabled: true},
		Audio:     AudioConfig{Enabled: true, Command: "ffmpeg"},
	}
	cfg.Normalize()
	return cfg
}

// Normalize clamps out-of-range values instead of rejecting them.
func (c *Config) Normalize() {
	c.Stream.MaxFPS = clamp(c.Stream.MaxFPS, 5, 60)
	c.Stream.JPEGQuality = clamp(c.Stream.JPEGQuality, 10, 95)
	if c.Stream.ViewportWidth < 100 {
		c.Stream.ViewportWidth = 100
	}
	if c.Stream.ViewportHeight < 100 {
		c.Stream.ViewportHeight = 100
	}
	if c.Stream.NavigationTimeout <= 0 {
		c.Stream.NavigationTimeout = 30 * time.Second
	}
	if c.Downloads.MaxEntries < 0 {
		c.Downloads.MaxEntries = 0
	}
	if c.Browser.Backend == "" {
		c.Browser.Backend = "local"
	}
}

// FrameInterval is the minimum spacing between two forwarded frames of one tab.
// It rounds up so MaxFPS is never exceeded.
func (s StreamConfig) FrameInterval() time.Duration {
	return time.Duration(math.Ceil(float64(time.Second) / float64(s.MaxFPS)))
}

// UploadsDir returns where uploaded files are stored.
func (s StorageConfig) UploadsDir() string {
	return filepath.Join(s.DataDir, "uploads")
}

// DownloadsDir returns where intercepted downloads are stored.
func (s StorageConfig) DownloadsDir() string {
	return filepath.Join(s.DataDir, "downloads")
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
