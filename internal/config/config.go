package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/tabscribe/internal/netutil"
)

// Config holds all configuration for the scribe daemon.
type Config struct {
	BindAddr         string
	BindCandidates   []string
	BindAutoFallback bool

	// CDP connection settings
	CDPAddress        string
	CDPPort           int
	BrowserAutoLaunch bool
	BrowserProfileDir string

	TabURLFilter string
	OffscreenURL string

	HostManifest  string
	RecordingsDir string
	StateDB       string

	ReadyTimeout time.Duration
	AckTimeout   time.Duration

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:          getEnvOrDefault("SCRIBE_BIND_ADDR", "127.0.0.1:8787"),
		BindCandidates:    netutil.SplitList(getEnvOrDefault("SCRIBE_BIND_CANDIDATES", "127.0.0.1:8788,127.0.0.1:8789")),
		BindAutoFallback:  getEnvBoolOrDefault("SCRIBE_BIND_AUTO_FALLBACK", false),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BrowserAutoLaunch: getEnvBoolOrDefault("SCRIBE_BROWSER_AUTO_LAUNCH", false),
		BrowserProfileDir: getEnvOrDefault("SCRIBE_BROWSER_PROFILE_DIR", "./browser_profile"),
		TabURLFilter:      getEnvOrDefault("SCRIBE_TAB_URL_FILTER", ""),
		OffscreenURL:      getEnvOrDefault("SCRIBE_OFFSCREEN_URL", ""),
		HostManifest:      getEnvOrDefault("SCRIBE_HOST_MANIFEST", "./host.yaml"),
		RecordingsDir:     getEnvOrDefault("SCRIBE_RECORDINGS_DIR", ""),
		StateDB:           getEnvOrDefault("SCRIBE_STATE_DB", "./data/tabscribe.db"),
		ReadyTimeout:      getEnvDurationMSOrDefault("SCRIBE_READY_TIMEOUT_MS", 10*time.Second),
		AckTimeout:        getEnvDurationMSOrDefault("SCRIBE_ACK_TIMEOUT_MS", 15*time.Second),
		LogLevel:          strings.ToLower(getEnvOrDefault("SCRIBE_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("SCRIBE_LOG_FILE", "logs/tabscribe.log"),
	}
	if cfg.ReadyTimeout < time.Second {
		cfg.ReadyTimeout = time.Second
	}
	if cfg.AckTimeout < time.Second {
		cfg.AckTimeout = time.Second
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// CaptureURL returns the capture page URL for a daemon listening on addr.
func (c *Config) CaptureURL(addr string) string {
	if c.OffscreenURL != "" {
		return c.OffscreenURL
	}
	return "http://" + addr + "/offscreen"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationMSOrDefault(key string, defaultVal time.Duration) time.Duration {
	if ms := getEnvIntOrDefault(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
