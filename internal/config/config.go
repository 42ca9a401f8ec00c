package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/activeprobe/internal/probe"
)

// Config holds all configuration for the active probe.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Test settings
	Technology string
	Host       string
	VideoURL   string
	PlanPath   string
	Prefix     string

	// Session behavior
	CommandTimeoutMS int
	RunTimeoutS      int
	CloseOnFinish    bool

	// Diagnostics
	Verbose  bool
	TraceDir string
	LogLevel string
	LogFile  string

	// Status API; empty StatusAddr disables it
	StatusAddr           string
	StatusPortCandidates []string

	// NotifyURL receives a summary of every finished run when set.
	NotifyURL string

	// Local browser
	LaunchBrowser     bool
	BrowserHeadless   bool
	BrowserProfileDir string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:           getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:              getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		Technology:           strings.ToLower(getEnvOrDefault("PROBE_TECHNOLOGY", probe.TechnologyHTML5)),
		Host:                 os.Getenv("PROBE_HOST"),
		VideoURL:             os.Getenv("PROBE_VIDEO_URL"),
		PlanPath:             os.Getenv("PROBE_PLAN"),
		Prefix:               getEnvOrDefault("PROBE_PREFIX", probe.DefaultPrefix),
		CommandTimeoutMS:     getEnvIntOrDefault("PROBE_COMMAND_TIMEOUT_MS", 10000),
		RunTimeoutS:          getEnvIntOrDefault("PROBE_RUN_TIMEOUT_S", 600),
		CloseOnFinish:        getEnvBoolOrDefault("PROBE_CLOSE_ON_FINISH", true),
		Verbose:              getEnvBoolOrDefault("PROBE_VERBOSE", false),
		TraceDir:             getEnvOrDefault("PROBE_TRACE_DIR", "./probe_trace"),
		LogLevel:             strings.ToLower(getEnvOrDefault("PROBE_LOG_LEVEL", "info")),
		LogFile:              getEnvOrDefault("PROBE_LOG_FILE", "logs/activeprobe.log"),
		StatusAddr:           os.Getenv("PROBE_STATUS_ADDR"),
		StatusPortCandidates: getEnvListOrDefault("PROBE_STATUS_PORT_CANDIDATES", nil),
		NotifyURL:            os.Getenv("PROBE_NOTIFY_URL"),
		LaunchBrowser:        getEnvBoolOrDefault("PROBE_LAUNCH_BROWSER", false),
		BrowserHeadless:      getEnvBoolOrDefault("PROBE_BROWSER_HEADLESS", true),
		BrowserProfileDir:    getEnvOrDefault("PROBE_BROWSER_PROFILE_DIR", "./.probe_profile"),
	}
	if cfg.CommandTimeoutMS < 1000 {
		cfg.CommandTimeoutMS = 1000
	}
	if cfg.RunTimeoutS < 0 {
		cfg.RunTimeoutS = 0
	}
	return cfg, nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	c.Technology = strings.ToLower(c.Technology)
	if !probe.ValidTechnology(c.Technology) {
		return fmt.Errorf("no such technology available: %q (want %s or %s)", c.Technology, probe.TechnologyHTML5, probe.TechnologyYouTube)
	}
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("invalid CDP port %d", c.CDPPort)
	}
	if c.Prefix == "" {
		return fmt.Errorf("probe prefix must not be empty")
	}
	return nil
}

// GetCDPURL returns the browser's HTTP debugging endpoint.
func (c *Config) GetCDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// CommandTimeout is the per-command deadline.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// RunTimeout bounds one test. Zero means no limit.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutS) * time.Second
}

// PageHost returns the base the test pages are served from. Without an
// explicit host it points at the html/ directory under the working directory.
func (c *Config) PageHost() string {
	if c.Host != "" {
		return c.Host
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return "file://" + filepath.ToSlash(wd) + "/html/"
}

// PageURL builds the test page address for technology. The unix timestamp
// query defeats page caching.
func (c *Config) PageURL(technology string, now time.Time) string {
	return fmt.Sprintf("%s%s.html?%d", c.PageHost(), strings.ToLower(technology), now.Unix())
}

// SlogLevel maps LogLevel to a slog level. Verbose forces debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TestCases returns the tests to run: the plan's entries when a plan is
// configured, otherwise a single test from the flat settings.
func (c *Config) TestCases(now time.Time) ([]probe.TestCase, error) {
	if c.PlanPath == "" {
		return []probe.TestCase{{
			Technology: c.Technology,
			VideoURL:   c.VideoURL,
			PageURL:    c.PageURL(c.Technology, now),
		}}, nil
	}

	plan, err := LoadPlan(c.PlanPath)
	if err != nil {
		return nil, err
	}
	base := *c
	if plan.Host != "" {
		base.Host = plan.Host
	}
	cases := make([]probe.TestCase, 0, len(plan.Tests))
	for _, t := range plan.Tests {
		technology := t.Technology
		if technology == "" {
			technology = c.Technology
		}
		cases = append(cases, probe.TestCase{
			Name:       t.Name,
			Technology: technology,
			VideoURL:   t.VideoURL,
			PageURL:    base.PageURL(technology, now),
		})
	}
	return cases, nil
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

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
