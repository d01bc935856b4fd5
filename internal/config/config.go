// Package config loads daemon configuration from a YAML file, fills
// defaults, and pulls secrets from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by both daemons. The
// scraper service reads Browser/Captcha/Limiter; the aggregation
// daemon reads DB/Queue/Sources/Schedule/Summary.
type Config struct {
	Listen   string                  `yaml:"listen"`
	DB       string                  `yaml:"db"`
	Queue    QueueConfig             `yaml:"queue"`
	Browser  BrowserConfig           `yaml:"browser"`
	Captcha  CaptchaConfig           `yaml:"captcha"`
	Limiter  LimiterConfig           `yaml:"limiter"`
	Sources  map[string]SourceConfig `yaml:"sources"`
	Schedule ScheduleConfig          `yaml:"schedule"`
	Summary  SummaryConfig           `yaml:"summary"`
}

// QueueConfig bounds the lookup backlog.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// BrowserConfig controls how scrapers obtain Chrome.
type BrowserConfig struct {
	// Remote is the shared Chrome debugging endpoint used by sources
	// that attach instead of launching.
	Remote string `yaml:"remote"`
	// Proxy is host:port for sources that need one. Credentials come
	// from PROXY_USER / PROXY_PASS.
	Proxy     string `yaml:"proxy"`
	ProxyUser string `yaml:"-"`
	ProxyPass string `yaml:"-"`
}

// CaptchaConfig configures the solver client. The key comes from
// CAPTCHA_KEY.
type CaptchaConfig struct {
	URL          string        `yaml:"url"`
	Key          string        `yaml:"-"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

// LimiterConfig sizes the concurrency gates.
type LimiterConfig struct {
	Batch  int64 `yaml:"batch"`
	Global int64 `yaml:"global"`
}

// SourceConfig is the orchestrator's contract with one source gateway.
type SourceConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	Attempts     int           `yaml:"attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ScheduleConfig holds the cron expressions for background upkeep.
type ScheduleConfig struct {
	// Refresh re-enqueues every stored subject. Default: nightly 03:00.
	Refresh string `yaml:"refresh"`
	// Backup writes a dated database copy. Default: daily 02:30.
	Backup    string `yaml:"backup"`
	BackupDir string `yaml:"backup_dir"`
}

// SummaryConfig configures the optional report client. The key comes
// from SUMMARY_API_KEY; no key disables summaries.
type SummaryConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
	Key   string `yaml:"-"`
}

// defaultSourcePorts is where each scraper service listens out of the
// box, one process per source.
var defaultSourcePorts = map[string]int{
	"gibdd_auto":     5001,
	"gibdd_fines":    5002,
	"efrsb":          5003,
	"kad_arbitr":     5004,
	"nsis":           5005,
	"reestr_zalogov": 5006,
	"pb_nalog":       5007,
	"notariat":       5008,
}

// Load reads the YAML file at path. An empty path yields pure
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DB == "" {
		c.DB = "dossier.db"
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 10
	}
	if c.Captcha.URL == "" {
		c.Captcha.URL = "http://rucaptcha.com"
	}
	if c.Captcha.PollInterval <= 0 {
		c.Captcha.PollInterval = 5 * time.Second
	}
	if c.Captcha.MaxPolls <= 0 {
		c.Captcha.MaxPolls = 10
	}
	if c.Limiter.Batch <= 0 {
		c.Limiter.Batch = 2
	}
	if c.Limiter.Global <= 0 {
		c.Limiter.Global = 10
	}
	if c.Browser.Remote == "" {
		c.Browser.Remote = "http://localhost:9222"
	}
	if c.Schedule.Refresh == "" {
		c.Schedule.Refresh = "0 3 * * *"
	}
	if c.Schedule.Backup == "" {
		c.Schedule.Backup = "30 2 * * *"
	}
	if c.Schedule.BackupDir == "" {
		c.Schedule.BackupDir = "backups"
	}

	if c.Sources == nil {
		c.Sources = map[string]SourceConfig{}
	}
	for name, port := range defaultSourcePorts {
		src := c.Sources[name]
		if src.URL == "" {
			src.URL = fmt.Sprintf("http://localhost:%d", port)
		}
		if src.Timeout <= 0 {
			switch name {
			case "gibdd_auto", "gibdd_fines":
				src.Timeout = 120 * time.Second
			default:
				src.Timeout = 30 * time.Second
			}
		}
		if src.Attempts <= 0 {
			src.Attempts = 3
		}
		if src.PollInterval <= 0 {
			src.PollInterval = 10 * time.Second
		}
		c.Sources[name] = src
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CAPTCHA_KEY"); v != "" {
		c.Captcha.Key = v
	}
	if v := os.Getenv("PROXY_URL"); v != "" {
		c.Browser.Proxy = v
	}
	if v := os.Getenv("PROXY_USER"); v != "" {
		c.Browser.ProxyUser = v
	}
	if v := os.Getenv("PROXY_PASS"); v != "" {
		c.Browser.ProxyPass = v
	}
	if v := os.Getenv("SUMMARY_API_KEY"); v != "" {
		c.Summary.Key = v
	}
}
