package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

const (
	DefaultListenAddr    = "127.0.0.1:8080"
	DefaultControlPrefix = "/__coordinator"
	DefaultPolicy        = "cache-first"
	DefaultFallbackText  = "content not available offline"
)

type Config struct {
	ListenAddr     string          `json:"listen_addr"`
	HealthAddr     string          `json:"health_addr"`
	ControlPrefix  string          `json:"control_prefix"`
	AppName        string          `json:"app_name"`
	Version        string          `json:"version"`
	Origin         string          `json:"origin"`
	DeployPath     string          `json:"deploy_path"`
	LocalHosts     []string        `json:"local_hosts"`
	Manifest       []string        `json:"manifest"`
	Policy         string          `json:"policy"`
	Patterns       []PatternConfig `json:"patterns"`
	StaticPrefixes []string        `json:"static_prefixes"`
	DenyHosts      []string        `json:"deny_hosts"`
	Fallback       FallbackConfig  `json:"fallback"`
	Lifecycle      LifecycleConfig `json:"lifecycle"`
	Network        NetworkConfig   `json:"network"`
	Storage        StorageConfig   `json:"storage"`
	Logging        LoggingConfig   `json:"logging"`
	Limits         LimitsConfig    `json:"limits"`
	Shutdown       ShutdownConfig  `json:"shutdown"`
}

type PatternConfig struct {
	Class      string   `json:"class"`
	Extensions []string `json:"extensions"`
	Prefixes   []string `json:"prefixes"`
}

type FallbackConfig struct {
	ShellPath string `json:"shell_path"`
	ImagePath string `json:"image_path"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
}

type LifecycleConfig struct {
	SkipWaitingOnInstall  bool `json:"skip_waiting_on_install"`
	InstallConcurrency    int  `json:"install_concurrency"`
	InstallTimeoutMS      int  `json:"install_timeout_ms"`
	InstallRetries        int  `json:"install_retries"`
	InstallRetryBackoffMS int  `json:"install_retry_backoff_ms"`
}

type NetworkConfig struct {
	FetchTimeoutMS          int           `json:"fetch_timeout_ms"`
	DialTimeoutMS           int           `json:"dial_timeout_ms"`
	ResponseHeaderTimeoutMS int           `json:"response_header_timeout_ms"`
	MaxObjectBytes          int64         `json:"max_object_bytes"`
	Breaker                 BreakerConfig `json:"breaker"`
}

type BreakerConfig struct {
	FailureRatePercent int `json:"failure_rate_percent"`
	MinimumRequests    int `json:"minimum_requests"`
	WindowMS           int `json:"window_ms"`
	OpenMS             int `json:"open_ms"`
	HalfOpenProbes     int `json:"half_open_probes"`
}

type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type LoggingConfig struct {
	AccessLogFile string `json:"access_log_file"`
	MaxSizeMB     int    `json:"max_size_mb"`
	MaxBackups    int    `json:"max_backups"`
	MaxAgeDays    int    `json:"max_age_days"`
	Compress      bool   `json:"compress"`
}

type LimitsConfig struct {
	MaxHeaderBytes      int `json:"max_header_bytes"`
	ReadHeaderTimeoutMS int `json:"read_header_timeout_ms"`
	ReadTimeoutMS       int `json:"read_timeout_ms"`
	WriteTimeoutMS      int `json:"write_timeout_ms"`
	IdleTimeoutMS       int `json:"idle_timeout_ms"`
}

type ShutdownConfig struct {
	DrainMS           int `json:"drain_ms"`
	GracefulTimeoutMS int `json:"graceful_timeout_ms"`
	ForceCloseMS      int `json:"force_close_ms"`
}

func ParseJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads, env-overrides and validates a config file. Validation
// warnings are returned alongside a usable config.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseJSON(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, nil, err
	}
	warnings, err := Validate(cfg)
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// BucketName is the name of the single cache bucket owned by cfg.Version.
func (c *Config) BucketName() string {
	if c == nil {
		return ""
	}
	return c.AppName + "-" + c.Version
}

func (c *Config) OriginURL() (*url.URL, error) {
	if c == nil {
		return nil, errors.New("config is nil")
	}
	origin, err := url.Parse(strings.TrimSpace(c.Origin))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("origin scheme %q must be http or https", origin.Scheme)
	}
	if origin.Host == "" {
		return nil, errors.New("origin host is empty")
	}
	origin.Path = ""
	origin.RawQuery = ""
	origin.Fragment = ""
	return origin, nil
}

func (c *Config) ControlPath() string {
	prefix := strings.TrimRight(strings.TrimSpace(c.ControlPrefix), "/")
	if prefix == "" {
		return DefaultControlPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

func (c *Config) PolicyName() string {
	name := strings.TrimSpace(c.Policy)
	if name == "" {
		return DefaultPolicy
	}
	return name
}

func (c *Config) LocalHostSet() []string {
	if len(c.LocalHosts) == 0 {
		return []string{"localhost", "127.0.0.1"}
	}
	return c.LocalHosts
}
