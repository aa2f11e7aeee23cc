package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var knownPolicies = map[string]bool{
	"network-first":      true,
	"selective":          true,
	"static-cache-first": true,
	"cache-first":        true,
	"cache-only":         true,
}

var knownDrivers = map[string]bool{
	"":       true,
	"memory": true,
	"bolt":   true,
}

func KnownPolicy(name string) bool {
	return knownPolicies[name]
}

func Validate(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	warnings := []string{}
	if err := validateIdentity(cfg); err != nil {
		return warnings, err
	}
	if err := validatePolicy(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateFallback(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateStorage(cfg); err != nil {
		return warnings, err
	}
	if err := validateTimeouts(cfg); err != nil {
		return warnings, err
	}
	return warnings, nil
}

func validateIdentity(cfg *Config) error {
	if strings.TrimSpace(cfg.AppName) == "" {
		return errors.New("app_name is required")
	}
	if strings.TrimSpace(cfg.Version) == "" {
		return errors.New("version is required")
	}
	if strings.ContainsAny(cfg.AppName+cfg.Version, " /") {
		return fmt.Errorf("bucket name %q must not contain spaces or slashes", cfg.BucketName())
	}
	if _, err := cfg.OriginURL(); err != nil {
		return err
	}
	if cfg.DeployPath != "" && !strings.HasPrefix(cfg.DeployPath, "/") {
		return fmt.Errorf("deploy_path %q must start with /", cfg.DeployPath)
	}
	for _, seed := range cfg.Manifest {
		if !strings.HasPrefix(seed, "/") {
			return fmt.Errorf("manifest entry %q must be an absolute path", seed)
		}
	}
	return nil
}

func validatePolicy(cfg *Config, warnings *[]string) error {
	name := cfg.PolicyName()
	if !KnownPolicy(name) {
		return fmt.Errorf("unknown policy %q", name)
	}
	if name == "cache-only" && len(cfg.Manifest) == 0 {
		*warnings = append(*warnings, "cache-only policy with empty manifest serves nothing")
	}
	if name == "selective" && len(cfg.Patterns) == 0 {
		*warnings = append(*warnings, "selective policy without patterns never caches")
	}
	if name == "static-cache-first" && len(cfg.StaticPrefixes) == 0 {
		*warnings = append(*warnings, "static-cache-first policy without static_prefixes behaves as network-first")
	}
	for i, pattern := range cfg.Patterns {
		if strings.TrimSpace(pattern.Class) == "" {
			return fmt.Errorf("patterns[%d] class is required", i)
		}
		if len(pattern.Extensions) == 0 && len(pattern.Prefixes) == 0 {
			return fmt.Errorf("pattern %q has no extensions or prefixes", pattern.Class)
		}
	}
	return nil
}

func validateFallback(cfg *Config, warnings *[]string) error {
	status := cfg.Fallback.Status
	if status == 0 {
		return nil
	}
	if status < 200 || status > 599 {
		return fmt.Errorf("fallback.status %d out of range", status)
	}
	if status < http.StatusBadRequest {
		*warnings = append(*warnings, fmt.Sprintf("fallback.status %d looks like success to callers", status))
	}
	return nil
}

func validateStorage(cfg *Config) error {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if !knownDrivers[driver] {
		return fmt.Errorf("unknown storage driver %q", driver)
	}
	if driver == "bolt" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required for bolt driver")
	}
	if cfg.Network.MaxObjectBytes < 0 {
		return errors.New("network.max_object_bytes must be non-negative")
	}
	return nil
}

func validateTimeouts(cfg *Config) error {
	if cfg.Network.FetchTimeoutMS < 0 {
		return errors.New("network.fetch_timeout_ms must be non-negative")
	}
	if cfg.Lifecycle.InstallTimeoutMS < 0 {
		return errors.New("lifecycle.install_timeout_ms must be non-negative")
	}
	if cfg.Lifecycle.InstallConcurrency < 0 {
		return errors.New("lifecycle.install_concurrency must be non-negative")
	}
	if cfg.Lifecycle.InstallRetries < 0 || cfg.Lifecycle.InstallRetryBackoffMS < 0 {
		return errors.New("lifecycle.install_retries and install_retry_backoff_ms must be non-negative")
	}
	if rate := cfg.Network.Breaker.FailureRatePercent; rate < 0 || rate > 100 {
		return fmt.Errorf("network.breaker.failure_rate_percent %d out of range", rate)
	}
	if cfg.Limits.ReadHeaderTimeoutMS < 0 {
		return errors.New("limits.read_header_timeout_ms must be non-negative")
	}
	return nil
}
