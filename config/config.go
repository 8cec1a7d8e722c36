// Package config loads engine configuration from an optional YAML file with
// environment overrides. The numeric policy knobs (audit cap, retroactive
// cooldown, tick interval) are deployment policy, not engine invariants.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures configuration for the automation service.
type Config struct {
	HTTPPort    int    `yaml:"http_port"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`

	AuditEntryCap int           `yaml:"audit_entry_cap"`
	RetroCooldown time.Duration `yaml:"retro_cooldown"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	RuleCacheTTL  time.Duration `yaml:"rule_cache_ttl"`
	AuditPageSize int           `yaml:"audit_page_size"`
}

// Default returns the baseline configuration before file and environment
// overrides.
func Default() Config {
	return Config{
		HTTPPort:      8080,
		LogLevel:      "INFO",
		AuditEntryCap: 1000,
		RetroCooldown: time.Minute,
		TickInterval:  time.Minute,
		RuleCacheTTL:  0, // invalidate on mutation only
		AuditPageSize: 50,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables. Validation errors are
// aggregated so a misconfigured deployment reports everything at once.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("AUTOMATION_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "AUTOMATION_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if capValue := strings.TrimSpace(os.Getenv("AUTOMATION_AUDIT_CAP")); capValue != "" {
		auditCap, err := strconv.Atoi(capValue)
		if err != nil || auditCap <= 0 {
			invalid = append(invalid, "AUTOMATION_AUDIT_CAP")
		} else {
			cfg.AuditEntryCap = auditCap
		}
	}

	if cooldownValue := strings.TrimSpace(os.Getenv("AUTOMATION_RETRO_COOLDOWN")); cooldownValue != "" {
		cooldown, err := time.ParseDuration(cooldownValue)
		if err != nil || cooldown <= 0 {
			invalid = append(invalid, "AUTOMATION_RETRO_COOLDOWN")
		} else {
			cfg.RetroCooldown = cooldown
		}
	}

	if tickValue := strings.TrimSpace(os.Getenv("AUTOMATION_TICK_INTERVAL")); tickValue != "" {
		tick, err := time.ParseDuration(tickValue)
		if err != nil || tick <= 0 {
			invalid = append(invalid, "AUTOMATION_TICK_INTERVAL")
		} else {
			cfg.TickInterval = tick
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	problems := make([]string, 0, 2)
	if c.AuditEntryCap <= 0 {
		problems = append(problems, "audit_entry_cap must be positive")
	}
	if c.RetroCooldown <= 0 {
		problems = append(problems, "retro_cooldown must be positive")
	}
	if c.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	if c.AuditPageSize <= 0 {
		problems = append(problems, "audit_page_size must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
