// Package config loads the application configuration from YAML and applies
// per-component defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/boxpulse/retention/internal/alerts"
	"github.com/boxpulse/retention/internal/api"
	"github.com/boxpulse/retention/internal/assist"
	"github.com/boxpulse/retention/internal/billing"
	"github.com/boxpulse/retention/internal/escalation"
	"github.com/boxpulse/retention/internal/events"
	"github.com/boxpulse/retention/internal/outcome"
	"github.com/boxpulse/retention/internal/risk"
	"github.com/boxpulse/retention/internal/scheduler"
	"github.com/boxpulse/retention/internal/store"
)

// Config represents the overall application configuration. Each section is
// owned by the package it configures.
type Config struct {
	Store      store.Config      `yaml:"store"`
	Kafka      events.Config     `yaml:"kafka"`
	Risk       risk.Config       `yaml:"risk"`
	Alerts     alerts.Config     `yaml:"alerts"`
	Escalation escalation.Config `yaml:"escalation"`
	Outcome    outcome.Config    `yaml:"outcome"`
	Scheduler  scheduler.Config  `yaml:"scheduler"`
	API        api.Config        `yaml:"api"`
	Billing    billing.Config    `yaml:"billing"`
	Assist     assist.Config     `yaml:"assist"`
}

// Load loads configuration from the file named by CONFIG_PATH, falling back
// to config/config.yaml, and fills defaults for anything unset.
func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.URI == "" {
		c.Store = store.DefaultConfig()
	}

	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = events.DefaultConfig().Brokers
	}
	if c.Kafka.Timeout == 0 {
		c.Kafka.Timeout = events.DefaultConfig().Timeout
	}

	riskDef := risk.DefaultConfig()
	if c.Risk.LookbackDays == 0 {
		c.Risk.LookbackDays = riskDef.LookbackDays
	}
	if c.Risk.AttendanceWeight == 0 && c.Risk.WellnessWeight == 0 &&
		c.Risk.PerformanceWeight == 0 && c.Risk.EngagementWeight == 0 {
		c.Risk.AttendanceWeight = riskDef.AttendanceWeight
		c.Risk.WellnessWeight = riskDef.WellnessWeight
		c.Risk.PerformanceWeight = riskDef.PerformanceWeight
		c.Risk.EngagementWeight = riskDef.EngagementWeight
	}
	if c.Risk.ValidityDays == 0 {
		c.Risk.ValidityDays = riskDef.ValidityDays
	}
	if c.Risk.BatchSize == 0 {
		c.Risk.BatchSize = riskDef.BatchSize
	}
	if c.Risk.BatchPause == 0 {
		c.Risk.BatchPause = riskDef.BatchPause
	}

	alertsDef := alerts.DefaultConfig()
	if c.Alerts.InsertBatchSize == 0 {
		c.Alerts.InsertBatchSize = alertsDef.InsertBatchSize
	}
	if c.Alerts.BatchPause == 0 {
		c.Alerts.BatchPause = alertsDef.BatchPause
	}

	if c.Escalation.CoolDown == 0 {
		c.Escalation.CoolDown = escalation.DefaultConfig().CoolDown
	}

	outcomeDef := outcome.DefaultConfig()
	if c.Outcome.MeasurementPeriodDays == 0 {
		c.Outcome.MeasurementPeriodDays = outcomeDef.MeasurementPeriodDays
	}
	if c.Outcome.MeasurementDelayDays == 0 {
		c.Outcome.MeasurementDelayDays = outcomeDef.MeasurementDelayDays
	}

	schedDef := scheduler.DefaultConfig()
	if c.Scheduler.RetentionInterval == 0 {
		c.Scheduler.RetentionInterval = schedDef.RetentionInterval
	}
	if c.Scheduler.OutcomeInterval == 0 {
		c.Scheduler.OutcomeInterval = schedDef.OutcomeInterval
	}
	if c.Scheduler.CleanupInterval == 0 {
		c.Scheduler.CleanupInterval = schedDef.CleanupInterval
	}

	apiDef := api.DefaultConfig()
	if c.API.Host == "" {
		c.API.Host = apiDef.Host
	}
	if c.API.Port == 0 {
		c.API.Port = apiDef.Port
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = apiDef.ReadTimeout
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = apiDef.WriteTimeout
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = apiDef.IdleTimeout
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = apiDef.AllowedOrigins
	}

	if c.Assist.Model == "" {
		c.Assist.Model = assist.DefaultConfig().Model
	}
}
