package config

import (
	"encoding/json"
	"os"

	"elysium-trading-go/internal/models"
)

// Defaults applied when the config file leaves a knob at zero.
const (
	DefaultMonitorIntervalMs = 5000
	DefaultOrderPaceMs       = 500
	DefaultStopWaitSec       = 5
	DefaultPriceFailureLimit = 5
)

// LoadConfig loads the JSON config file at path into a Config and fills in
// defaults for unset values.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills zero-valued tuning knobs with their defaults.
func ApplyDefaults(cfg *models.Config) {
	if cfg.MonitorIntervalMs <= 0 {
		cfg.MonitorIntervalMs = DefaultMonitorIntervalMs
	}
	if cfg.OrderPaceMs <= 0 {
		cfg.OrderPaceMs = DefaultOrderPaceMs
	}
	if cfg.StopWaitSec <= 0 {
		cfg.StopWaitSec = DefaultStopWaitSec
	}
	if cfg.PriceFailureLimit <= 0 {
		cfg.PriceFailureLimit = DefaultPriceFailureLimit
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}
