// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ThresholdConfig holds every risk threshold the monitor evaluates.
// Values are fractions (0.05 == 5%), not percentages.
type ThresholdConfig struct {
	StrategyMaxDrawdown           float64 `yaml:"strategy_max_drawdown"`
	StrategyMaxConsecutiveLosses  int     `yaml:"strategy_max_consecutive_losses"`
	StrategyMinWinRate            float64 `yaml:"strategy_min_win_rate"`
	PortfolioDailyLossPct         float64 `yaml:"portfolio_daily_loss_pct"`
	PortfolioMaxDrawdown          float64 `yaml:"portfolio_max_drawdown"`
	MaxCorrelation                float64 `yaml:"max_correlation"`
	MaxMarginUtilization          float64 `yaml:"max_margin_utilization"`
}

// TimingConfig holds monitor and shutdown timing parameters.
type TimingConfig struct {
	MonitorIntervalSeconds      int `yaml:"monitor_interval_seconds"`
	PositionCloseTimeoutSeconds int `yaml:"position_close_timeout_seconds"`
	MaxShutdownSeconds          int `yaml:"max_shutdown_seconds"`
	AlertTimeoutSeconds         int `yaml:"alert_timeout_seconds"`
	MaxConcurrentCloses         int `yaml:"max_concurrent_closes"`
}

// AlertConfig holds notification channel routing. Channels with empty
// routing fields are simply not registered.
type AlertConfig struct {
	WebhookEnabled bool     `yaml:"webhook_enabled"`
	EmailEnabled   bool     `yaml:"email_enabled"`
	PagerEnabled   bool     `yaml:"pager_enabled"`
	SMTPHost       string   `yaml:"smtp_host"`
	SMTPPort       int      `yaml:"smtp_port"`
	EmailFrom      string   `yaml:"email_from"`
	EmailTo        []string `yaml:"email_to"`
	PagerEndpoint  string   `yaml:"pager_endpoint"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds general, non-threshold configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
	LogDirectory       string `yaml:"log_directory"`
	StateDirectory     string `yaml:"state_directory"`
	AuditLogFile       string `yaml:"audit_log_file"`
	UseSimulation      bool   `yaml:"use_simulation"`
}

// Config is the top-level configuration structure.
type Config struct {
	Thresholds *ThresholdConfig `yaml:"thresholds"`
	Timing     *TimingConfig    `yaml:"timing"`
	Alerts     *AlertConfig     `yaml:"alerts"`
	Logs       *LogConfig       `yaml:"logs"`
	Normal     *NormalConfig    `yaml:"normal_config"`
}

// DefaultConfig returns a Config populated with the documented defaults.
// The controller must be able to run with no config file at all.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: &ThresholdConfig{
			StrategyMaxDrawdown:          0.05,
			StrategyMaxConsecutiveLosses: 5,
			StrategyMinWinRate:           0.30,
			PortfolioDailyLossPct:        0.10,
			PortfolioMaxDrawdown:         0.15,
			MaxCorrelation:               0.80,
			MaxMarginUtilization:         0.90,
		},
		Timing: &TimingConfig{
			MonitorIntervalSeconds:      1,
			PositionCloseTimeoutSeconds: 10,
			MaxShutdownSeconds:          30,
			AlertTimeoutSeconds:         5,
			MaxConcurrentCloses:         8,
		},
		Alerts: &AlertConfig{},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Normal: &NormalConfig{
			HTTPTimeoutSeconds: 10,
			LogDirectory:       "logs",
			StateDirectory:     "state",
			AuditLogFile:       "kill_switch_audit.log",
			UseSimulation:      false,
		},
	}
}

// LoadConfig loads configuration from a given path on top of the defaults
// and validates it. A missing file is not an error: the controller falls
// back to the documented defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	// Blocks omitted from the YAML come back nil; restore their defaults so
	// callers never have to nil-check.
	def := DefaultConfig()
	if cfg.Thresholds == nil {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.Timing == nil {
		cfg.Timing = def.Timing
	}
	if cfg.Alerts == nil {
		cfg.Alerts = def.Alerts
	}
	if cfg.Logs == nil {
		cfg.Logs = def.Logs
	}
	if cfg.Normal == nil {
		cfg.Normal = def.Normal
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency of the entire configuration.
func (c *Config) Validate() error {
	t := c.Thresholds
	if t.StrategyMaxDrawdown <= 0 || t.StrategyMaxDrawdown >= 1 {
		return fmt.Errorf("Config error: 'thresholds.strategy_max_drawdown' must be in (0, 1), got %.4f", t.StrategyMaxDrawdown)
	}
	if t.StrategyMaxConsecutiveLosses <= 0 {
		return fmt.Errorf("Config error: 'thresholds.strategy_max_consecutive_losses' must be positive")
	}
	if t.StrategyMinWinRate <= 0 || t.StrategyMinWinRate >= 1 {
		return fmt.Errorf("Config error: 'thresholds.strategy_min_win_rate' must be in (0, 1), got %.4f", t.StrategyMinWinRate)
	}
	if t.PortfolioDailyLossPct <= 0 || t.PortfolioDailyLossPct >= 1 {
		return fmt.Errorf("Config error: 'thresholds.portfolio_daily_loss_pct' must be in (0, 1), got %.4f", t.PortfolioDailyLossPct)
	}
	if t.PortfolioMaxDrawdown <= 0 || t.PortfolioMaxDrawdown >= 1 {
		return fmt.Errorf("Config error: 'thresholds.portfolio_max_drawdown' must be in (0, 1), got %.4f", t.PortfolioMaxDrawdown)
	}
	if t.MaxCorrelation <= 0 || t.MaxCorrelation > 1 {
		return fmt.Errorf("Config error: 'thresholds.max_correlation' must be in (0, 1], got %.4f", t.MaxCorrelation)
	}
	if t.MaxMarginUtilization <= 0 || t.MaxMarginUtilization > 1 {
		return fmt.Errorf("Config error: 'thresholds.max_margin_utilization' must be in (0, 1], got %.4f", t.MaxMarginUtilization)
	}

	tm := c.Timing
	if tm.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("Config error: 'timing.monitor_interval_seconds' must be positive")
	}
	if tm.PositionCloseTimeoutSeconds <= 0 {
		return fmt.Errorf("Config error: 'timing.position_close_timeout_seconds' must be positive")
	}
	if tm.MaxShutdownSeconds <= 0 {
		return fmt.Errorf("Config error: 'timing.max_shutdown_seconds' must be positive")
	}
	if tm.AlertTimeoutSeconds <= 0 {
		return fmt.Errorf("Config error: 'timing.alert_timeout_seconds' must be positive")
	}
	if tm.MaxConcurrentCloses <= 0 {
		return fmt.Errorf("Config error: 'timing.max_concurrent_closes' must be positive")
	}

	a := c.Alerts
	if a.EmailEnabled {
		if a.SMTPHost == "" || a.SMTPPort <= 0 {
			return fmt.Errorf("Config error: email alerts enabled but 'alerts.smtp_host' / 'alerts.smtp_port' not set")
		}
		if a.EmailFrom == "" || len(a.EmailTo) == 0 {
			return fmt.Errorf("Config error: email alerts enabled but 'alerts.email_from' / 'alerts.email_to' not set")
		}
	}
	if a.PagerEnabled && a.PagerEndpoint == "" {
		return fmt.Errorf("Config error: pager alerts enabled but 'alerts.pager_endpoint' not set")
	}

	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Config error: 'logs.log_level' must be specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Config error: 'normal_config.log_directory' must not be empty")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("Config error: 'normal_config.state_directory' must not be empty")
	}
	if c.Normal.AuditLogFile == "" {
		return fmt.Errorf("Config error: 'normal_config.audit_log_file' must not be empty")
	}
	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Config error: 'normal_config.http_timeout_seconds' must be positive")
	}

	return nil
}

// EnvConfig carries secrets that must never live in the YAML file.
type EnvConfig struct {
	ApiKey          string
	ApiSecret       string
	BaseURL         string
	WebhookURL      string
	SMTPPassword    string
	PagerRoutingKey string
	ResetAuthToken  string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ApiKey:          os.Getenv("VENUE_API_KEY"),
		ApiSecret:       os.Getenv("VENUE_API_SECRET"),
		BaseURL:         os.Getenv("VENUE_BASE_URL"),
		WebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
		SMTPPassword:    os.Getenv("ALERT_SMTP_PASSWORD"),
		PagerRoutingKey: os.Getenv("ALERT_PAGER_ROUTING_KEY"),
		ResetAuthToken:  os.Getenv("RESET_AUTH_TOKEN"),
	}
}
