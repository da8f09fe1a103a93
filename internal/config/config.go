package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the Postgres backend.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// IngestConfig configures the ingest pipeline.
type IngestConfig struct {
	SourcesFile string `yaml:"sources_file" mapstructure:"sources_file"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. database.url defaults empty so the REGSYNC_DATABASE_URL
	// binding is visible to Unmarshal even without a config file.
	v.SetDefault("database.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("ingest.sources_file", "sources.yaml")
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.user_agent", "regsync/1.0")
	v.SetDefault("ingest.temp_dir", "/tmp/regsync")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 48)
	v.SetDefault("monitoring.backlog_threshold", 1000)
	v.SetDefault("monitoring.webhook_url", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
