package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Harvest HarvestConfig `yaml:"harvest" mapstructure:"harvest"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Ledger  LedgerConfig  `yaml:"ledger" mapstructure:"ledger"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SourceConfig holds the record source's URL and credentials. The
// credentials normally come from the environment (HARVEST_SOURCE_*).
type SourceConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-request timeout.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// HarvestConfig configures the identifier scan.
type HarvestConfig struct {
	StartID                int     `yaml:"start_id" mapstructure:"start_id"`
	EndID                  int     `yaml:"end_id" mapstructure:"end_id"`
	CheckpointEvery        int     `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	RetryAttempts          int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelaySecs         int     `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	RequestsPerSecond      float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// RetryDelay returns the fixed pause between step attempts.
func (c HarvestConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// ExportConfig configures where checkpoint artifacts are written.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LedgerConfig configures the local run ledger.
type LedgerConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
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
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("harvest.start_id", 1)
	v.SetDefault("harvest.end_id", 794)
	v.SetDefault("harvest.checkpoint_every", 50)
	v.SetDefault("harvest.max_consecutive_failures", 100)
	v.SetDefault("harvest.retry_attempts", 3)
	v.SetDefault("harvest.retry_delay_secs", 2)
	v.SetDefault("harvest.requests_per_second", 2.0)
	v.SetDefault("export.dir", "./excels")
	v.SetDefault("ledger.path", "./harvest.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

// ValidateSource checks that the source connection settings are usable.
func (c *Config) ValidateSource() error {
	if c.Source.BaseURL == "" {
		return eris.New("config: source.base_url is required (set HARVEST_SOURCE_BASE_URL)")
	}
	if c.Source.Username == "" || c.Source.Password == "" {
		return eris.New("config: source credentials are required (set HARVEST_SOURCE_USERNAME and HARVEST_SOURCE_PASSWORD)")
	}
	return nil
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
