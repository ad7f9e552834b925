// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are populated by
// viper from config.yaml, environment variables (TRACEGRAPH_*) and defaults.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Graph    GraphConfig    `mapstructure:"graph" yaml:"graph"`
	Risk     RiskConfig     `mapstructure:"risk" yaml:"risk"`
}

// LoggerConfig controls the zap logger and lumberjack rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels in console
// format.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the PostgreSQL connection and pool settings. The pool
// is bounded: acquiring a connection blocks up to AcquireTimeout, after which
// the store surfaces ErrStoreUnavailable.
type DatabaseConfig struct {
	// Driver selects the store backend: "postgres" or "memory".
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	DBName          string        `mapstructure:"dbname" yaml:"dbname"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
}

// URL renders the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// GraphConfig bounds traversal cost and result-set size, and controls the
// one-time schema-ensure side effect.
type GraphConfig struct {
	// MaxTraversalDepth clamps every traversal's depth.
	MaxTraversalDepth int `mapstructure:"max_traversal_depth" yaml:"max_traversal_depth"`
	// DefaultResultLimit applies when a request carries no explicit limit.
	DefaultResultLimit int `mapstructure:"default_result_limit" yaml:"default_result_limit"`
	// HardResultLimit caps every result set regardless of the request.
	HardResultLimit int `mapstructure:"hard_result_limit" yaml:"hard_result_limit"`
	// SchemaRetries and SchemaRetryBackoff govern the ensure-schema retry
	// loop; the operation is idempotent and safe to repeat.
	SchemaRetries      int           `mapstructure:"schema_retries" yaml:"schema_retries"`
	SchemaRetryBackoff time.Duration `mapstructure:"schema_retry_backoff" yaml:"schema_retry_backoff"`
}

// RiskConfig holds the FMEA thresholds and chain traversal bounds. Levels are
// a pure function of RPN against these thresholds.
type RiskConfig struct {
	CriticalThreshold int `mapstructure:"critical_threshold" yaml:"critical_threshold"`
	HighThreshold     int `mapstructure:"high_threshold" yaml:"high_threshold"`
	MediumThreshold   int `mapstructure:"medium_threshold" yaml:"medium_threshold"`
	MaxChainDepth     int `mapstructure:"max_chain_depth" yaml:"max_chain_depth"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tracegraph")
	v.SetDefault("logger.log_file", "tracegraph.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tracegraph")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "tracegraph")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.acquire_timeout", "10s")

	// -- Graph limits --
	v.SetDefault("graph.max_traversal_depth", 5)
	v.SetDefault("graph.default_result_limit", 1000)
	v.SetDefault("graph.hard_result_limit", 5000)
	v.SetDefault("graph.schema_retries", 3)
	v.SetDefault("graph.schema_retry_backoff", "500ms")

	// -- Risk thresholds --
	v.SetDefault("risk.critical_threshold", 200)
	v.SetDefault("risk.high_threshold", 100)
	v.SetDefault("risk.medium_threshold", 50)
	v.SetDefault("risk.max_chain_depth", 5)
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Graph.MaxTraversalDepth < 1 {
		return fmt.Errorf("graph.max_traversal_depth must be >= 1, got %d", c.Graph.MaxTraversalDepth)
	}
	if c.Graph.HardResultLimit < c.Graph.DefaultResultLimit {
		return fmt.Errorf("graph.hard_result_limit (%d) must not be below graph.default_result_limit (%d)",
			c.Graph.HardResultLimit, c.Graph.DefaultResultLimit)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database.max_conns (%d) must not be below database.min_conns (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Risk.CriticalThreshold < c.Risk.HighThreshold || c.Risk.HighThreshold < c.Risk.MediumThreshold {
		return fmt.Errorf("risk thresholds must be ordered critical >= high >= medium")
	}
	return nil
}
