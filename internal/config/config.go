package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration, loaded from configs/*.yaml and
// overridden by ACEMARKET_*-prefixed environment variables per spec.md §6.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	API        APIConfig        `mapstructure:"api"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains Postgres connection settings. DSN, when set
// (normally from ACEMARKET_DB), takes priority over the structured fields —
// internal/db.New reads ACEMARKET_DB directly, so DSN exists here only for
// config-file-driven deployments and validation.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// APIConfig contains REST API server and auth/CORS settings.
type APIConfig struct {
	Host                  string   `mapstructure:"host"`
	Port                  int      `mapstructure:"port"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
	DisableAuth           bool     `mapstructure:"disable_auth"`
	GoogleCredentialsPath string   `mapstructure:"google_credentials_path"`
}

// MarketDataConfig contains the upstream data-provider settings consumed by
// internal/marketdata.NewHTTPProviderFromEnv.
type MarketDataConfig struct {
	APIBase string `mapstructure:"api_base"`
	APIKey  string `mapstructure:"api_key"`
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ACEMARKET")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Spec's literal environment variable names take priority over the
	// structured viper keys, per SPEC_FULL.md §6.
	if dsn := v.GetString("db"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if origins := v.GetString("cors_origins"); origins != "" {
		cfg.API.CORSOrigins = splitCSV(origins)
	}
	if v.IsSet("disable_auth") {
		cfg.API.DisableAuth = v.GetBool("disable_auth")
	}
	if creds := v.GetString("google_application_credentials"); creds != "" {
		cfg.API.GoogleCredentialsPath = creds
	}
	if env := v.GetString("environment"); env != "" {
		cfg.App.Environment = env
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.App.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "acemarket")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "acemarket")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.disable_auth", false)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string, preferring an explicit DSN.
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetAPIAddr returns the API server listen address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
