package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LOGIN_MGMT_PARTNER_BASE_URL.
const EnvPrefix = "LOGIN_MGMT"

// Config is the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Partner   PartnerConfig   `mapstructure:"partner"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds the HTTP trigger surface settings
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"` // gin mode: debug, release, test
	Timezone string `mapstructure:"timezone"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"` // text or json
}

// DBConfig holds database settings
type DBConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	File     string `mapstructure:"file"`   // for SQLite
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// PartnerConfig holds the partner identity API settings
type PartnerConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	AuthURL             string        `mapstructure:"auth_url"`
	AuthorizationHeader string        `mapstructure:"authorization_header"`
	Scope               string        `mapstructure:"scope"`
	PartnerUUID         string        `mapstructure:"partner_uuid"`
	UserProfileID       int           `mapstructure:"user_profile_id"`
	History             string        `mapstructure:"history"` // free text sent with block/unblock
	Timeout             time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig controls the periodic drain
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	PacingDelay time.Duration `mapstructure:"pacing_delay"`
}

// MQTTConfig holds the outcome publisher settings
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// AuditConfig selects the language of change-log texts
type AuditConfig struct {
	Locale string `mapstructure:"locale"`
}

// Load reads configuration from file, environment variables and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables override the file
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.DB.Driver = strings.ToLower(cfg.DB.Driver)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.Enabled {
		if c.Partner.BaseURL == "" {
			errs = append(errs, errors.New("partner.base_url is required"))
		}
		if c.Partner.AuthURL == "" {
			errs = append(errs, errors.New("partner.auth_url is required"))
		}
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported db.driver %q", c.DB.Driver))
	}
	if c.Scheduler.PacingDelay < 0 {
		errs = append(errs, errors.New("scheduler.pacing_delay must not be negative"))
	}
	return errors.Join(errs...)
}

// setDefaults sets the default values for every known key
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timezone", "America/Sao_Paulo")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.format", "text")

	// DB
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.file", "/data/login-management.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "login_management")
	v.SetDefault("db.ssl_mode", "disable")

	// Partner API
	v.SetDefault("partner.base_url", "")
	v.SetDefault("partner.auth_url", "")
	v.SetDefault("partner.authorization_header", "")
	v.SetDefault("partner.scope", "partner_management")
	v.SetDefault("partner.partner_uuid", "")
	v.SetDefault("partner.user_profile_id", 1)
	v.SetDefault("partner.history", "iCred block")
	v.SetDefault("partner.timeout", 30*time.Second)

	// Scheduler
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.pacing_delay", 500*time.Millisecond)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "login-management")
	v.SetDefault("mqtt.topic", "login-management/outcomes")

	// Audit
	v.SetDefault("audit.locale", "pt-BR")
}

// ensureDirectories makes sure the log and SQLite directories exist
func ensureDirectories(cfg *Config) error {
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.Driver == "sqlite" && cfg.DB.File != "" && cfg.DB.File != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
