package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Log         LogConfig      `mapstructure:"log"`
	Matching    MatchingConfig `mapstructure:"matching"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Schedule    ScheduleConfig `mapstructure:"schedule"`
	DB          DBConfig       `mapstructure:"db"`
	Gates       []GateConfig   `mapstructure:"gates"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the JWT settings for operator endpoints. An empty secret
// disables authentication.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json or console
	Capacity int    `mapstructure:"capacity"`
}

type MatchingConfig struct {
	FuzzyThreshold int `mapstructure:"fuzzy_threshold"`
}

type PipelineConfig struct {
	AutoDetectDefault bool `mapstructure:"auto_detect_default"`
}

type ScheduleConfig struct {
	OverdueGrace time.Duration `mapstructure:"overdue_grace"`
}

type DBConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type GateConfig struct {
	ID         string `mapstructure:"id"`
	CameraID   string `mapstructure:"camera_id"`
	CameraName string `mapstructure:"camera_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.capacity", 1000)
	v.SetDefault("matching.fuzzy_threshold", 1)
	v.SetDefault("pipeline.auto_detect_default", false)
	v.SetDefault("schedule.overdue_grace", 15*time.Minute)
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.retention_days", 30)
	v.SetDefault("db.cleanup_interval", 24*time.Hour)
}

// Load reads configuration from path (optional, any format viper knows) and
// from RECONCILER_* environment variables, which take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Log.Capacity < 0 {
		errs = append(errs, errors.New("log.capacity cannot be negative"))
	}
	if c.Matching.FuzzyThreshold < 0 {
		errs = append(errs, errors.New("matching.fuzzy_threshold cannot be negative"))
	}
	if c.Schedule.OverdueGrace < 0 {
		errs = append(errs, errors.New("schedule.overdue_grace cannot be negative"))
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required when db.enabled is set"))
	}
	seen := make(map[string]bool, len(c.Gates))
	for i, g := range c.Gates {
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("gates[%d].id is required", i))
			continue
		}
		if seen[g.ID] {
			errs = append(errs, fmt.Errorf("gate %q configured twice", g.ID))
		}
		seen[g.ID] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
