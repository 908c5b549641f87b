// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Source    SourceConfig    `mapstructure:"source"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port" validate:"gt=0,lte=65535"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// AuthConfig guards the trigger endpoint with a shared secret.
type AuthConfig struct {
	Required bool   `mapstructure:"required"`
	Token    string `mapstructure:"token"`
}

// TrackerConfig selects whose solves are collected and under which policy.
type TrackerConfig struct {
	Username    string `mapstructure:"username" validate:"required"`
	Timezone    string `mapstructure:"timezone" validate:"required"`
	Window      string `mapstructure:"window" validate:"oneof=calendar_day rolling_24h"`
	Persistence string `mapstructure:"persistence" validate:"oneof=upsert_merge insert_only"`
}

// SourceConfig configures the LeetCode GraphQL client.
type SourceConfig struct {
	Endpoint       string  `mapstructure:"endpoint" validate:"required,url"`
	Limit          int     `mapstructure:"limit" validate:"gt=0,lte=100"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" validate:"gt=0"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second" validate:"gte=0"`
}

// StorageConfig picks the entry store and the raw snapshot sink.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory postgres mongo"`
	Snapshots string `mapstructure:"snapshots" validate:"oneof=none memory local gcs"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	FetchTable      string        `mapstructure:"fetch_table"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MongoConfig controls access to MongoDB.
type MongoConfig struct {
	URI             string `mapstructure:"uri"`
	Database        string `mapstructure:"database"`
	Collection      string `mapstructure:"collection"`
	FetchCollection string `mapstructure:"fetch_collection"`
}

// PubSubConfig holds metadata for saved-run notifications. A topic without
// a project publishes to an in-process recorder.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
}

// legacyEnv maps config keys to the variable names of the original
// deployment, checked after the prefixed name.
var legacyEnv = map[string]string{
	"mongo.uri":        "MONGO_URI",
	"auth.token":       "CRON_TOKEN",
	"tracker.username": "LEETCODE_USERNAME",
	"server.port":      "PORT",
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LEETDAILY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "LEETDAILY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
		if cfg.Mongo.URI != "" {
			cfg.Storage.Backend = "mongo"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.required", true)
	v.SetDefault("auth.token", "")
	v.SetDefault("tracker.username", "")
	v.SetDefault("tracker.timezone", "UTC")
	v.SetDefault("tracker.window", string(solves.WindowCalendarDay))
	v.SetDefault("tracker.persistence", string(solves.PersistUpsertMerge))
	v.SetDefault("source.endpoint", "https://leetcode.com/graphql")
	v.SetDefault("source.limit", 50)
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.user_agent", "leetdaily/0.1")
	v.SetDefault("source.rate_per_second", 1.0)
	// Empty means inferred from mongo.uri in Load.
	v.SetDefault("storage.backend", "")
	v.SetDefault("storage.snapshots", "none")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "daily_problems")
	v.SetDefault("database.fetch_table", "problem_fetches")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "leetcode")
	v.SetDefault("mongo.collection", "dailyproblems")
	v.SetDefault("mongo.fetch_collection", "problemfetches")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "leetdaily")
	v.SetDefault("telemetry.tracing_enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			return fmt.Errorf("%s failed %q validation (got %v)", key, fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Server.RequestTimeoutSeconds <= c.Source.TimeoutSeconds {
		return fmt.Errorf("server.request_timeout_seconds (%d) must exceed source.timeout_seconds (%d)",
			c.Server.RequestTimeoutSeconds, c.Source.TimeoutSeconds)
	}
	if c.Auth.Required && c.Auth.Token == "" {
		return fmt.Errorf("auth.token must be set when auth is required")
	}
	if _, err := time.LoadLocation(c.Tracker.Timezone); err != nil {
		return fmt.Errorf("tracker.timezone %q is not a known zone: %w", c.Tracker.Timezone, err)
	}
	switch c.Storage.Backend {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri must be set for the mongo backend")
		}
	}
	if c.Storage.Snapshots == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when snapshots use gcs")
	}
	if c.Storage.Snapshots == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when snapshots use local")
	}
	return nil
}

// Location resolves the tracker's reference time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load tracker timezone: %w", err)
	}
	return loc, nil
}

// Policy assembles the collector policy from the tracker and auth sections.
func (c Config) Policy() (solves.Policy, error) {
	loc, err := c.Location()
	if err != nil {
		return solves.Policy{}, err
	}
	p := solves.Policy{
		Window:       solves.WindowPolicy(c.Tracker.Window),
		Persistence:  solves.PersistencePolicy(c.Tracker.Persistence),
		AuthRequired: c.Auth.Required,
		Location:     loc,
	}
	if err := p.Validate(); err != nil {
		return solves.Policy{}, fmt.Errorf("tracker policy: %w", err)
	}
	return p, nil
}

// SourceTimeout converts the source timeout into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// RequestTimeout converts the server request timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}
