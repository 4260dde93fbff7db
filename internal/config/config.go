// Package config loads and validates sync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Store drivers.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Archive drivers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig describes the remote journal API.
type APIConfig struct {
	URL            string `mapstructure:"url"`
	PageSize       int    `mapstructure:"page_size"`
	Order          string `mapstructure:"order"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	// InsecureSkipVerify disables TLS certificate checks. Internal/testing use only.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// OAuthConfig holds the OAuth1 credential set.
type OAuthConfig struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	Token          string `mapstructure:"token"`
	TokenSecret    string `mapstructure:"token_secret"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// MongoConfig controls the MongoDB document store.
type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PostgresConfig controls the Postgres JSONB document store.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// ArchiveConfig controls where raw detail responses are copied.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for entry-synced notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// envAliases maps config keys to the bare variable names used by existing deployments.
var envAliases = map[string]string{
	"api.url":               "API_URL",
	"store.mongo.uri":       "MONGO_URI",
	"oauth.consumer_key":    "OAUTH_CONSUMER_KEY",
	"oauth.consumer_secret": "OAUTH_CONSUMER_SECRET",
	"oauth.token":           "OAUTH_TOKEN",
	"oauth.token_secret":    "OAUTH_TOKEN_SECRET",
}

// LoadDotEnv loads variables from the given .env files (default ".env") without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := gotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PENZU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys Viper already knows, so every leaf is bound.
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		names := []string{"PENZU_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := envAliases[key]; ok {
			names = append(names, alias)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// configKeys lists the dotted mapstructure keys of every leaf field in t.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(field.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.page_size", 10)
	v.SetDefault("api.order", "cad")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.user_agent", "penzu-sync/1.0")
	v.SetDefault("api.insecure_skip_verify", false)
	v.SetDefault("store.driver", StoreMongo)
	v.SetDefault("store.mongo.database", "penzu")
	v.SetDefault("store.mongo.collection", "entries")
	v.SetDefault("store.mongo.timeout_seconds", 10)
	v.SetDefault("store.postgres.table", "entries")
	v.SetDefault("store.postgres.max_conns", 2)
	v.SetDefault("store.postgres.auto_migrate", false)
	v.SetDefault("archive.driver", ArchiveNone)
	v.SetDefault("archive.prefix", "entries")
	v.SetDefault("metrics.job", "penzu_sync")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateAPIURL(c.API.URL); err != nil {
		return err
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if strings.TrimSpace(c.API.Order) == "" {
		return fmt.Errorf("api.order must be set")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.OAuth.ConsumerKey == "" || c.OAuth.ConsumerSecret == "" || c.OAuth.Token == "" || c.OAuth.TokenSecret == "" {
		return fmt.Errorf("oauth consumer_key, consumer_secret, token and token_secret are required")
	}

	switch c.Store.Driver {
	case StoreMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri (MONGO_URI) must be set when store.driver is mongo")
		}
		if c.Store.Mongo.Database == "" || c.Store.Mongo.Collection == "" {
			return fmt.Errorf("store.mongo.database and store.mongo.collection must be set")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.driver is postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Archive.Driver {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.driver is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.driver is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}

	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

func validateAPIURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("api.url (API_URL) must be set")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api.url is invalid: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.url must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

// RequestTimeout converts the API timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// MongoTimeout bounds connect and disconnect calls.
func (c Config) MongoTimeout() time.Duration {
	return time.Duration(c.Store.Mongo.TimeoutSeconds) * time.Second
}
