package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server Server
	Store  Store
	Feed   Feed
	JWT    JWT
	Engine Engine
	Log    Log
}

type Server struct {
	Addr string
}

type Store struct {
	Backend       string // memory | bolt | postgres | mongo
	BoltPath      string `mapstructure:"bolt_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type Feed struct {
	Backend   string // local | redis | mongo
	RedisAddr string `mapstructure:"redis_addr"`
}

type JWT struct {
	Secret string
}

type Engine struct {
	ConflictRetries int `mapstructure:"conflict_retries"`
}

type Log struct {
	Level  string
	Format string // text | json
}

var (
	storeBackends = []string{"memory", "bolt", "postgres", "mongo"}
	feedBackends  = []string{"local", "redis", "mongo"}
)

// Load reads config/dmsync.yaml (or path when set) and applies DMSYNC_*
// environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dmsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names the docker setup already exports.
	_ = v.BindEnv("store.postgres_dsn", "DMSYNC_STORE_POSTGRES_DSN", "DB_DSN")
	_ = v.BindEnv("feed.redis_addr", "DMSYNC_FEED_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("jwt.secret", "DMSYNC_JWT_SECRET", "JWT_SECRET")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.bolt_path", "dmsync.db")
	v.SetDefault("store.mongo_database", "dmsync")
	v.SetDefault("feed.backend", "local")
	v.SetDefault("feed.redis_addr", "localhost:6379")
	v.SetDefault("engine.conflict_retries", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks the settings serve needs.
func (c *Config) Validate() error {
	if !slices.Contains(storeBackends, c.Store.Backend) {
		return fmt.Errorf("store.backend %q: must be one of %v", c.Store.Backend, storeBackends)
	}
	if !slices.Contains(feedBackends, c.Feed.Backend) {
		return fmt.Errorf("feed.backend %q: must be one of %v", c.Feed.Backend, feedBackends)
	}
	switch {
	case c.Store.Backend == "postgres" && c.Store.PostgresDSN == "":
		return errors.New("store.postgres_dsn is required for the postgres backend")
	case c.Store.Backend == "mongo" && c.Store.MongoURI == "":
		return errors.New("store.mongo_uri is required for the mongo backend")
	case c.Feed.Backend == "mongo" && c.Store.Backend != "mongo":
		return errors.New("feed.backend mongo needs store.backend mongo")
	case c.JWT.Secret == "":
		return errors.New("jwt.secret is not set")
	case c.Engine.ConflictRetries < 0:
		return errors.New("engine.conflict_retries must not be negative")
	}
	return nil
}
