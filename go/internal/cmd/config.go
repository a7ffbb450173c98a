package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/mcdev12/tablematch/go/internal/sessions"
	"gopkg.in/yaml.v3"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeRedis    = "redis"
	busNATS       = "nats"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Lobby struct {
		Store          string        `yaml:"store"` // memory or postgres
		MaxAge         time.Duration `yaml:"max_age"`
		MigrateOnStart bool          `yaml:"migrate_on_start"`
	} `yaml:"lobby"`

	Sessions struct {
		Store string `yaml:"store"` // memory or redis
		Redis struct {
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"sessions"`

	Bus struct {
		Kind string `yaml:"kind"` // memory or nats
		NATS struct {
			URL        string `yaml:"url"`
			StreamName string `yaml:"stream_name"`
			InstanceID string `yaml:"instance_id"`
		} `yaml:"nats"`
	} `yaml:"bus"`

	Categories struct {
		CatalogPath   string `yaml:"catalog_path"`
		DefaultRegion string `yaml:"default_region"`
	} `yaml:"categories"`
}

func defaultConfig() *Config {
	var c Config
	c.Server.Port = "8080"
	c.Lobby.Store = storeMemory
	c.Lobby.MaxAge = gate.DefaultMaxLobbyAge
	c.Sessions.Store = storeMemory
	c.Sessions.Redis.Addr = "localhost:6379"
	c.Sessions.Redis.TTL = sessions.DefaultSessionTTL
	c.Bus.Kind = storeMemory
	c.Bus.NATS.URL = notify.DefaultNATSConfig().URL
	c.Bus.NATS.StreamName = notify.DefaultNATSConfig().StreamName
	c.Categories.DefaultRegion = "US"
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv lets environment variables override file values.
func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Lobby.Store = getEnv("LOBBY_STORE", c.Lobby.Store)
	c.Lobby.MaxAge = getEnvAsDuration("LOBBY_MAX_AGE", c.Lobby.MaxAge)
	c.Lobby.MigrateOnStart = getEnvAsBool("MIGRATE_ON_START", c.Lobby.MigrateOnStart)
	c.Sessions.Store = getEnv("SESSION_STORE", c.Sessions.Store)
	c.Sessions.Redis.Addr = getEnv("REDIS_ADDR", c.Sessions.Redis.Addr)
	c.Sessions.Redis.Password = getEnv("REDIS_PASSWORD", c.Sessions.Redis.Password)
	c.Sessions.Redis.DB = getEnvAsInt("REDIS_DB", c.Sessions.Redis.DB)
	c.Sessions.Redis.TTL = getEnvAsDuration("SESSION_TTL", c.Sessions.Redis.TTL)
	c.Bus.Kind = getEnv("BUS_KIND", c.Bus.Kind)
	c.Bus.NATS.URL = getEnv("NATS_URL", c.Bus.NATS.URL)
	c.Bus.NATS.InstanceID = getEnv("GATEWAY_INSTANCE_ID", c.Bus.NATS.InstanceID)
	c.Categories.CatalogPath = getEnv("CATEGORY_CATALOG", c.Categories.CatalogPath)
	c.Categories.DefaultRegion = getEnv("DEFAULT_REGION", c.Categories.DefaultRegion)
}

func (c *Config) validate() error {
	switch c.Lobby.Store {
	case storeMemory, storePostgres:
	default:
		return fmt.Errorf("unknown lobby store %q", c.Lobby.Store)
	}
	switch c.Sessions.Store {
	case storeMemory, storeRedis:
	default:
		return fmt.Errorf("unknown session store %q", c.Sessions.Store)
	}
	switch c.Bus.Kind {
	case storeMemory, busNATS:
	default:
		return fmt.Errorf("unknown bus kind %q", c.Bus.Kind)
	}
	return nil
}

func (c *Config) redisConfig() sessions.RedisConfig {
	return sessions.RedisConfig{
		Addr:     c.Sessions.Redis.Addr,
		Password: c.Sessions.Redis.Password,
		DB:       c.Sessions.Redis.DB,
		TTL:      c.Sessions.Redis.TTL,
	}
}

func (c *Config) natsConfig() notify.NATSConfig {
	cfg := notify.DefaultNATSConfig()
	cfg.URL = c.Bus.NATS.URL
	if c.Bus.NATS.StreamName != "" {
		cfg.StreamName = c.Bus.NATS.StreamName
	}
	if c.Bus.NATS.InstanceID != "" {
		cfg.InstanceID = c.Bus.NATS.InstanceID
	}
	return cfg
}
