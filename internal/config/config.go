package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

type HTTP struct {
	Port int `yaml:"port"`
}

type Capacity struct {
	// Fallbacks applied when a restaurant has no capacity_settings row yet.
	MaxActiveOrders    int `yaml:"max_active_orders"`
	DefaultPrepMinutes int `yaml:"default_prep_minutes"`
	SettingsCacheTTL   int `yaml:"settings_cache_ttl_seconds"`
}

type Boards struct {
	TokenTTL int `yaml:"token_ttl_seconds"`
}

type Config struct {
	Database Database `yaml:"database"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	HTTP     HTTP     `yaml:"http"`
	Capacity Capacity `yaml:"capacity"`
	Boards   Boards   `yaml:"boards"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	cfg.Database.Port = 5432
	cfg.Database.SSLMode = "disable"
	cfg.RabbitMQ.Port = 5672
	cfg.RabbitMQ.VHost = "/"
	cfg.HTTP.Port = 3000
	cfg.Capacity.MaxActiveOrders = 40
	cfg.Capacity.DefaultPrepMinutes = 15
	cfg.Capacity.SettingsCacheTTL = 5
	cfg.Boards.TokenTTL = 900

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Database.Host == "" || cfg.Database.User == "" || cfg.Database.Database == "" {
		return nil, fmt.Errorf("database config incomplete")
	}
	if cfg.RabbitMQ.Host == "" || cfg.RabbitMQ.User == "" {
		return nil, fmt.Errorf("rabbitmq config incomplete")
	}
	return cfg, nil
}

func (c Capacity) CacheTTL() time.Duration { return time.Duration(c.SettingsCacheTTL) * time.Second }

func (b Boards) TTL() time.Duration { return time.Duration(b.TokenTTL) * time.Second }
