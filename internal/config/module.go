package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Database     DatabaseConfig     `yaml:"database"`
	Notification NotificationConfig `yaml:"notification"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Auth         AuthConfig         `yaml:"auth"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GRPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig points at the CRM Postgres. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	Migrate     bool   `yaml:"migrate"`
	SeedCatalog bool   `yaml:"seed_catalog"`
}

type NotificationConfig struct {
	SendURL  string `yaml:"send_url"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
	Timezone string `yaml:"timezone"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8130,
		},
		GRPC: GRPCConfig{
			Host: "0.0.0.0",
			Port: 9130,
		},
		Notification: NotificationConfig{
			Timeout:  "15s",
			Timezone: "Europe/Paris",
		},
	}
}

func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("APP_HTTP_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_GRPC_HOST")); v != "" {
		cfg.GRPC.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_GRPC_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.GRPC.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	} else if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATABASE_MIGRATE")); v != "" {
		cfg.Database.Migrate = v == "true" || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATABASE_SEED_CATALOG")); v != "" {
		cfg.Database.SeedCatalog = v == "true" || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("APP_NOTIFICATION_SEND_URL")); v != "" {
		cfg.Notification.SendURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_NOTIFICATION_API_KEY")); v != "" {
		cfg.Notification.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_NOTIFICATION_TIMEOUT")); v != "" {
		cfg.Notification.Timeout = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_NOTIFICATION_TIMEZONE")); v != "" {
		cfg.Notification.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_CATALOG_PATH")); v != "" {
		cfg.Catalog.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_AUTH_JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}

	return cfg, nil
}

func Module(path string) fx.Option {
	return fx.Provide(func() (Config, error) {
		return Load(path)
	})
}
