package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`
	Storage struct {
		// Driver is "postgres" or "memory". Memory is for local play
		// and tests; it keeps everything in one process.
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Feed struct {
		// Driver is "postgres" (trigger LISTEN/NOTIFY), "nats", or
		// "poll" (no push, watchers poll).
		Driver        string        `yaml:"driver"`
		NotifyChannel string        `yaml:"notify_channel"`
		NATSURL       string        `yaml:"nats_url"`
		PollInterval  time.Duration `yaml:"poll_interval"`
	} `yaml:"feed"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
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

func loadConfig(path string) (*Config, error) {
	var config Config
	config.Server.Addr = ":8080"
	config.Server.PublicURL = "http://localhost:8080"
	config.Storage.Driver = "postgres"
	config.Feed.Driver = "postgres"

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func databaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "wavelength"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}
