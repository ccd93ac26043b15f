// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OrgAccount holds the calendar credential for one organization member.
type OrgAccount struct {
	OrganizationID string `yaml:"organization_id"`
	OwnerID        string `yaml:"owner_id"`
	Provider       string `yaml:"provider"` // "google" or "microsoft"
	RefreshToken   string `yaml:"refresh_token"`
}

// Config holds all configuration for the calendar sync service.
type Config struct {
	Accounts []OrgAccount

	// Provider Gateway
	ProviderBaseURL string
	ProviderAPIKey  string

	// Recording bot
	BotBaseURL string
	BotAPIKey  string

	// Postgres / Redis
	DatabaseURL string
	RedisURL    string
	UsageQueue  string

	// Notification sink (best-effort, empty disables it)
	NotifyURL string

	// Pipeline tuning
	EventWindow time.Duration // how far ahead to fetch events
	CallTimeout time.Duration // deadline on each outbound call
	BatchSize   int

	// Server (health + sync triggers)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts []OrgAccount `yaml:"organizations"`
	Provider struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"provider"`
	Bot struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"bot"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Usage string `yaml:"usage"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Notify struct {
		URL string `yaml:"url"`
	} `yaml:"notify"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. Missing gateway or bot
// credentials fail the load so the process never starts half-configured.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		ProviderBaseURL: firstNonEmpty(raw.Provider.BaseURL, os.Getenv("PROVIDER_BASE_URL")),
		ProviderAPIKey:  firstNonEmpty(raw.Provider.APIKey, os.Getenv("PROVIDER_API_KEY")),
		BotBaseURL:      firstNonEmpty(raw.Bot.BaseURL, os.Getenv("BOT_BASE_URL")),
		BotAPIKey:       firstNonEmpty(raw.Bot.APIKey, os.Getenv("BOT_API_KEY")),
		DatabaseURL:     envOrDefault("DATABASE_URL", "postgres://localhost:5432/calsync"),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		UsageQueue:      firstNonEmpty(raw.Redis.Queues.Usage, envOrDefault("USAGE_QUEUE", "usage_events")),
		NotifyURL:       firstNonEmpty(raw.Notify.URL, os.Getenv("NOTIFY_URL")),
		EventWindow:     envOrDefaultDuration("EVENT_WINDOW", 7*24*time.Hour),
		CallTimeout:     envOrDefaultDuration("CALL_TIMEOUT", 30*time.Second),
		BatchSize:       envOrDefaultInt("BATCH_SIZE", 1000),
		Port:            envOrDefaultInt("PORT", 8080),
	}

	// Build account list, skipping entries with empty credentials
	// (commented out in YAML).
	for _, a := range raw.Accounts {
		if a.OrganizationID == "" || a.OwnerID == "" || a.RefreshToken == "" {
			continue
		}
		if a.Provider == "" {
			a.Provider = "google"
		}
		cfg.Accounts = append(cfg.Accounts, a)
	}

	if cfg.ProviderBaseURL == "" || cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("provider gateway base_url and api_key are required — check config.yaml and environment variables")
	}
	if cfg.BotBaseURL == "" || cfg.BotAPIKey == "" {
		return nil, fmt.Errorf("recording bot base_url and api_key are required — check config.yaml and environment variables")
	}

	return cfg, nil
}

// FindAccount returns the account for an organization and provider, or nil.
func (c *Config) FindAccount(orgID, provider string) *OrgAccount {
	for i := range c.Accounts {
		if c.Accounts[i].OrganizationID == orgID && c.Accounts[i].Provider == provider {
			return &c.Accounts[i]
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
