// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the base name of the config file (erpilotd.yaml).
const DefaultConfigFileName = "erpilotd"

// Config holds all configuration for the ERPilot daemon.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Turn     TurnConfig     `mapstructure:"turn"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Schema   string `mapstructure:"schema"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Remote   bool   `mapstructure:"remote"`
}

// LLMConfig holds provider settings. Model drives coordination and agents;
// FastModel serves cheap auxiliary calls (vernacular extraction, memory,
// compaction, titles).
type LLMConfig struct {
	Provider          string  `mapstructure:"provider"`
	APIKey            string  `mapstructure:"api_key"`
	Endpoint          string  `mapstructure:"endpoint"`
	Model             string  `mapstructure:"model"`
	FastModel         string  `mapstructure:"fast_model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// VaultConfig holds credential encryption keys, keyed by version. Keys are
// base64-encoded 32-byte values; Primary selects the encryption key while
// older versions remain for decryption.
type VaultConfig struct {
	Keys    map[string]string `mapstructure:"keys"`
	Primary int               `mapstructure:"primary"`
}

// IntKeys converts the string-keyed map viper produces into the vault's
// version-keyed form.
func (v VaultConfig) IntKeys() (map[int]string, error) {
	keys := make(map[int]string, len(v.Keys))
	for raw, key := range v.Keys {
		version, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("vault key version %q is not a number", raw)
		}
		keys[version] = key
	}
	return keys, nil
}

// TurnConfig bounds chat turn execution.
type TurnConfig struct {
	HistoryPairs  int `mapstructure:"history_pairs"`
	BudgetSeconds int `mapstructure:"budget_seconds"`
}

// ToolsConfig holds tool governance settings.
type ToolsConfig struct {
	// RateLimits overrides per-tool calls-per-minute limits.
	RateLimits map[string]int `mapstructure:"rate_limits"`
	// WorkspaceDir is the root of the synced tenant file tree; empty
	// disables the workspace tools.
	WorkspaceDir string `mapstructure:"workspace_dir"`
	// SuiteQLMaxRows caps rows returned to the model.
	SuiteQLMaxRows int `mapstructure:"suiteql_max_rows"`
}

// WorkersConfig schedules background jobs. Cron expressions use the
// standard 5-field form; an empty expression disables that worker.
type WorkersConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	ReconcileCron      string `mapstructure:"reconcile_cron"`
	RetentionCron      string `mapstructure:"retention_cron"`
	DiscoveryCron      string `mapstructure:"discovery_cron"`
	ImportCron         string `mapstructure:"import_cron"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
	DocumentDir        string `mapstructure:"document_dir"`
	ImportTenant       string `mapstructure:"import_tenant"`
}

// BillingConfig points at the external usage meter. An empty endpoint
// disables metered-usage reconciliation.
type BillingConfig struct {
	MeterEndpoint string `mapstructure:"meter_endpoint"`
	MeterAPIKey   string `mapstructure:"meter_api_key"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file, environment and defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/erpilot/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// No config file; defaults + env vars + flags.
	}

	viper.SetEnvPrefix("ERPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.schema", "public")

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "claude-sonnet-4-5")
	viper.SetDefault("llm.fast_model", "claude-haiku-4-5")
	viper.SetDefault("llm.timeout_seconds", 120)

	viper.SetDefault("vault.primary", 1)

	viper.SetDefault("turn.history_pairs", 10)
	viper.SetDefault("turn.budget_seconds", 180)

	viper.SetDefault("tools.suiteql_max_rows", 1000)

	viper.SetDefault("workers.enabled", true)
	viper.SetDefault("workers.reconcile_cron", "*/10 * * * *")
	viper.SetDefault("workers.retention_cron", "30 3 * * *")
	viper.SetDefault("workers.discovery_cron", "0 4 * * *")
	viper.SetDefault("workers.import_cron", "")
	viper.SetDefault("workers.audit_retention_days", 90)
	viper.SetDefault("workers.import_tenant", "system")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
