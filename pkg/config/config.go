// Package config provides a reusable loader for the node's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bosonnetwork/godht/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// BootstrapPeer is an initial [id, host, port] triple (spec §6).
type BootstrapPeer struct {
	Id   string `mapstructure:"id" json:"id"`
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Config is the set of parameters the core consumes (spec §6). CLI flag
// parsing and config-file schema glue are deliberately left outside this
// package.
type Config struct {
	Host4 string `mapstructure:"host4" json:"host4"`
	Host6 string `mapstructure:"host6" json:"host6"`
	Port  int    `mapstructure:"port" json:"port"`

	PrivateKeySeedHex string `mapstructure:"private_key" json:"private_key"`
	DataDir           string `mapstructure:"data_dir" json:"data_dir"`
	StorageURI        string `mapstructure:"storage_uri" json:"storage_uri"`

	// SchemaName optionally selects a PostgreSQL schema to create and use
	// for the relational storage backend (spec §4.13 step 2). It is
	// rejected for any other SQL product.
	SchemaName string `mapstructure:"schema_name" json:"schema_name"`

	Bootstraps []BootstrapPeer `mapstructure:"bootstraps" json:"bootstraps"`

	EnableSpamThrottling         bool `mapstructure:"enable_spam_throttling" json:"enable_spam_throttling"`
	EnableSuspiciousNodeDetector bool `mapstructure:"enable_suspicious_node_detector" json:"enable_suspicious_node_detector"`
	EnableDeveloperMode          bool `mapstructure:"enable_developer_mode" json:"enable_developer_mode"`
	EnableMetrics                bool `mapstructure:"enable_metrics" json:"enable_metrics"`

	// MetricsAddr is the bind address for the Prometheus /metrics endpoint,
	// used only when EnableMetrics is set.
	MetricsAddr string `mapstructure:"metrics_addr" json:"metrics_addr"`

	ValueExpiration string `mapstructure:"value_expiration" json:"value_expiration"`
	PeerExpiration  string `mapstructure:"peer_expiration" json:"peer_expiration"`
}

// Default returns a Config with the spec's stated defaults: spam throttling
// and the suspicious-node detector on, developer mode and metrics off, 2h
// expirations for both values and peers.
func Default() *Config {
	return &Config{
		Port:                         39001,
		EnableSpamThrottling:         true,
		EnableSuspiciousNodeDetector: true,
		MetricsAddr:                  ":9100",
		ValueExpiration:              "2h",
		PeerExpiration:               "2h",
	}
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides, then layers a .env file and real environment variables on top.
// The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded. A
// missing config file is not an error — Default() values still apply.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	AppConfig = *cfg
	return cfg, nil
}

// LoadFromEnv loads configuration using the GODHT_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("GODHT_ENV", ""))
}
