// Package config loads Lattice runtime configuration from YAML, a
// local .env file, and the environment, using viper and godotenv. A
// zero-value Config is never used directly: Load always starts from
// Defaults() so every option has a sane value even when no file or
// env var sets it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SchedulerWeights are the α, β, γ coefficients of the scheduler's
// cold-start cost function: cost = α·(1-headroom) + β·transfer_estimate
// + γ·cold_start_cost.
type SchedulerWeights struct {
	Alpha float64 `mapstructure:"alpha"`
	Beta  float64 `mapstructure:"beta"`
	Gamma float64 `mapstructure:"gamma"`
}

// Config holds every tunable named by the runtime's spec plus the
// process-level settings needed to stand up a peer.
type Config struct {
	// Process settings
	BindAddress          string `mapstructure:"bind_address"`
	PeerAddress          string `mapstructure:"peer_address"`
	AdminAddress         string `mapstructure:"admin_address"`
	TransportAddress     string `mapstructure:"transport_address"`
	DataDir              string `mapstructure:"data_dir"`
	CertDir              string `mapstructure:"cert_dir"`
	ObjectStoreRedisAddr string `mapstructure:"object_store_redis_addr"`
	LogLevel             string `mapstructure:"log_level"`
	LogJSON              bool   `mapstructure:"log_json"`
	MeshID               string `mapstructure:"mesh_id"`

	// Scheduling and placement
	ColdStartTimeout     time.Duration    `mapstructure:"cold_start_timeout"`
	DeadProviderTimeout  time.Duration    `mapstructure:"dead_provider_timeout"`
	SchedulerWeights     SchedulerWeights `mapstructure:"scheduler_weights"`

	// Peer gossip
	PeerGossipInterval time.Duration `mapstructure:"peer_gossip_interval"`
	PeerMissThreshold  int           `mapstructure:"peer_miss_threshold"`

	// Task and component lifecycle
	DependencyInstallTimeout     time.Duration `mapstructure:"dependency_install_timeout"`
	TaskDefaultTimeout           time.Duration `mapstructure:"task_default_timeout"`
	ObjectRetentionAfterWorkflow time.Duration `mapstructure:"object_retention_after_workflow"`
}

// Defaults returns a Config with every option set to a value the
// runtime can operate with out of the box.
func Defaults() Config {
	return Config{
		BindAddress:          "0.0.0.0:7070",
		PeerAddress:          "0.0.0.0:7071",
		AdminAddress:         "0.0.0.0:7072",
		TransportAddress:     "0.0.0.0:7073",
		DataDir:              "./data",
		CertDir:              "",
		ObjectStoreRedisAddr: "",
		LogLevel:             "info",
		LogJSON:              true,
		MeshID:               "default",

		ColdStartTimeout:    30 * time.Second,
		DeadProviderTimeout: 15 * time.Second,
		SchedulerWeights: SchedulerWeights{
			Alpha: 0.5,
			Beta:  0.3,
			Gamma: 0.2,
		},

		PeerGossipInterval: 2 * time.Second,
		PeerMissThreshold:  3,

		DependencyInstallTimeout:     2 * time.Minute,
		TaskDefaultTimeout:           5 * time.Minute,
		ObjectRetentionAfterWorkflow: 24 * time.Hour,
	}
}

// Load resolves configFile and envFile (either may be empty), applies
// Defaults(), and lets the config file and then the environment
// override them.
func Load(configFile, envFile string) (Config, error) {
	cfg := Defaults()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	v.SetEnvPrefix("lattice")
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("bind_address", cfg.BindAddress)
	v.SetDefault("peer_address", cfg.PeerAddress)
	v.SetDefault("admin_address", cfg.AdminAddress)
	v.SetDefault("transport_address", cfg.TransportAddress)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("cert_dir", cfg.CertDir)
	v.SetDefault("object_store_redis_addr", cfg.ObjectStoreRedisAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_json", cfg.LogJSON)
	v.SetDefault("mesh_id", cfg.MeshID)

	v.SetDefault("cold_start_timeout", cfg.ColdStartTimeout)
	v.SetDefault("dead_provider_timeout", cfg.DeadProviderTimeout)
	v.SetDefault("scheduler_weights.alpha", cfg.SchedulerWeights.Alpha)
	v.SetDefault("scheduler_weights.beta", cfg.SchedulerWeights.Beta)
	v.SetDefault("scheduler_weights.gamma", cfg.SchedulerWeights.Gamma)

	v.SetDefault("peer_gossip_interval", cfg.PeerGossipInterval)
	v.SetDefault("peer_miss_threshold", cfg.PeerMissThreshold)

	v.SetDefault("dependency_install_timeout", cfg.DependencyInstallTimeout)
	v.SetDefault("task_default_timeout", cfg.TaskDefaultTimeout)
	v.SetDefault("object_retention_after_workflow", cfg.ObjectRetentionAfterWorkflow)
}
