// Package config loads git-warp's configuration: which graph to operate on,
// where checkpoints and provenance live, and how sync and audit behave.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the warp CLI and façade.
type Config struct {
	// Mode is the deployment context: "development", "packaged", or "ci".
	Mode string `yaml:"mode"`

	// Graph identifies the logical graph this process operates on.
	Graph GraphConfig `yaml:"graph"`

	// Storage selects the Persistence port adapter.
	Storage StorageConfig `yaml:"storage"`

	// Provenance selects where the provenance index is persisted.
	Provenance ProvenanceConfig `yaml:"provenance"`

	// Checkpoint controls checkpoint-triggering policy.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Sync controls the sync controller's retry and backpressure behavior.
	Sync SyncConfig `yaml:"sync"`

	// Audit controls the audit receipt service.
	Audit AuditConfig `yaml:"audit"`

	// GraphExport configures the optional Neo4j adjacency export.
	GraphExport GraphExportConfig `yaml:"graph_export"`
}

type GraphConfig struct {
	Name     string `yaml:"name"`
	WriterID string `yaml:"writer_id"`
}

type StorageConfig struct {
	// Type names the Persistence adapter ("bolt" by default) and can be set
	// from the environment; the CLI always opens the bolt store at BoltPath
	// and selects no other adapter by it.
	Type      string `yaml:"type"`
	BoltPath  string `yaml:"bolt_path"`
}

type ProvenanceConfig struct {
	// Type selects the provenance index backend: "memory", "sqlite", or "postgres".
	Type        string `yaml:"type"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type CheckpointConfig struct {
	// PatchThreshold triggers a new checkpoint after this many patches since the last one.
	PatchThreshold int `yaml:"patch_threshold"`
	// TombstoneRatioFloor is the minimum tombstone ratio before GC is considered.
	TombstoneRatioFloor float64 `yaml:"tombstone_ratio_floor"`
}

type SyncConfig struct {
	Retries       int           `yaml:"retries"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	TimeoutPerTry time.Duration `yaml:"timeout_per_try"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	AuthEnabled   bool          `yaml:"auth_enabled"`
	AuthKeyID     string        `yaml:"auth_key_id"`

	// RateLimitPerSecond, if > 0, caps outbound sync requests to this many
	// per second (burst RateLimitBurst), for peers that bill or throttle
	// per request.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

type AuditConfig struct {
	Enabled              bool `yaml:"enabled"`
	DegradeAfterConflicts int  `yaml:"degrade_after_conflicts"`
}

type GraphExportConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "development",
		Graph: GraphConfig{
			Name:     "default",
			WriterID: "local",
		},
		Storage: StorageConfig{
			Type:     "bolt",
			BoltPath: filepath.Join(homeDir, ".git-warp", "objects.db"),
		},
		Provenance: ProvenanceConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".git-warp", "provenance.db"),
		},
		Checkpoint: CheckpointConfig{
			PatchThreshold:      200,
			TombstoneRatioFloor: 0.3,
		},
		Sync: SyncConfig{
			Retries:       5,
			BaseBackoff:   200 * time.Millisecond,
			MaxBackoff:    10 * time.Second,
			TimeoutPerTry: 15 * time.Second,
			MaxBodyBytes:  4 * 1024 * 1024,
		},
		Audit: AuditConfig{
			Enabled:               true,
			DegradeAfterConflicts: 2,
		},
		GraphExport: GraphExportConfig{
			Database: "neo4j",
		},
	}
}

// Load layers defaults, the config file, and WARP_* environment variables, in
// that order of increasing precedence. .env.local and .env only set variables
// that are not already in the process environment, so a variable set in the
// real environment wins over both files.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("provenance", cfg.Provenance)
	v.SetDefault("checkpoint", cfg.Checkpoint)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("audit", cfg.Audit)
	v.SetDefault("graph_export", cfg.GraphExport)

	v.SetEnvPrefix("WARP")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".git-warp")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".git-warp"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				continue
			}
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if name := os.Getenv("WARP_GRAPH_NAME"); name != "" {
		cfg.Graph.Name = name
	}
	if writer := os.Getenv("WARP_WRITER_ID"); writer != "" {
		cfg.Graph.WriterID = writer
	}
	if storageType := os.Getenv("WARP_STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("WARP_POSTGRES_DSN"); dsn != "" {
		cfg.Provenance.PostgresDSN = dsn
	}
	if retries := os.Getenv("WARP_SYNC_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			cfg.Sync.Retries = n
		}
	}
	if mode := os.Getenv("WARP_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("graph", c.Graph)
	v.Set("storage", c.Storage)
	v.Set("provenance", c.Provenance)
	v.Set("checkpoint", c.Checkpoint)
	v.Set("sync", c.Sync)
	v.Set("audit", c.Audit)
	v.Set("graph_export", c.GraphExport)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
