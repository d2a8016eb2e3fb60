package config

import (
	"encoding/json"
	"os"
	"time"
)

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// PoolConfig defines the mining pool simulation parameters
type PoolConfig struct {
	BlockInterval      time.Duration `json:"block_interval"`      // How often a block discovery roll happens
	DifficultyInterval time.Duration `json:"difficulty_interval"` // How often difficulty retargets
	TargetHashRate     float64       `json:"target_hash_rate"`    // Aggregate hash rate the retarget aims for
	MinDifficulty      int64         `json:"min_difficulty"`
	MaxDifficulty      int64         `json:"max_difficulty"`
	StartDifficulty    int64         `json:"start_difficulty"`
	StartPoolRewards   int64         `json:"start_pool_rewards"` // Seed value for the pool-wide reward counter
	MinHashRate        float64       `json:"min_hash_rate"`      // Lower bound of the rolled session hash rate
	MaxHashRate        float64       `json:"max_hash_rate"`      // Upper bound (exclusive)
}

// BroadcastConfig defines the realtime push cadences
type BroadcastConfig struct {
	PoolStatsInterval   time.Duration `json:"pool_stats_interval"`   // Pool-wide stats to every connection
	MinerUpdateInterval time.Duration `json:"miner_update_interval"` // Per-miner updates to authenticated miners
}

// AuthConfig defines identity and session-token settings
type AuthConfig struct {
	SessionTTL    time.Duration `json:"session_ttl"`
	PurgeInterval time.Duration `json:"purge_interval"` // How often expired tokens are swept
}

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `json:"server"`
	Pool      PoolConfig      `json:"pool"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Auth      AuthConfig      `json:"auth"`
	DBPath    string          `json:"db_path"`
	LogLevel  string          `json:"log_level"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Pool: PoolConfig{
			BlockInterval:      30 * time.Second,
			DifficultyInterval: 5 * time.Minute,
			TargetHashRate:     50000,
			MinDifficulty:      256,
			MaxDifficulty:      16384,
			StartDifficulty:    1024,
			StartPoolRewards:   1000000,
			MinHashRate:        200,
			MaxHashRate:        1000,
		},
		Broadcast: BroadcastConfig{
			PoolStatsInterval:   10 * time.Second,
			MinerUpdateInterval: 5 * time.Second,
		},
		Auth: AuthConfig{
			SessionTTL:    7 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
		DBPath:   "/data/tribeminer.db",
		LogLevel: "info",
	}
}

// Load reads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes configuration to a JSON file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
