package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// StageConfig holds the endpoint settings for one pipeline stage host.
type StageConfig struct {
	BaseURL    string `yaml:"base_url"`
	AuthToken  string `yaml:"auth_token"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the stage's request timeout.
func (s StageConfig) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// QueueConfig holds the dispatcher's concurrency ceilings.
type QueueConfig struct {
	HeavyLimit      int64 `yaml:"heavy_limit"`
	LightLimit      int64 `yaml:"light_limit"`
	PollIntervalSec int   `yaml:"poll_interval_sec"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"` // "sqlite" or "redis"
	RedisURL string `yaml:"redis_url"`
	TTLHours int    `yaml:"ttl_hours"`
}

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment"`
	ServerPort  int    `yaml:"server_port"`
	DBPath      string `yaml:"db_path"`

	// Storage paths
	StoragePath string `yaml:"storage_path"`
	LogsPath    string `yaml:"-"`
	LogFile     string `yaml:"log_file"`

	// Pipeline stage hosts
	Transcript StageConfig `yaml:"transcript"`
	ASR        StageConfig `yaml:"asr"`
	Aligner    StageConfig `yaml:"aligner"`
	LLM        StageConfig `yaml:"llm"`

	Queue QueueConfig `yaml:"queue"`
	Cache CacheConfig `yaml:"cache"`
}

// LoadConfig loads configuration from an optional YAML file, then applies
// environment overrides. A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		path = os.Getenv("LYRICSYNC_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Derived storage paths
	cfg.LogsPath = filepath.Join(cfg.StoragePath, "logs")

	fmt.Printf("Loaded configuration for environment: %s\n", cfg.Environment)
	return cfg, nil
}

func defaults() *Config {
	env := os.Getenv("LYRICSYNC_ENV")
	if env == "" {
		env = "development"
	}

	return &Config{
		Environment: env,
		ServerPort:  8080,
		DBPath:      filepath.Join("data", "lyricsync.db"),
		StoragePath: "storage",
		Transcript:  StageConfig{TimeoutSec: 30},
		ASR:         StageConfig{Model: "whisper-large-v3", TimeoutSec: 300},
		Aligner:     StageConfig{TimeoutSec: 300},
		LLM:         StageConfig{Model: "qwen2.5:7b", TimeoutSec: 120},
		Queue: QueueConfig{
			HeavyLimit:      2,
			LightLimit:      8,
			PollIntervalSec: 1,
		},
		Cache: CacheConfig{
			Backend:  "sqlite",
			TTLHours: 720,
		},
	}
}

// applyEnvOverrides lets deployment-sensitive values come from the
// environment without editing the config file.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.DBPath, "LYRICSYNC_DB_PATH")
	setString(&cfg.StoragePath, "LYRICSYNC_STORAGE_PATH")
	setString(&cfg.LogFile, "LYRICSYNC_LOG_FILE")
	setInt(&cfg.ServerPort, "LYRICSYNC_PORT")

	setString(&cfg.Transcript.BaseURL, "LYRICSYNC_TRANSCRIPT_URL")
	setString(&cfg.Transcript.AuthToken, "LYRICSYNC_TRANSCRIPT_TOKEN")
	setString(&cfg.ASR.BaseURL, "LYRICSYNC_ASR_URL")
	setString(&cfg.ASR.AuthToken, "LYRICSYNC_ASR_TOKEN")
	setString(&cfg.Aligner.BaseURL, "LYRICSYNC_ALIGNER_URL")
	setString(&cfg.Aligner.AuthToken, "LYRICSYNC_ALIGNER_TOKEN")
	setString(&cfg.LLM.BaseURL, "LYRICSYNC_LLM_URL")
	setString(&cfg.LLM.AuthToken, "LYRICSYNC_LLM_TOKEN")
	setString(&cfg.LLM.Model, "LYRICSYNC_LLM_MODEL")

	setString(&cfg.Cache.Backend, "LYRICSYNC_CACHE_BACKEND")
	setString(&cfg.Cache.RedisURL, "LYRICSYNC_REDIS_URL")
	setInt64(&cfg.Queue.HeavyLimit, "LYRICSYNC_HEAVY_LIMIT")
	setInt64(&cfg.Queue.LightLimit, "LYRICSYNC_LIGHT_LIMIT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
