// Package config loads cassa's configuration: JSON config file, an optional
// .env file, and CASSA_* environment variables, with env winning.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend BackendConfig
	Chat    ChatConfig
	Poll    PollConfig
	Storage StorageConfig
	Serve   ServeConfig
	Log     LogConfig
}

type BackendConfig struct {
	// BaseURL of the chat backend REST API.
	BaseURL string `json:"base_url"`
}

type ChatConfig struct {
	// DefaultModel is sent as the model selector when creating conversations.
	DefaultModel string `json:"default_model"`
}

type PollConfig struct {
	// IntervalSeconds between status re-fetches while documents are processing.
	IntervalSeconds int `json:"interval_seconds"`
}

type StorageConfig struct {
	// DataDir holds the local history cache database.
	DataDir string `json:"data_dir"`
}

type ServeConfig struct {
	// Port for the local development backend.
	Port int `json:"port"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{BaseURL: "http://127.0.0.1:8000"},
		Poll:    PollConfig{IntervalSeconds: 5},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Serve:   ServeConfig{Port: 8000},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "cassa")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cassa"
	}
	return filepath.Join(home, ".local", "share", "cassa")
}

func configPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "cassa", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cassa", "config.json")
	}
	return filepath.Join(home, ".config", "cassa", "config.json")
}

// Load reads configuration from the JSON config file, a .env file in the
// working directory if present, and CASSA_* environment variables.
func Load() (Config, error) {
	// A missing .env is fine; deployments that have one get it picked up
	// the way the backend's own tooling does.
	_ = godotenv.Load()
	return loadFrom(configPath())
}

type fileConfig struct {
	Backend *BackendConfig `json:"backend"`
	Chat    *ChatConfig    `json:"chat"`
	Poll    *PollConfig    `json:"poll"`
	Storage *StorageConfig `json:"storage"`
	Serve   *ServeConfig   `json:"serve"`
	Log     *LogConfig     `json:"log"`
}

func loadFrom(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No config file: defaults plus env.
	case err != nil:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		var file fileConfig
		if err := json.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		applyFile(&cfg, file)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, file fileConfig) {
	if file.Backend != nil && file.Backend.BaseURL != "" {
		cfg.Backend.BaseURL = file.Backend.BaseURL
	}
	if file.Chat != nil && file.Chat.DefaultModel != "" {
		cfg.Chat.DefaultModel = file.Chat.DefaultModel
	}
	if file.Poll != nil && file.Poll.IntervalSeconds > 0 {
		cfg.Poll.IntervalSeconds = file.Poll.IntervalSeconds
	}
	if file.Storage != nil && file.Storage.DataDir != "" {
		cfg.Storage.DataDir = file.Storage.DataDir
	}
	if file.Serve != nil && file.Serve.Port > 0 {
		cfg.Serve.Port = file.Serve.Port
	}
	if file.Log != nil && file.Log.Level != "" {
		cfg.Log.Level = file.Log.Level
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASSA_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CASSA_MODEL"); v != "" {
		cfg.Chat.DefaultModel = v
	}
	if v := os.Getenv("CASSA_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Poll.IntervalSeconds = n
		}
	}
	if v := os.Getenv("CASSA_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CASSA_SERVE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Serve.Port = n
		}
	}
	if v := os.Getenv("CASSA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// PollInterval returns the poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}
