package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr            string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelDir        string   `json:"model_dir" yaml:"model_dir" toml:"model_dir"`
	ResultsDir      string   `json:"results_dir" yaml:"results_dir" toml:"results_dir"`
	RedisURL        string   `json:"redis_url" yaml:"redis_url" toml:"redis_url"`
	CacheTTLSeconds int      `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	Workers         int      `json:"workers" yaml:"workers" toml:"workers"`
	MaxQueueDepth   int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds  int      `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	CAMWorkers      int      `json:"cam_workers" yaml:"cam_workers" toml:"cam_workers"`
	MaxBodyMB       int      `json:"max_body_mb" yaml:"max_body_mb" toml:"max_body_mb"`
	LogLevel        string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat       string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
