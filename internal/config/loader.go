package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Model       string   `json:"model" yaml:"model" toml:"model"`
	Provider    string   `json:"provider" yaml:"provider" toml:"provider"`
	Device      string   `json:"device" yaml:"device" toml:"device"`
	Threads     int      `json:"threads" yaml:"threads" toml:"threads"`
	Images      int      `json:"images" yaml:"images" toml:"images"`
	Parallel    int      `json:"parallel" yaml:"parallel" toml:"parallel"`
	Engine      string   `json:"engine" yaml:"engine" toml:"engine"`
	CacheDir    string   `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Seed        uint64   `json:"seed" yaml:"seed" toml:"seed"`
	ImageFormat string   `json:"image_format" yaml:"image_format" toml:"image_format"`
}

// Load reads a configuration file based on its extension. Unknown keys are
// rejected. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, &ConfigError{Err: errors.New("empty config path")}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigError{Source: path, Err: err}
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, &ConfigError{Source: path, Err: err}
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, &ConfigError{Source: path, Err: err}
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, &ConfigError{Source: path, Err: err}
		}
	default:
		return cfg, &ConfigError{Source: path, Err: fmt.Errorf("unsupported config extension: %s", ext)}
	}
	return cfg, nil
}
