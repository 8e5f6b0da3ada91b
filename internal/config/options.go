package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Defaults for unset fields.
const (
	DefaultModel       = "models"
	DefaultProvider    = "webnn"
	DefaultDevice      = "gpu"
	DefaultThreads     = 1
	DefaultImages      = 4
	DefaultParallel    = 1
	DefaultEngine      = "synthetic"
	DefaultCacheDir    = "~/.cache/sdturbo"
	DefaultAddr        = ":8080"
	DefaultLogLevel    = "info"
	DefaultImageFormat = "png"

	// MaxImages bounds the images option.
	MaxImages = 16
)

// Environment variables consulted by FromEnv.
const (
	EnvAddr   = "SDTURBO_ADDR"
	EnvConfig = "SDTURBO_CONFIG"
)

var (
	providers    = []string{"webnn", "webgpu"}
	devices      = []string{"cpu", "gpu", "npu"}
	logLevels    = []string{"debug", "info", "warn", "error", "off"}
	imageFormats = []string{"png", "bmp", "tif", "tiff"}
)

// Keys lists the accepted option names.
func Keys() []string {
	return []string{"model", "provider", "device", "threads", "images", "parallel", "engine",
		"cache_dir", "addr", "log_level", "cors_origins", "seed", "image_format"}
}

// Set assigns one named option from its string form.
func (c *Config) Set(key, value string) error {
	var err error
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "model":
		c.Model = value
	case "provider":
		c.Provider = value
	case "device":
		c.Device = value
	case "threads":
		c.Threads, err = strconv.Atoi(value)
	case "images":
		c.Images, err = strconv.Atoi(value)
	case "parallel":
		c.Parallel, err = strconv.Atoi(value)
	case "engine":
		c.Engine = value
	case "cache_dir":
		c.CacheDir = value
	case "addr":
		c.Addr = value
	case "log_level":
		c.LogLevel = value
	case "cors_origins":
		c.CORSOrigins = SplitCSV(value)
	case "seed":
		c.Seed, err = strconv.ParseUint(value, 10, 64)
	case "image_format":
		c.ImageFormat = value
	default:
		return &ConfigError{Key: key, Err: ErrUnknownKey}
	}
	if err != nil {
		return &ConfigError{Key: key, Err: err}
	}
	return nil
}

// Apply sets each key=value pair in order.
func (c *Config) Apply(pairs []string) error {
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return &ConfigError{Key: kv, Err: fmt.Errorf("want key=value")}
		}
		if err := c.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// ApplyQuery sets options from a URL query string such as
// "provider=webgpu&images=2". Keys are applied in sorted order.
func (c *Config) ApplyQuery(q string) error {
	vals, err := url.ParseQuery(strings.TrimPrefix(q, "?"))
	if err != nil {
		return &ConfigError{Err: err}
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := vals[k]
		if err := c.Set(k, v[len(v)-1]); err != nil {
			return err
		}
	}
	return nil
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	def(&c.Model, DefaultModel)
	def(&c.Provider, DefaultProvider)
	def(&c.Device, DefaultDevice)
	def(&c.Engine, DefaultEngine)
	def(&c.CacheDir, DefaultCacheDir)
	def(&c.Addr, DefaultAddr)
	def(&c.LogLevel, DefaultLogLevel)
	def(&c.ImageFormat, DefaultImageFormat)
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Images == 0 {
		c.Images = DefaultImages
	}
	if c.Parallel == 0 {
		c.Parallel = DefaultParallel
	}
	return c
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	check := func(key, v string, allowed []string) error {
		if !slices.Contains(allowed, strings.ToLower(v)) {
			return &ConfigError{Key: key, Err: fmt.Errorf("%q is not one of %s", v, strings.Join(allowed, ", "))}
		}
		return nil
	}
	if err := check("provider", c.Provider, providers); err != nil {
		return err
	}
	if err := check("device", c.Device, devices); err != nil {
		return err
	}
	if err := check("log_level", c.LogLevel, logLevels); err != nil {
		return err
	}
	if err := check("image_format", c.ImageFormat, imageFormats); err != nil {
		return err
	}
	if c.Threads < 1 {
		return &ConfigError{Key: "threads", Err: fmt.Errorf("must be at least 1, got %d", c.Threads)}
	}
	if c.Images < 1 || c.Images > MaxImages {
		return &ConfigError{Key: "images", Err: fmt.Errorf("must be between 1 and %d, got %d", MaxImages, c.Images)}
	}
	if c.Parallel < 1 {
		return &ConfigError{Key: "parallel", Err: fmt.Errorf("must be at least 1, got %d", c.Parallel)}
	}
	if c.Model == "" {
		return &ConfigError{Key: "model", Err: fmt.Errorf("empty model location")}
	}
	return nil
}

// FromEnv returns the environment's contribution: the listen address and
// the config file path.
func FromEnv() (cfg Config, path string) {
	cfg.Addr = os.Getenv(EnvAddr)
	return cfg, os.Getenv(EnvConfig)
}

// Resolve builds the effective configuration: defaults, then the file at
// path (if any), then pairs. The result is validated.
func Resolve(path string, pairs []string) (Config, error) {
	env, envPath := FromEnv()
	if path == "" {
		path = envPath
	}
	cfg := env
	if path != "" {
		fileCfg, err := Load(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}
	if err := cfg.Apply(pairs); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// merge overlays set fields of over onto base.
func merge(base, over Config) Config {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	num := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	str(&base.Model, over.Model)
	str(&base.Provider, over.Provider)
	str(&base.Device, over.Device)
	num(&base.Threads, over.Threads)
	num(&base.Images, over.Images)
	num(&base.Parallel, over.Parallel)
	str(&base.Engine, over.Engine)
	str(&base.CacheDir, over.CacheDir)
	str(&base.Addr, over.Addr)
	str(&base.LogLevel, over.LogLevel)
	if len(over.CORSOrigins) > 0 {
		base.CORSOrigins = over.CORSOrigins
	}
	if over.Seed != 0 {
		base.Seed = over.Seed
	}
	str(&base.ImageFormat, over.ImageFormat)
	return base
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping
// empty items.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
