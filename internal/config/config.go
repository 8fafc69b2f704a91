// Package config loads kvcache settings from a YAML file and the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/leonardcser/kvcache/internal/ttl"
)

// Environment variables consulted by Load.
const (
	EnvConfig     = "KVCACHE_CONFIG"
	EnvStore      = "KVCACHE_STORE"
	EnvSocket     = "KVCACHE_SOCK"
	EnvDB         = "KVCACHE_DB"
	EnvTimeUnitMS = "KVCACHE_TIME_UNIT_MS"
	EnvWarnings   = "KVCACHE_WARNINGS"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendEtcd   = "etcd"
	BackendSocket = "socket"
)

type Config struct {
	// TimeUnitMillis is the length of one TTL unit.
	TimeUnitMillis int64 `yaml:"time_unit_ms"`
	// Warnings enables cache diagnostics.
	Warnings bool  `yaml:"warnings"`
	Store    Store `yaml:"store"`
}

type Store struct {
	Backend string `yaml:"backend"`
	// MaxBytes caps the host store size; <= 0 is unbounded.
	MaxBytes int64  `yaml:"max_bytes"`
	BoltPath string `yaml:"bolt_path"`
	Socket   string `yaml:"socket"`
	Etcd     Etcd   `yaml:"etcd"`
}

type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the settings used when no file or environment overrides exist.
func Default() Config {
	dir := cacheDir()
	return Config{
		TimeUnitMillis: ttl.DefaultUnitMillis,
		Store: Store{
			Backend:  BackendSocket,
			MaxBytes: 5 * 1024 * 1024,
			BoltPath: filepath.Join(dir, "store.bbolt"),
			Socket:   filepath.Join(dir, "store.sock"),
			Etcd: Etcd{
				Endpoints:   []string{"127.0.0.1:2379"},
				Prefix:      "kvcache/",
				DialTimeout: 5 * time.Second,
				Timeout:     2 * time.Second,
			},
		},
	}
}

// Load reads the YAML file named by KVCACHE_CONFIG, or the default path, on
// top of Default and then applies environment overrides. A missing file is
// not an error.
func Load() (Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		path = filepath.Join(cacheDir(), "config.yaml")
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit file path.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "parse %s", path)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "read %s", path)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvStore); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv(EnvSocket); v != "" {
		c.Store.Socket = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.Store.BoltPath = v
	}
	if v := os.Getenv(EnvTimeUnitMS); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, errors.CodeInvalidConfig, "%s=%q", EnvTimeUnitMS, v)
		}
		c.TimeUnitMillis = ms
	}
	if v := os.Getenv(EnvWarnings); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, errors.CodeInvalidConfig, "%s=%q", EnvWarnings, v)
		}
		c.Warnings = on
	}
	return nil
}

// Validate checks that the settings describe a usable store.
func (c Config) Validate() error {
	if c.TimeUnitMillis <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "time_unit_ms must be positive, got %d", c.TimeUnitMillis)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.BoltPath == "" {
			return errors.New(errors.CodeInvalidConfig, "store.bolt_path is required for the bolt backend")
		}
	case BackendSocket:
		if c.Store.Socket == "" {
			return errors.New(errors.CodeInvalidConfig, "store.socket is required for the socket backend")
		}
	case BackendEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			return errors.New(errors.CodeInvalidConfig, "store.etcd.endpoints is required for the etcd backend")
		}
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unknown store backend %q", c.Store.Backend)
	}
	return nil
}

func cacheDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "kvcache")
}
