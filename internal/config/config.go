// Package config loads the configuration of one mashup runtime from a YAML
// or TOML file. Values absent from the file keep their defaults; command
// line flags override both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListen             = "127.0.0.1:7400"
	DefaultDBPath             = "mashup.db"
	DefaultTransactionTimeout = 15 * time.Second
	DefaultIntegrationTimeout = 30 * time.Second
	DefaultInitTimeout        = 10 * time.Second
	DefaultPrepareTimeout     = 10 * time.Second
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Channel is a communication channel registered at startup.
type Channel struct {
	Name      string `yaml:"name" toml:"name"`
	Operation string `yaml:"operation" toml:"operation"`
}

// Component is a component instance integrated at startup.
type Component struct {
	Component  string         `yaml:"component" toml:"component"`
	Instance   string         `yaml:"instance" toml:"instance"`
	Properties map[string]any `yaml:"properties" toml:"properties"`
}

// Peer is another runtime reachable over HTTP.
type Peer struct {
	ID  string `yaml:"id" toml:"id"`
	URL string `yaml:"url" toml:"url"`
}

// Config is the configuration of one runtime.
type Config struct {
	RuntimeID   string
	Listen      string
	DBPath      string
	LogLevel    string
	Descriptors []string
	Channels    []Channel
	Components  []Component
	Peers       []Peer

	TransactionTimeout time.Duration
	IntegrationTimeout time.Duration
	InitTimeout        time.Duration
	PrepareTimeout     time.Duration
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:             DefaultListen,
		DBPath:             DefaultDBPath,
		LogLevel:           "info",
		TransactionTimeout: DefaultTransactionTimeout,
		IntegrationTimeout: DefaultIntegrationTimeout,
		InitTimeout:        DefaultInitTimeout,
		PrepareTimeout:     DefaultPrepareTimeout,
	}
}

// fileConfig is the on-disk key mapping shared by both formats.
type fileConfig struct {
	RuntimeID          string      `yaml:"runtime_id" toml:"runtime_id"`
	Listen             string      `yaml:"listen" toml:"listen"`
	DBPath             string      `yaml:"db" toml:"db"`
	LogLevel           string      `yaml:"log_level" toml:"log_level"`
	Descriptors        []string    `yaml:"descriptors" toml:"descriptors"`
	Channels           []Channel   `yaml:"channels" toml:"channels"`
	Components         []Component `yaml:"components" toml:"components"`
	Peers              []Peer      `yaml:"peers" toml:"peers"`
	TransactionTimeout string      `yaml:"transaction_timeout" toml:"transaction_timeout"`
	IntegrationTimeout string      `yaml:"integration_timeout" toml:"integration_timeout"`
	InitTimeout        string      `yaml:"init_timeout" toml:"init_timeout"`
	PrepareTimeout     string      `yaml:"prepare_timeout" toml:"prepare_timeout"`
}

// Load reads a config file, picking the format by extension, and
// validates the result. Relative descriptor and database paths are
// resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = loadTOML(path, &cfg)
	case ".yaml", ".yml":
		err = loadYAML(path, &cfg)
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return Config{}, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func loadTOML(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("runtime_id") {
		cfg.RuntimeID = strings.TrimSpace(raw.RuntimeID)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("db") {
		cfg.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("descriptors") {
		cfg.Descriptors = raw.Descriptors
	}
	if meta.IsDefined("channels") {
		cfg.Channels = raw.Channels
	}
	if meta.IsDefined("components") {
		cfg.Components = raw.Components
	}
	if meta.IsDefined("peers") {
		cfg.Peers = raw.Peers
	}
	timeouts := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"transaction_timeout", raw.TransactionTimeout, &cfg.TransactionTimeout},
		{"integration_timeout", raw.IntegrationTimeout, &cfg.IntegrationTimeout},
		{"init_timeout", raw.InitTimeout, &cfg.InitTimeout},
		{"prepare_timeout", raw.PrepareTimeout, &cfg.PrepareTimeout},
	}
	for _, to := range timeouts {
		if !meta.IsDefined(to.key) {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(to.raw))
		if err != nil {
			return fmt.Errorf("load config %s: %s: %w", path, to.key, err)
		}
		*to.dst = d
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	raw := toFile(*cfg)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	out, err := fromFile(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	*cfg = out
	return nil
}

func toFile(c Config) fileConfig {
	return fileConfig{
		RuntimeID:          c.RuntimeID,
		Listen:             c.Listen,
		DBPath:             c.DBPath,
		LogLevel:           c.LogLevel,
		Descriptors:        c.Descriptors,
		Channels:           c.Channels,
		Components:         c.Components,
		Peers:              c.Peers,
		TransactionTimeout: c.TransactionTimeout.String(),
		IntegrationTimeout: c.IntegrationTimeout.String(),
		InitTimeout:        c.InitTimeout.String(),
		PrepareTimeout:     c.PrepareTimeout.String(),
	}
}

func fromFile(f fileConfig) (Config, error) {
	c := Config{
		RuntimeID:   strings.TrimSpace(f.RuntimeID),
		Listen:      strings.TrimSpace(f.Listen),
		DBPath:      strings.TrimSpace(f.DBPath),
		LogLevel:    strings.TrimSpace(f.LogLevel),
		Descriptors: f.Descriptors,
		Channels:    f.Channels,
		Components:  f.Components,
		Peers:       f.Peers,
	}
	var err error
	if c.TransactionTimeout, err = time.ParseDuration(f.TransactionTimeout); err != nil {
		return Config{}, fmt.Errorf("transaction_timeout: %w", err)
	}
	if c.IntegrationTimeout, err = time.ParseDuration(f.IntegrationTimeout); err != nil {
		return Config{}, fmt.Errorf("integration_timeout: %w", err)
	}
	if c.InitTimeout, err = time.ParseDuration(f.InitTimeout); err != nil {
		return Config{}, fmt.Errorf("init_timeout: %w", err)
	}
	if c.PrepareTimeout, err = time.ParseDuration(f.PrepareTimeout); err != nil {
		return Config{}, fmt.Errorf("prepare_timeout: %w", err)
	}
	return c, nil
}

func (c *Config) resolvePaths(base string) {
	for i, p := range c.Descriptors {
		if !filepath.IsAbs(p) {
			c.Descriptors[i] = filepath.Join(base, p)
		}
	}
	if c.DBPath != "" && c.DBPath != ":memory:" && !filepath.IsAbs(c.DBPath) {
		c.DBPath = filepath.Join(base, c.DBPath)
	}
}

// Validate checks that the configuration can start a runtime.
func (c Config) Validate() error {
	if c.RuntimeID == "" {
		return errors.New("runtime_id is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (expected debug, info, warn or error)", c.LogLevel)
	}
	for name, d := range map[string]time.Duration{
		"transaction_timeout": c.TransactionTimeout,
		"integration_timeout": c.IntegrationTimeout,
		"init_timeout":        c.InitTimeout,
		"prepare_timeout":     c.PrepareTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	for i, ch := range c.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
	}
	instances := make(map[string]bool, len(c.Components))
	for i, comp := range c.Components {
		if comp.Component == "" || comp.Instance == "" {
			return fmt.Errorf("components[%d]: component and instance are required", i)
		}
		if instances[comp.Instance] {
			return fmt.Errorf("components[%d]: duplicate instance %q", i, comp.Instance)
		}
		instances[comp.Instance] = true
	}
	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("peers[%d]: id and url are required", i)
		}
		if p.ID == c.RuntimeID {
			return fmt.Errorf("peers[%d]: peer id %q is this runtime", i, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("peers[%d]: duplicate peer id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Peer looks up a peer by runtime id.
func (c Config) Peer(id string) (Peer, bool) {
	for _, p := range c.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}
