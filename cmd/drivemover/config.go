package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grokify/drivemover"
	"github.com/grokify/drivemover/gdrive"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./drivemover.yaml, ~/.config/drivemover/config.yaml, /etc/drivemover/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"drivemover.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "drivemover", "config.yaml"))
	}

	paths = append(paths, "/etc/drivemover/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing DefaultSearchPaths entry is returned, or ""
// when there is none.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds all drivemover CLI configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	GDrive     GDriveConfig     `yaml:"gdrive"`
	Move       MoveConfig       `yaml:"move"`
}

// BackendConfig selects a registered storage backend.
type BackendConfig struct {
	Backend string            `yaml:"backend"`
	Options map[string]string `yaml:"options"`
}

// CheckpointConfig configures where move state is kept.
type CheckpointConfig struct {
	BackendConfig `yaml:",inline"`

	Prefix      string          `yaml:"prefix"`
	Compression string          `yaml:"compression"`
	Mirrors     []BackendConfig `yaml:"mirrors"`

	// MirrorMode is "best_effort" (default) or "strict".
	MirrorMode string `yaml:"mirror_mode"`
}

// GDriveConfig configures the Google Drive connection.
type GDriveConfig struct {
	CredentialsFile   string  `yaml:"credentials_file"`
	TokenFile         string  `yaml:"token_file"`
	Subject           string  `yaml:"subject"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxRetries        int     `yaml:"max_retries"`
}

// MoveConfig holds defaults for the move command.
type MoveConfig struct {
	Budget     time.Duration `yaml:"budget"`
	LoopDelay  time.Duration `yaml:"loop_delay"`
	PageSize   int64         `yaml:"page_size"`
	Include    []string      `yaml:"include"`
	Exclude    []string      `yaml:"exclude"`
	FilterFile string        `yaml:"filter_file"`
}

// DefaultConfig returns the configuration used when no file is found.
// Drive settings start from the DRIVEMOVER_GDRIVE_* environment.
func DefaultConfig() *Config {
	g := gdrive.ConfigFromEnv()
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Checkpoint: CheckpointConfig{
			BackendConfig: BackendConfig{Backend: "file"},
			Prefix:        drivemover.DefaultCheckpointPrefix,
			Compression:   string(drivemover.CompressionNone),
			MirrorMode:    "best_effort",
		},
		GDrive: GDriveConfig{
			CredentialsFile:   g.CredentialsFile,
			TokenFile:         g.TokenFile,
			Subject:           g.Subject,
			RequestsPerSecond: g.RequestsPerSecond,
			Burst:             g.Burst,
			MaxRetries:        g.MaxRetries,
		},
		Move: MoveConfig{
			LoopDelay: time.Second,
			PageSize:  drivemover.DefaultPageSize,
		},
	}
}

// defaultStateDir is the file backend root when none is configured.
func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "drivemover")
	}
	return "drivemover-state"
}

// Load reads the config file at path over DefaultConfig. "${VAR}"
// references are expanded from the environment before parsing. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that can be checked without opening anything.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}
	if c.Checkpoint.Backend == "" {
		return errors.New("checkpoint.backend is required")
	}
	for i, m := range c.Checkpoint.Mirrors {
		if m.Backend == "" {
			return fmt.Errorf("checkpoint.mirrors[%d].backend is required", i)
		}
	}
	if _, err := drivemover.ParseCompression(c.Checkpoint.Compression); err != nil {
		return err
	}
	if _, err := parseMirrorMode(c.Checkpoint.MirrorMode); err != nil {
		return err
	}
	if c.Move.Budget < 0 {
		return fmt.Errorf("move.budget must not be negative: %s", c.Move.Budget)
	}
	return c.GDrive.toGDrive().Validate()
}

func (g GDriveConfig) toGDrive() gdrive.Config {
	return gdrive.Config{
		CredentialsFile:   g.CredentialsFile,
		TokenFile:         g.TokenFile,
		Subject:           g.Subject,
		RequestsPerSecond: g.RequestsPerSecond,
		Burst:             g.Burst,
		MaxRetries:        g.MaxRetries,
	}
}
