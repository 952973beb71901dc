// Package config loads the daemon's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the on-disk file. Zero values mean "not set" so that flags
// and environment can be layered on top.
type Config struct {
	Listen         string `yaml:"listen,omitempty"`
	SymlinkDir     string `yaml:"symlinkDir,omitempty"`
	LinkPrefix     string `yaml:"linkPrefix,omitempty"`
	RawMode        bool   `yaml:"rawMode,omitempty"`
	ReadBufferSize int    `yaml:"readBufferSize,omitempty"`
	TranscriptDir  string `yaml:"transcriptDir,omitempty"`

	Admin Admin `yaml:"admin,omitempty"`
	Log   Log   `yaml:"log,omitempty"`
	NATS  NATS  `yaml:"nats,omitempty"`
}

type Admin struct {
	Listen string `yaml:"listen,omitempty"`
}

type Log struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
	File  string `yaml:"file,omitempty"`
}

type NATS struct {
	URL           string `yaml:"url,omitempty"`
	User          string `yaml:"user,omitempty"`
	Password      string `yaml:"password,omitempty"`
	SubjectPrefix string `yaml:"subjectPrefix,omitempty"`
	Stream        string `yaml:"stream,omitempty"`
}

// Load decodes the config file. Missing files return (nil, nil).
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := ExpandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ReadBufferSize < 0 {
		return nil, fmt.Errorf("parse config: readBufferSize must not be negative")
	}
	for _, p := range []*string{&cfg.SymlinkDir, &cfg.TranscriptDir, &cfg.Log.File} {
		if *p == "" {
			continue
		}
		if *p, err = ExpandPath(*p); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// ExpandPath resolves a leading ~ and makes relative paths absolute.
func ExpandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
