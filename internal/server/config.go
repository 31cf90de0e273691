// Package server implements the citescape HTTP surface: the REST API,
// the WebSocket event stream driving the renderer, and the embedded
// debug UI.
//
// This file defines the server configuration structs and their YAML
// loader.
package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/citescape/citescape/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Config is the top-level structure of the citescape configuration file.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8400".
	Listen string `yaml:"listen"`

	// AuthToken, when set, protects the /api surface with a bearer
	// token. Empty means open (the usual local single-user setup).
	AuthToken string `yaml:"auth_token"`

	// Database is the path to the SQLite graph database.
	Database string `yaml:"database"`

	// RemoteURL switches the query layer to a remote citescape server
	// instead of a local database.
	RemoteURL string `yaml:"remote_url"`

	// RemoteToken authenticates against RemoteURL.
	RemoteToken string `yaml:"remote_token"`

	// RemoteRPS caps requests per second against RemoteURL.
	RemoteRPS float64 `yaml:"remote_rps"`

	// Engine holds the streaming engine tunables.
	Engine engine.Options `yaml:"engine"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:   ":8400",
		Database: "citescape.db",
		Engine:   engine.DefaultOptions(),
	}
}

// LoadConfig reads and parses the YAML configuration file. Environment
// variables in the file are expanded, and Strict Mode (KnownFields)
// rejects typo'd keys instead of silently ignoring them. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultConfig().Listen
	}
	return cfg, nil
}
