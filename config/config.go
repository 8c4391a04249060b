// Package config loads daemon configuration from TOML. A built-in
// default config is embedded at build time; a user config file is
// overlaid on top of it, so files only need to state the keys they
// change.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultTOML []byte

// Quotas caps resources per principal. Zero means none allowed.
type Quotas struct {
	Spis         int `toml:"spis"`
	Transforms   int `toml:"transforms"`
	EncapSockets int `toml:"encap_sockets"`
}

// Server configures the daemon's listeners. HealthAddress and
// PprofAddress are optional; empty disables the listener.
type Server struct {
	SocketPath    string `toml:"socket_path"`
	HealthAddress string `toml:"health_address"`
	PprofAddress  string `toml:"pprof_address"`
}

// Logging configures log output. Level takes the same spec syntax as
// the IPSECMGR_LOG environment variable.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ToSpec returns the section's level as a log spec string for
// logging.New.
func (l Logging) ToSpec() string { return l.Level }

// Audit configures the event journal. An empty path disables it.
type Audit struct {
	Path string `toml:"path"`
}

// Config is the complete daemon configuration.
type Config struct {
	Quotas  Quotas  `toml:"quotas"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`
	Audit   Audit   `toml:"audit"`
}

// Default returns the embedded default configuration.
func Default() (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(defaultTOML, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load returns the defaults overlaid with the TOML file at path. An
// empty path returns the defaults unchanged; a missing file is an
// error.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	// Decoding into the already-populated struct gives overlay
	// semantics: absent keys keep their default values.
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
