// Package config loads the server configuration.
//
// The configuration is read from application.yaml in the configuration
// directory, then overlaid with env/<ENV>.yaml when that file exists.
// Keys absent from both files keep their defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
)

// DefaultEnv is used when ENV is not set.
const DefaultEnv = "default"

// Config is the configuration of a server.
type Config struct {
	App     App                      `yaml:"app"`
	OSC     OSC                      `yaml:"osc"`
	Log     Log                      `yaml:"log"`
	Metrics Metrics                  `yaml:"metrics"`
	Schemas map[string]schema.Schema `yaml:"schemas"`
}

// App describes the states the server creates.
type App struct {
	Name   string `yaml:"name"`
	Author string `yaml:"author"`

	// States lists the schemas instantiated at startup.
	States []string `yaml:"states"`

	// Toggles maps a boolean field of the startup states to the schema
	// whose state is created when the field becomes true and deleted when
	// it becomes false.
	Toggles map[string]string `yaml:"toggles"`
}

// OSC is the bridge transport configuration.
type OSC struct {
	LocalAddress  string        `yaml:"localAddress"`
	LocalPort     int           `yaml:"localPort"`
	RemoteAddress string        `yaml:"remoteAddress"`
	RemotePort    int           `yaml:"remotePort"`
	Prefix        string        `yaml:"prefix"`
	Grace         time.Duration `yaml:"grace"`

	// Advertise publishes the listen port over DNS-SD.
	Advertise bool `yaml:"advertise"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures metric reporting. A zero interval disables it.
type Metrics struct {
	Interval time.Duration `yaml:"interval"`
	Prefix   string        `yaml:"prefix"`
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		App: App{
			Name: "soundworks-state-manager-osc",
		},
		OSC: OSC{
			LocalAddress:  "0.0.0.0",
			LocalPort:     57121,
			RemoteAddress: "127.0.0.1",
			RemotePort:    57122,
			Prefix:        "/sw/state-manager",
			Grace:         100 * time.Millisecond,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Prefix: "swosc",
		},
	}
}

// Env returns the environment named by ENV, or DefaultEnv.
func Env() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return DefaultEnv
}

// Load reads the configuration of env from dir.
// application.yaml is required; the environment file is optional.
func Load(dir, env string) (Config, error) {
	cfg := Default()

	if err := decodeFile(filepath.Join(dir, "application.yaml"), &cfg); err != nil {
		return Config{}, err
	}
	envFile := filepath.Join(dir, "env", env+".yaml")
	if _, err := os.Stat(envFile); err == nil {
		if err := decodeFile(envFile, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, errors.Wrapf(err, "reading %s", envFile)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the consistency of the configuration.
func (c Config) Validate() error {
	for name, s := range c.Schemas {
		if err := s.Validate(); err != nil {
			return errors.Wrapf(err, "schema %q", name)
		}
	}
	for _, name := range c.App.States {
		if _, ok := c.Schemas[name]; !ok {
			return errors.Errorf("app state %q has no schema", name)
		}
	}
	for field, name := range c.App.Toggles {
		if _, ok := c.Schemas[name]; !ok {
			return errors.Errorf("toggle %q targets unknown schema %q", field, name)
		}
	}
	if c.OSC.LocalPort < 0 || c.OSC.LocalPort > 65535 {
		return errors.Errorf("invalid osc.localPort %d", c.OSC.LocalPort)
	}
	if c.OSC.RemotePort < 0 || c.OSC.RemotePort > 65535 {
		return errors.Errorf("invalid osc.remotePort %d", c.OSC.RemotePort)
	}
	return nil
}

// decodeFile overlays the YAML document at path onto cfg.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}
