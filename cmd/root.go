// Copyright © 2017 Brian Sorahan <bsorahan@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/config"
)

var (
	configDir string
	env       string
	logLevel  string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "swosc",
	Short: "OSC bridge to soundworks shared states",
	Long: `swosc exposes the shared states of a soundworks-like state manager
over OSC, so that a Max patch (or any OSC controller) can observe, attach to,
read and update them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&configDir, "config-dir", "config", "directory containing application.yaml")
	flags.StringVar(&env, "env", config.Env(), "configuration environment (env/<env>.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.DurationVar(&replyTimeout, "timeout", replyTimeout, "how long client commands wait for each bridge reply")
}

// setup loads the configuration and builds the logger every command uses.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configDir, env)
	if err != nil {
		return config.Config{}, nil, errors.Wrap(err, "loading configuration")
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger creates a text or json logger writing to w.
func newLogger(cfg config.Log, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, errors.Wrapf(err, "parsing log level %q", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.Format)
	}
}
