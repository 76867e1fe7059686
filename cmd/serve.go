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
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/app"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridge"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/config"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/discovery"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/metrics"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the state manager and its OSC bridge",
	Long: `Start the state manager, create the configured states and expose them
over OSC until interrupted. On SIGINT or SIGTERM every attachment is detached
and the controller notified before the socket closes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := NewServer(cfg, logger)
		if err != nil {
			logger.Error("creating server", "error", err)
			return errors.Wrap(err, "creating server")
		}
		return errors.Wrap(srv.Run(ctx), "running server")
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

// Server runs the state manager, the application states and the bridge.
type Server struct {
	config  config.Config
	logger  *slog.Logger
	manager *statemanager.Manager
	app     *app.App
}

// NewServer registers the configured schemas in a new state manager.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	manager := statemanager.New(logger)

	names := make([]string, 0, len(cfg.Schemas))
	for name := range cfg.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := manager.RegisterSchema(name, cfg.Schemas[name]); err != nil {
			return nil, errors.Wrapf(err, "registering schema %q", name)
		}
	}
	return &Server{
		config:  cfg,
		logger:  logger,
		manager: manager,
		app:     app.New(cfg.App, manager, logger),
	}, nil
}

// Run serves until ctx is done.
func (srv *Server) Run(ctx context.Context) error {
	if err := srv.app.Start(); err != nil {
		return errors.Wrap(err, "starting application")
	}
	defer srv.app.Stop()

	scope, closer := metrics.NewScope(srv.config.Metrics.Prefix, srv.config.Metrics.Interval, srv.logger)
	defer closeQuietly(closer, srv.logger)

	osc := srv.config.OSC
	b := bridge.New(bridge.Config{
		LocalAddress:  osc.LocalAddress,
		LocalPort:     osc.LocalPort,
		RemoteAddress: osc.RemoteAddress,
		RemotePort:    osc.RemotePort,
		Prefix:        osc.Prefix,
		Grace:         osc.Grace,
	}, srv.manager, bridge.WithLogger(srv.logger), bridge.WithScope(scope))

	if osc.Advertise {
		ad, err := discovery.Advertise(
			discovery.InstanceName(srv.config.App.Name),
			osc.LocalPort,
			discovery.TXT(osc.Prefix, osc.RemotePort),
			srv.logger,
		)
		if err != nil {
			srv.logger.Warn("advertising bridge", "error", err)
		} else {
			defer ad.Shutdown()
		}
	}
	return b.Run(ctx)
}

func closeQuietly(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("closing", "error", err)
	}
}
