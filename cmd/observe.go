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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridgeclient"
)

// observeCmd represents the observe command
var observeCmd = &cobra.Command{
	Use:   "observe <schema>",
	Short: "Display the updates of a shared state on stdout",
	Long: `Wait for a state of the schema to exist, attach to it and print every
update notification as JSON until interrupted or until the state is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withClient(ctx, func(ctx context.Context, client *bridgeclient.Client, logger *slog.Logger) error {
			return observe(ctx, client, args[0], cmd.OutOrStdout(), logger)
		})
	},
}

func init() {
	RootCmd.AddCommand(observeCmd)
}

// observe prints the values of schemaName, then every update, to w.
func observe(ctx context.Context, client *bridgeclient.Client, schemaName string, w io.Writer, logger *slog.Logger) error {
	if err := client.Observe(ctx, schemaName); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "observing %q", schemaName)
	}
	a, err := attach(ctx, client, schemaName)
	if err != nil {
		return errors.Wrapf(err, "attaching to %q", schemaName)
	}
	logger.Info("attached", "schema", schemaName, "id", a.ID(), "remoteId", a.RemoteID())

	if err := printValues(w, a.InitialValues()); err != nil {
		return err
	}
	for {
		select {
		case updates := <-a.Updates():
			if err := printValues(w, updates); err != nil {
				return err
			}
		case <-a.Detached():
			logger.Info("state detached", "schema", schemaName)
			return nil
		case <-ctx.Done():
			return detach(context.Background(), a)
		}
	}
}

func printValues(w io.Writer, values map[string]any) error {
	s, err := formatValues(values)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}
