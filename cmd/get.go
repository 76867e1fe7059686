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
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridgeclient"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <schema>",
	Short: "Print the current values of a shared state",
	Long:  `Attach to the first state of the schema, print its values as JSON and detach.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, client *bridgeclient.Client, logger *slog.Logger) error {
			a, err := attach(ctx, client, args[0])
			if err != nil {
				return errors.Wrapf(err, "attaching to %q", args[0])
			}
			defer func() {
				if err := detach(ctx, a); err != nil {
					logger.Warn("detaching", "schema", args[0], "error", err)
				}
			}()

			vctx, cancel := context.WithTimeout(ctx, replyTimeout)
			defer cancel()

			values, err := a.Values(vctx)
			if err != nil {
				return errors.Wrapf(err, "reading %q", args[0])
			}
			return printValues(cmd.OutOrStdout(), values)
		})
	},
}

func init() {
	RootCmd.AddCommand(getCmd)
}
