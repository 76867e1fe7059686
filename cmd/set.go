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

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set <schema> key=value...",
	Short: "Update the values of a shared state",
	Long: `Attach to the first state of the schema, send a partial update and detach.
Values are parsed as JSON when possible, so volume=0.5 sends a number and
label='"0.5"' sends a string. The bridge coerces each value to the type of its
field and ignores fields it cannot coerce.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(ctx context.Context, client *bridgeclient.Client, logger *slog.Logger) error {
			a, err := attach(ctx, client, args[0])
			if err != nil {
				return errors.Wrapf(err, "attaching to %q", args[0])
			}
			if err := a.Set(updates); err != nil {
				return errors.Wrapf(err, "updating %q", args[0])
			}
			logger.Debug("update sent", "schema", args[0], "fields", len(updates))
			return detach(ctx, a)
		})
	},
}

func init() {
	RootCmd.AddCommand(setCmd)
}
