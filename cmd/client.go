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
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridgeclient"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/config"
)

// replyTimeout bounds every request that waits for a bridge reply.
var replyTimeout = 2 * time.Second

// clientConfig places a client where the controller would be: it listens
// on the bridge's remote port and sends to the bridge's listen port.
func clientConfig(cfg config.OSC) bridgeclient.Config {
	bridgeHost := cfg.LocalAddress
	if ip := net.ParseIP(bridgeHost); ip == nil || ip.IsUnspecified() {
		bridgeHost = "127.0.0.1"
	}
	return bridgeclient.Config{
		LocalAddress:  cfg.RemoteAddress,
		LocalPort:     cfg.RemotePort,
		RemoteAddress: bridgeHost,
		RemotePort:    cfg.LocalPort,
		Prefix:        cfg.Prefix,
	}
}

// withClient dials the bridge, serves replies while fn runs and closes the
// client when fn returns.
func withClient(ctx context.Context, fn func(context.Context, *bridgeclient.Client, *slog.Logger) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	client, err := bridgeclient.Dial(clientConfig(cfg.OSC), logger)
	if err != nil {
		return errors.Wrap(err, "connecting to bridge")
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(client.Serve)
	g.Go(func() error {
		defer func() { _ = client.Close() }()
		return fn(gctx, client, logger)
	})
	return g.Wait()
}

// attach attaches to schemaName, waiting at most replyTimeout.
func attach(ctx context.Context, client *bridgeclient.Client, schemaName string) (*bridgeclient.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	return client.Attach(ctx, schemaName)
}

// detach detaches a, waiting at most replyTimeout for the confirmation.
func detach(ctx context.Context, a *bridgeclient.Attachment) error {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	return a.Detach(ctx)
}

// parseAssignments parses key=value arguments into an update.
// Values are decoded as JSON when possible (numbers, booleans, null,
// quoted strings, arrays and objects) and kept as strings otherwise.
func parseAssignments(args []string) (map[string]any, error) {
	updates := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("expected key=value, got %q", arg)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		updates[key] = value
	}
	return updates, nil
}

// formatValues renders values as indented JSON.
func formatValues(values map[string]any) (string, error) {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding values")
	}
	return string(data), nil
}
