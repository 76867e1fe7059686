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
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridgeclient"
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive shell talking to the bridge",
	Long: `Start an interactive shell acting as an OSC controller: observe schemas,
attach to states, read and update their values and watch their updates.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "swosc> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return errors.Wrap(err, "creating readline")
		}
		defer rl.Close()

		return withClient(ctx, func(ctx context.Context, client *bridgeclient.Client, logger *slog.Logger) error {
			c := newConsole(client, rl.Stdout(), logger)
			defer c.detachAll()
			return c.run(ctx, rl)
		})
	},
}

func init() {
	RootCmd.AddCommand(consoleCmd)
}

// console holds the attachments made from the shell, one per schema.
type console struct {
	client *bridgeclient.Client
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	attached map[string]*bridgeclient.Attachment
}

func newConsole(client *bridgeclient.Client, out io.Writer, logger *slog.Logger) *console {
	return &console{
		client:   client,
		out:      out,
		logger:   logger,
		attached: map[string]*bridgeclient.Attachment{},
	}
}

// lineReader is the part of readline the shell loop needs.
type lineReader interface {
	Readline() (string, error)
}

// run reads commands until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, rl lineReader) error {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if quit := c.exec(ctx, strings.ToLower(fields[0]), fields[1:]); quit {
			return nil
		}
	}
}

// exec runs one shell command and reports whether the shell should exit.
func (c *console) exec(ctx context.Context, name string, args []string) (quit bool) {
	var err error

	switch name {
	case "help", "?":
		c.printHelp()
	case "observe", "o":
		err = c.cmdObserve(ctx, args)
	case "attach", "a":
		err = c.cmdAttach(ctx, args)
	case "get", "g":
		err = c.cmdGet(ctx, args)
	case "set", "s":
		err = c.cmdSet(args)
	case "detach", "d":
		err = c.cmdDetach(ctx, args)
	case "list", "ls":
		c.cmdList()
	case "quit", "exit", "q":
		return true
	default:
		err = errors.Errorf("unknown command %q (type help)", name)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `commands:
  observe <schema>            wait for a state of the schema to exist
  attach <schema>             attach to a state and print its updates
  get <schema>                print the values of an attached state
  set <schema> key=value...   update an attached state
  detach <schema>             detach from a state
  list                        list attached schemas
  help                        show this help
  quit                        detach everything and exit`)
}

func (c *console) cmdObserve(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: observe <schema>")
	}
	octx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if err := c.client.Observe(octx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s exists\n", args[0])
	return nil
}

func (c *console) cmdAttach(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: attach <schema>")
	}
	schemaName := args[0]

	a, err := attach(ctx, c.client, schemaName)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.attached[schemaName] = a
	c.mu.Unlock()

	fmt.Fprintf(c.out, "attached to %s (id %d, remoteId %d)\n", schemaName, a.ID(), a.RemoteID())
	if err := printValues(c.out, a.InitialValues()); err != nil {
		return err
	}
	go c.watch(schemaName, a)
	return nil
}

// watch prints the updates of a until it is detached.
func (c *console) watch(schemaName string, a *bridgeclient.Attachment) {
	for {
		select {
		case updates := <-a.Updates():
			fmt.Fprintf(c.out, "%s updated:\n", schemaName)
			if err := printValues(c.out, updates); err != nil {
				c.logger.Warn("printing update", "schema", schemaName, "error", err)
			}
		case <-a.Detached():
			c.mu.Lock()
			if c.attached[schemaName] == a {
				delete(c.attached, schemaName)
			}
			c.mu.Unlock()
			fmt.Fprintf(c.out, "%s detached\n", schemaName)
			return
		}
	}
}

func (c *console) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <schema>")
	}
	a, err := c.attachment(args[0])
	if err != nil {
		return err
	}
	vctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	values, err := a.Values(vctx)
	if err != nil {
		return err
	}
	return printValues(c.out, values)
}

func (c *console) cmdSet(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <schema> key=value...")
	}
	a, err := c.attachment(args[0])
	if err != nil {
		return err
	}
	updates, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	return a.Set(updates)
}

func (c *console) cmdDetach(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: detach <schema>")
	}
	a, err := c.attachment(args[0])
	if err != nil {
		return err
	}
	return detach(ctx, a)
}

func (c *console) cmdList() {
	c.mu.Lock()
	names := make([]string, 0, len(c.attached))
	for name := range c.attached {
		names = append(names, name)
	}
	c.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(c.out, name)
	}
}

func (c *console) attachment(schemaName string) (*bridgeclient.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.attached[schemaName]
	if !ok {
		return nil, errors.Errorf("not attached to %q", schemaName)
	}
	return a, nil
}

// detachAll detaches every attachment before the shell exits.
func (c *console) detachAll() {
	c.mu.Lock()
	all := make(map[string]*bridgeclient.Attachment, len(c.attached))
	for name, a := range c.attached {
		all[name] = a
	}
	c.mu.Unlock()

	for name, a := range all {
		if err := detach(context.Background(), a); err != nil {
			c.logger.Warn("detaching", "schema", name, "error", err)
		}
	}
}

var _ lineReader = (*readline.Instance)(nil)
