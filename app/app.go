// Package app runs the server side of the application: the shared states
// the server creates and owns.
package app

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/config"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

// App holds the state of the application.
type App struct {
	config.App

	manager *statemanager.Manager
	logger  *slog.Logger

	mu      sync.Mutex
	states  []*statemanager.SharedState
	toggled map[string]*statemanager.SharedState
	release []func()
}

// New creates a new app.
func New(cfg config.App, manager *statemanager.Manager, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		App:     cfg,
		manager: manager,
		logger:  logger,
		toggled: map[string]*statemanager.SharedState{},
	}
}

// Start creates the startup states and watches their toggle fields.
func (app *App) Start() error {
	for _, name := range app.States {
		state, err := app.manager.Create(name)
		if err != nil {
			return errors.Wrapf(err, "creating state %q", name)
		}
		app.mu.Lock()
		app.states = append(app.states, state)
		app.release = append(app.release, state.Subscribe(app.handleUpdates))
		app.mu.Unlock()
		app.logger.Info("state created", "schema", name, "id", state.ID())
	}
	return nil
}

// handleUpdates creates or deletes the toggled states named by the
// boolean fields of updates.
func (app *App) handleUpdates(updates map[string]any) {
	fields := make([]string, 0, len(app.Toggles))
	for field := range app.Toggles {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		v, ok := updates[field]
		if !ok {
			continue
		}
		on, _ := v.(bool)
		if err := app.toggle(app.Toggles[field], on); err != nil {
			app.logger.Error("toggling state", "field", field, "schema", app.Toggles[field], "error", err)
		}
	}
}

func (app *App) toggle(schemaName string, on bool) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	state, exists := app.toggled[schemaName]
	switch {
	case on && !exists:
		created, err := app.manager.Create(schemaName)
		if err != nil {
			return err
		}
		app.toggled[schemaName] = created
		app.logger.Info("state created", "schema", schemaName, "id", created.ID())
	case !on && exists:
		delete(app.toggled, schemaName)
		if err := state.Detach(); err != nil {
			return err
		}
		app.logger.Info("state deleted", "schema", schemaName, "id", state.ID())
	}
	return nil
}

// Toggled returns the state created for a toggled schema, if any.
func (app *App) Toggled(schemaName string) (*statemanager.SharedState, bool) {
	app.mu.Lock()
	defer app.mu.Unlock()
	state, ok := app.toggled[schemaName]
	return state, ok
}

// Stop deletes every state created by the app.
func (app *App) Stop() {
	app.mu.Lock()
	release := app.release
	states := app.states
	toggled := app.toggled
	app.release, app.states, app.toggled = nil, nil, map[string]*statemanager.SharedState{}
	app.mu.Unlock()

	for _, fn := range release {
		fn()
	}
	for name, state := range toggled {
		if err := state.Detach(); err != nil {
			app.logger.Warn("deleting state", "schema", name, "error", err)
		}
	}
	for _, state := range states {
		if err := state.Detach(); err != nil {
			app.logger.Warn("deleting state", "schema", state.SchemaName(), "error", err)
		}
	}
}
