// Package statemanager holds the shared states of the server.
//
// A state is created from a registered schema by its owner. Other parties
// attach to it and receive a distinct remote id; every instance can read and
// update the values and subscribe to changes. Detaching the owner deletes the
// state and detaches every attached instance.
package statemanager

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
)

// ServerNodeID identifies states created by the server process itself.
const ServerNodeID = -1

// Errors returned by the manager.
var (
	ErrUnknownSchema = errors.New("unknown schema")
	ErrSchemaExists  = errors.New("schema already registered")
	ErrNoState       = errors.New("no state to attach to")
	ErrDetached      = errors.New("state is detached")
)

// ObserveFunc is invoked for every state of the manager, existing ones first.
type ObserveFunc func(schemaName string, stateID int, nodeID int)

// Manager owns schemas and the states created from them.
// All methods are safe for concurrent use. Callbacks are never invoked
// while the manager lock is held.
type Manager struct {
	logger *slog.Logger

	mu           sync.Mutex
	schemas      map[string]schema.Schema
	states       []*record
	nextStateID  int
	nextRemoteID int
	observers    map[int]ObserveFunc
	nextObserver int
}

// New creates an empty manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		schemas:   map[string]schema.Schema{},
		observers: map[int]ObserveFunc{},
	}
}

// RegisterSchema makes a schema available for state creation.
func (m *Manager) RegisterSchema(name string, s schema.Schema) error {
	if err := s.Validate(); err != nil {
		return errors.Wrapf(err, "schema %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schemas[name]; ok {
		return errors.Wrapf(ErrSchemaExists, "schema %q", name)
	}
	m.schemas[name] = s
	return nil
}

// Schema returns a registered schema.
func (m *Manager) Schema(name string) (schema.Schema, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[name]
	return s, ok
}

// SchemaNames returns the names of the registered schemas, sorted.
func (m *Manager) SchemaNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create creates a state owned by the server.
func (m *Manager) Create(schemaName string) (*SharedState, error) {
	return m.CreateForNode(ServerNodeID, schemaName)
}

// CreateForNode creates a state owned by the given node.
func (m *Manager) CreateForNode(nodeID int, schemaName string) (*SharedState, error) {
	m.mu.Lock()
	s, ok := m.schemas[schemaName]
	if !ok {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrUnknownSchema, "cannot create state %q", schemaName)
	}
	m.nextStateID++
	m.nextRemoteID++
	rec := &record{
		id:         m.nextStateID,
		schemaName: schemaName,
		schema:     s,
		nodeID:     nodeID,
		values:     s.Defaults(),
		instances:  map[int]*SharedState{},
	}
	owner := newSharedState(m, rec, m.nextRemoteID, true)
	rec.instances[owner.remoteID] = owner
	m.states = append(m.states, rec)

	observers := m.observerList()
	m.mu.Unlock()

	m.logger.Debug("state created", "schema", schemaName, "id", rec.id, "node", nodeID)
	for _, fn := range observers {
		fn(schemaName, rec.id, nodeID)
	}
	return owner, nil
}

// Attach attaches to the first live state of the schema.
func (m *Manager) Attach(schemaName string) (*SharedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schemas[schemaName]; !ok {
		return nil, errors.Wrapf(ErrUnknownSchema, "cannot attach to state %q", schemaName)
	}
	for _, rec := range m.states {
		if rec.schemaName != schemaName {
			continue
		}
		m.nextRemoteID++
		inst := newSharedState(m, rec, m.nextRemoteID, false)
		rec.instances[inst.remoteID] = inst
		m.logger.Debug("state attached", "schema", schemaName, "id", rec.id, "remoteId", inst.remoteID)
		return inst, nil
	}
	return nil, errors.Wrapf(ErrNoState, "cannot attach to state %q", schemaName)
}

// Observe registers fn for every state of the manager. It is called
// immediately for the existing states, then on each creation.
// The returned function removes the observer.
func (m *Manager) Observe(fn ObserveFunc) (unobserve func()) {
	m.mu.Lock()
	m.nextObserver++
	key := m.nextObserver
	m.observers[key] = fn

	existing := make([]*record, len(m.states))
	copy(existing, m.states)
	m.mu.Unlock()

	for _, rec := range existing {
		fn(rec.schemaName, rec.id, rec.nodeID)
	}
	return func() {
		m.mu.Lock()
		delete(m.observers, key)
		m.mu.Unlock()
	}
}

// observerList returns the observers in registration order.
// Callers must hold m.mu.
func (m *Manager) observerList() []ObserveFunc {
	return ordered(m.observers, m.nextObserver)
}

// removeRecord drops rec from the live states. Callers must hold m.mu.
func (m *Manager) removeRecord(rec *record) {
	for i, r := range m.states {
		if r == rec {
			m.states = append(m.states[:i], m.states[i+1:]...)
			return
		}
	}
}

// record is the manager-side storage of a state shared by its instances.
type record struct {
	id         int
	schemaName string
	schema     schema.Schema
	nodeID     int
	values     map[string]any
	instances  map[int]*SharedState
	deleted    bool
}
