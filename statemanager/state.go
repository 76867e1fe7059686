package statemanager

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
)

// SharedState is one instance of a state: the owner's, or an attachment.
type SharedState struct {
	manager  *Manager
	rec      *record
	remoteID int
	owner    bool

	// guarded by manager.mu
	detached    bool
	nextHandle  int
	subscribers map[int]func(map[string]any)
	onDetach    map[int]func()
}

func newSharedState(m *Manager, rec *record, remoteID int, owner bool) *SharedState {
	return &SharedState{
		manager:     m,
		rec:         rec,
		remoteID:    remoteID,
		owner:       owner,
		subscribers: map[int]func(map[string]any){},
		onDetach:    map[int]func(){},
	}
}

// ID returns the id shared by every instance of the state.
func (s *SharedState) ID() int { return s.rec.id }

// RemoteID returns the id of this instance.
func (s *SharedState) RemoteID() int { return s.remoteID }

// SchemaName returns the name of the state's schema.
func (s *SharedState) SchemaName() string { return s.rec.schemaName }

// Schema returns the state's schema.
func (s *SharedState) Schema() schema.Schema { return s.rec.schema }

// NodeID returns the node that created the state.
func (s *SharedState) NodeID() int { return s.rec.nodeID }

// IsOwner reports whether this instance created the state.
func (s *SharedState) IsOwner() bool { return s.owner }

// Values returns a copy of the current values.
func (s *SharedState) Values() map[string]any {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	return copyValues(s.rec.values)
}

// Get returns the current value of a field.
func (s *SharedState) Get(name string) (any, error) {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	v, ok := s.rec.values[name]
	if !ok {
		return nil, errors.Wrapf(schema.ErrUnknownField, "state %q has no field %q", s.rec.schemaName, name)
	}
	return v, nil
}

// Set applies a partial update. Values must already be coerced to their
// field types. An update naming an unknown field is rejected as a whole.
// The changed subset is returned and sent to the subscribers of every
// instance of the state.
func (s *SharedState) Set(updates map[string]any) (map[string]any, error) {
	m := s.manager
	m.mu.Lock()
	if s.detached {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrDetached, "cannot set state %q", s.rec.schemaName)
	}
	for name := range updates {
		if _, ok := s.rec.schema[name]; !ok {
			m.mu.Unlock()
			return nil, errors.Wrapf(schema.ErrUnknownField, "state %q has no field %q", s.rec.schemaName, name)
		}
	}
	changed := map[string]any{}
	for name, v := range updates {
		if reflect.DeepEqual(s.rec.values[name], v) {
			continue
		}
		s.rec.values[name] = v
		changed[name] = v
	}
	if len(changed) == 0 {
		m.mu.Unlock()
		return changed, nil
	}

	var listeners []func(map[string]any)
	for _, inst := range s.rec.instances {
		listeners = append(listeners, inst.subscriberList()...)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(copyValues(changed))
	}
	return changed, nil
}

// Subscribe registers fn for every change of the state's values.
// The returned function removes the subscription.
func (s *SharedState) Subscribe(fn func(updates map[string]any)) (unsubscribe func()) {
	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	s.nextHandle++
	key := s.nextHandle
	s.subscribers[key] = fn
	return func() {
		m.mu.Lock()
		delete(s.subscribers, key)
		m.mu.Unlock()
	}
}

// OnDetach registers fn to run once when this instance gets detached,
// whether by Detach or because the owner deleted the state.
// The returned function removes the callback.
func (s *SharedState) OnDetach(fn func()) (cancel func()) {
	m := s.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	s.nextHandle++
	key := s.nextHandle
	s.onDetach[key] = fn
	return func() {
		m.mu.Lock()
		delete(s.onDetach, key)
		m.mu.Unlock()
	}
}

// Detach detaches this instance. Detaching the owner deletes the state
// and detaches all attached instances.
func (s *SharedState) Detach() error {
	m := s.manager
	m.mu.Lock()
	if s.detached {
		m.mu.Unlock()
		return errors.Wrapf(ErrDetached, "state %q (remoteId %d)", s.rec.schemaName, s.remoteID)
	}
	var detached []*SharedState
	if s.owner {
		s.rec.deleted = true
		m.removeRecord(s.rec)
		for _, inst := range s.rec.instances {
			detached = append(detached, inst)
		}
		s.rec.instances = map[int]*SharedState{}
	} else {
		delete(s.rec.instances, s.remoteID)
		detached = append(detached, s)
	}

	var callbacks []func()
	for _, inst := range detached {
		inst.detached = true
		callbacks = append(callbacks, inst.detachList()...)
		inst.subscribers = map[int]func(map[string]any){}
		inst.onDetach = map[int]func(){}
	}
	m.mu.Unlock()

	m.logger.Debug("state detached", "schema", s.rec.schemaName, "id", s.rec.id, "remoteId", s.remoteID, "owner", s.owner)
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Detached reports whether the instance has been detached.
func (s *SharedState) Detached() bool {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	return s.detached
}

func (s *SharedState) subscriberList() []func(map[string]any) {
	return ordered(s.subscribers, s.nextHandle)
}

func (s *SharedState) detachList() []func() {
	return ordered(s.onDetach, s.nextHandle)
}

func ordered[F any](m map[int]F, last int) []F {
	list := make([]F, 0, len(m))
	for key := 1; key <= last; key++ {
		if fn, ok := m[key]; ok {
			list = append(list, fn)
		}
	}
	return list
}

func copyValues(values map[string]any) map[string]any {
	c := make(map[string]any, len(values))
	for k, v := range values {
		c[k] = v
	}
	return c
}
