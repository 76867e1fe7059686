package statemanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
)

var globals = schema.Schema{
	"volume":      {Type: schema.TypeFloat, Default: 0.5},
	"createOther": {Type: schema.TypeBoolean, Default: false},
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(nil)
	require.NoError(t, m.RegisterSchema("globals", globals))
	return m
}

func TestRegisterSchema(t *testing.T) {
	m := newTestManager(t)

	err := m.RegisterSchema("globals", globals)
	require.ErrorIs(t, err, ErrSchemaExists)

	err = m.RegisterSchema("broken", schema.Schema{"x": {Type: "vector"}})
	require.ErrorIs(t, err, schema.ErrInvalidField)

	assert.Equal(t, []string{"globals"}, m.SchemaNames())
}

func TestCreateAndAttach(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Attach("globals")
	require.ErrorIs(t, err, ErrNoState)

	_, err = m.Attach("nope")
	require.ErrorIs(t, err, ErrUnknownSchema)

	owner, err := m.Create("globals")
	require.NoError(t, err)
	assert.True(t, owner.IsOwner())
	assert.Equal(t, ServerNodeID, owner.NodeID())
	assert.Equal(t, map[string]any{"volume": 0.5, "createOther": false}, owner.Values())

	a, err := m.Attach("globals")
	require.NoError(t, err)
	b, err := m.Attach("globals")
	require.NoError(t, err)

	assert.Equal(t, owner.ID(), a.ID())
	assert.Equal(t, owner.ID(), b.ID())
	assert.NotEqual(t, owner.RemoteID(), a.RemoteID())
	assert.NotEqual(t, a.RemoteID(), b.RemoteID())
	assert.False(t, a.IsOwner())
}

func TestSetNotifiesEveryInstance(t *testing.T) {
	m := newTestManager(t)
	owner, err := m.Create("globals")
	require.NoError(t, err)
	attached, err := m.Attach("globals")
	require.NoError(t, err)

	var ownerUpdates, attachedUpdates []map[string]any
	owner.Subscribe(func(u map[string]any) { ownerUpdates = append(ownerUpdates, u) })
	unsubscribe := attached.Subscribe(func(u map[string]any) { attachedUpdates = append(attachedUpdates, u) })

	changed, err := attached.Set(map[string]any{"volume": 0.8, "createOther": false})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"volume": 0.8}, changed)

	// no change, no notification
	_, err = owner.Set(map[string]any{"volume": 0.8})
	require.NoError(t, err)

	unsubscribe()
	_, err = owner.Set(map[string]any{"createOther": true})
	require.NoError(t, err)

	assert.Equal(t, []map[string]any{{"volume": 0.8}, {"createOther": true}}, ownerUpdates)
	assert.Equal(t, []map[string]any{{"volume": 0.8}}, attachedUpdates)

	v, err := attached.Get("createOther")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSetRejectsUnknownField(t *testing.T) {
	m := newTestManager(t)
	owner, err := m.Create("globals")
	require.NoError(t, err)

	_, err = owner.Set(map[string]any{"volume": 1.0, "ghost": 1})
	require.ErrorIs(t, err, schema.ErrUnknownField)
	assert.Equal(t, 0.5, owner.Values()["volume"])
}

func TestObserveReplaysExistingStates(t *testing.T) {
	m := newTestManager(t)
	first, err := m.Create("globals")
	require.NoError(t, err)

	type event struct {
		name     string
		id, node int
	}
	var events []event
	unobserve := m.Observe(func(name string, id, node int) {
		events = append(events, event{name, id, node})
	})

	second, err := m.CreateForNode(4, "globals")
	require.NoError(t, err)

	unobserve()
	_, err = m.Create("globals")
	require.NoError(t, err)

	assert.Equal(t, []event{
		{"globals", first.ID(), ServerNodeID},
		{"globals", second.ID(), 4},
	}, events)
}

func TestDetachAttachedInstance(t *testing.T) {
	m := newTestManager(t)
	owner, err := m.Create("globals")
	require.NoError(t, err)
	attached, err := m.Attach("globals")
	require.NoError(t, err)

	calls := 0
	attached.OnDetach(func() { calls++ })
	var seen []map[string]any
	attached.Subscribe(func(u map[string]any) { seen = append(seen, u) })

	require.NoError(t, attached.Detach())
	assert.Equal(t, 1, calls)
	assert.True(t, attached.Detached())
	assert.False(t, owner.Detached())

	_, err = owner.Set(map[string]any{"volume": 0.1})
	require.NoError(t, err)
	assert.Empty(t, seen)

	require.ErrorIs(t, attached.Detach(), ErrDetached)
	_, err = attached.Set(map[string]any{"volume": 0.2})
	require.ErrorIs(t, err, ErrDetached)
	assert.Equal(t, 1, calls)
}

func TestDetachOwnerDeletesState(t *testing.T) {
	m := newTestManager(t)
	owner, err := m.Create("globals")
	require.NoError(t, err)
	attached, err := m.Attach("globals")
	require.NoError(t, err)

	var order []string
	attached.OnDetach(func() { order = append(order, "attached") })
	cancel := owner.OnDetach(func() { order = append(order, "owner") })
	cancel()

	require.NoError(t, owner.Detach())
	assert.Equal(t, []string{"attached"}, order)
	assert.True(t, attached.Detached())

	_, err = m.Attach("globals")
	require.ErrorIs(t, err, ErrNoState)
}
