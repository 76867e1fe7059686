package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/config"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

func newTestApp(t *testing.T) (*App, *statemanager.Manager) {
	t.Helper()
	m := statemanager.New(nil)
	require.NoError(t, m.RegisterSchema("globals", schema.Schema{
		"createOther": {Type: schema.TypeBoolean, Default: false},
	}))
	require.NoError(t, m.RegisterSchema("other", schema.Schema{
		"gain": {Type: schema.TypeFloat, Default: 1.0},
	}))
	a := New(config.App{
		States:  []string{"globals"},
		Toggles: map[string]string{"createOther": "other"},
	}, m, nil)
	require.NoError(t, a.Start())
	return a, m
}

func TestToggleCreatesAndDeletes(t *testing.T) {
	a, m := newTestApp(t)

	globals, err := m.Attach("globals")
	require.NoError(t, err)
	_, err = m.Attach("other")
	require.ErrorIs(t, err, statemanager.ErrNoState)

	_, err = globals.Set(map[string]any{"createOther": true})
	require.NoError(t, err)
	other, ok := a.Toggled("other")
	require.True(t, ok)
	attached, err := m.Attach("other")
	require.NoError(t, err)
	assert.Equal(t, other.ID(), attached.ID())

	_, err = globals.Set(map[string]any{"createOther": false})
	require.NoError(t, err)
	_, ok = a.Toggled("other")
	assert.False(t, ok)
	assert.True(t, attached.Detached())
	_, err = m.Attach("other")
	require.ErrorIs(t, err, statemanager.ErrNoState)
}

func TestStopDeletesStates(t *testing.T) {
	a, m := newTestApp(t)

	globals, err := m.Attach("globals")
	require.NoError(t, err)
	_, err = globals.Set(map[string]any{"createOther": true})
	require.NoError(t, err)

	a.Stop()
	assert.True(t, globals.Detached())
	_, err = m.Attach("other")
	require.ErrorIs(t, err, statemanager.ErrNoState)
}

func TestStartUnknownSchema(t *testing.T) {
	a := New(config.App{States: []string{"nope"}}, statemanager.New(nil), nil)
	require.ErrorIs(t, a.Start(), statemanager.ErrUnknownSchema)
}
