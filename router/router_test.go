package router

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitRunsHandlersInOrder(t *testing.T) {
	r := New(nil)

	var calls []string
	r.Subscribe("/a", func(args osc.Arguments) error {
		calls = append(calls, "first")
		return errors.New("ignored")
	})
	r.Subscribe("/a", func(args osc.Arguments) error {
		s, err := args[0].ReadString()
		require.NoError(t, err)
		calls = append(calls, "second:"+s)
		return nil
	})
	r.Subscribe("/b", func(args osc.Arguments) error {
		calls = append(calls, "other")
		return nil
	})

	require.NoError(t, r.Invoke(osc.Message{
		Address:   "/a",
		Arguments: osc.Arguments{osc.String("x")},
	}, false))
	assert.Equal(t, []string{"first", "second:x"}, calls)
}

func TestExactMatchOnly(t *testing.T) {
	r := New(nil)
	called := false
	r.Subscribe("/state/1/2", func(osc.Arguments) error {
		called = true
		return nil
	})

	assert.False(t, r.Emit("/state/*/2", nil))
	assert.False(t, r.Emit("/state/1", nil))
	assert.False(t, called)
	assert.True(t, r.Emit("/state/1/2", nil))
	assert.True(t, called)
}

func TestUnsubscribe(t *testing.T) {
	r := New(nil)
	var calls []int
	un1 := r.Subscribe("/a", func(osc.Arguments) error { calls = append(calls, 1); return nil })
	un2 := r.Subscribe("/a", func(osc.Arguments) error { calls = append(calls, 2); return nil })

	un1()
	un1()
	r.Emit("/a", nil)
	assert.Equal(t, []int{2}, calls)
	assert.True(t, r.Has("/a"))

	un2()
	assert.False(t, r.Has("/a"))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Emit("/a", nil))
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	r := New(nil)
	var calls []int
	var un2 func()
	r.Subscribe("/a", func(osc.Arguments) error {
		calls = append(calls, 1)
		un2()
		return nil
	})
	un2 = r.Subscribe("/a", func(osc.Arguments) error { calls = append(calls, 2); return nil })

	r.Emit("/a", nil)
	r.Emit("/a", nil)
	assert.Equal(t, []int{1, 2, 1}, calls)
}

func TestDispatchBundle(t *testing.T) {
	r := New(nil)
	var got []string
	r.Subscribe("/x", func(osc.Arguments) error { got = append(got, "x"); return nil })
	r.Subscribe("/y", func(osc.Arguments) error { got = append(got, "y"); return nil })

	require.NoError(t, r.Dispatch(osc.Bundle{
		Packets: []osc.Packet{
			osc.Message{Address: "/y"},
			osc.Message{Address: "/x"},
		},
	}, true))
	assert.Equal(t, []string{"y", "x"}, got)
}
