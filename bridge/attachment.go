package bridge

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/smosc"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

// attachment binds one schema name to one attached state instance and owns
// every channel and subscription created for it.
type attachment struct {
	bridge     *Bridge
	schemaName string
	state      *statemanager.SharedState
	id         int
	remoteID   int

	release []func()
	once    sync.Once
	err     error
}

func (b *Bridge) newAttachment(schemaName string, state *statemanager.SharedState) *attachment {
	a := &attachment{
		bridge:     b,
		schemaName: schemaName,
		state:      state,
		id:         state.ID(),
		remoteID:   state.RemoteID(),
	}
	a.release = []func(){
		b.router.Subscribe(a.address(smosc.ChannelUpdateRequest), a.handleUpdateRequest),
		b.router.Subscribe(a.address(smosc.ChannelGetValuesRequest), a.handleGetValuesRequest),
		state.Subscribe(a.notifyUpdate),
		b.router.Subscribe(a.address(smosc.ChannelDetachRequest), a.handleDetachRequest),
		state.OnDetach(a.handleStoreDetach),
	}
	return a
}

func (a *attachment) address(channel string) string {
	return a.bridge.addrs.State(channel, a.id, a.remoteID)
}

// handleUpdateRequest applies a JSON object of raw values. Values that
// cannot be coerced to their field type are dropped; the others still apply.
func (a *attachment) handleUpdateRequest(args osc.Arguments) error {
	payload, err := stringArg(args, 0)
	if err != nil {
		return errors.Wrap(err, "update request")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return errors.Wrapf(err, "decoding update request for %q", a.schemaName)
	}

	b := a.bridge
	updates, dropped := a.state.Schema().CoerceUpdates(raw)
	for _, err := range dropped {
		b.logger.Warn("ignoring param update", "schema", a.schemaName, "error", err)
	}
	b.scope.Counter(metricFieldsDropped).Inc(int64(len(dropped)))
	if len(updates) == 0 {
		return nil
	}
	if _, err := a.state.Set(updates); err != nil {
		return errors.Wrapf(err, "updating %q", a.schemaName)
	}
	b.scope.Counter(metricUpdates).Inc(1)
	return nil
}

func (a *attachment) handleGetValuesRequest(osc.Arguments) error {
	values, err := json.Marshal(a.state.Values())
	if err != nil {
		return errors.Wrapf(err, "encoding values of %q", a.schemaName)
	}
	a.bridge.send(a.address(smosc.ChannelGetValuesResponse), osc.String(string(values)))
	return nil
}

func (a *attachment) handleDetachRequest(osc.Arguments) error {
	return a.cleanup(true)
}

// handleStoreDetach runs when the store detached the state itself,
// e.g. because its owner deleted it.
func (a *attachment) handleStoreDetach() {
	if err := a.cleanup(false); err != nil {
		a.bridge.logger.Error("cleaning detached state", "schema", a.schemaName, "error", err)
	}
}

func (a *attachment) notifyUpdate(updates map[string]any) {
	payload, err := json.Marshal(updates)
	if err != nil {
		a.bridge.logger.Error("encoding update notification", "schema", a.schemaName, "error", err)
		return
	}
	a.bridge.send(a.address(smosc.ChannelUpdateNotification), osc.String(string(payload)))
}

// cleanup ends the attachment: it releases every channel and subscription,
// notifies the controller, removes the attachment from the bridge and, when
// detach is set, detaches the state from the store. Only the first call has
// any effect; concurrent callers wait for it to complete.
func (a *attachment) cleanup(detach bool) error {
	a.once.Do(func() {
		b := a.bridge
		b.logger.Info("cleaning state", "schema", a.schemaName, "id", a.id, "remoteId", a.remoteID)

		for _, release := range a.release {
			release()
		}
		b.send(a.address(smosc.ChannelDetachNotification))
		b.forget(a)
		b.scope.Counter(metricDetaches).Inc(1)

		if !detach {
			return
		}
		if err := a.state.Detach(); err != nil && !errors.Is(err, statemanager.ErrDetached) {
			a.err = errors.Wrapf(err, "detaching %q", a.schemaName)
		}
	})
	return a.err
}
