package bridge

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/smosc"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

// handleObserveRequest notifies the controller of every state of the
// requested schema created by the server, including existing ones.
// A new request for the same schema replaces the previous observer.
func (b *Bridge) handleObserveRequest(args osc.Arguments) error {
	schemaName, err := stringArg(args, 0)
	if err != nil {
		return errors.Wrap(err, "observe request")
	}
	b.scope.Counter(metricObserves).Inc(1)

	b.observeMu.Lock()
	defer b.observeMu.Unlock()

	if b.closing.Load() {
		return nil
	}
	if unobserve, ok := b.observers[schemaName]; ok {
		unobserve()
	}
	b.observers[schemaName] = b.manager.Observe(func(name string, stateID int, nodeID int) {
		// controllers can only attach to states created by the server
		if nodeID != statemanager.ServerNodeID || name != schemaName {
			return
		}
		b.logger.Info("observe notification", "schema", schemaName, "id", stateID)
		b.send(b.addrs.Global(smosc.ChannelObserveNotification), osc.String(schemaName))
	})
	return nil
}

// handleAttachRequest attaches to the first state of the requested schema,
// replacing any previous attachment to that schema.
func (b *Bridge) handleAttachRequest(args osc.Arguments) error {
	schemaName, err := stringArg(args, 0)
	if err != nil {
		return errors.Wrap(err, "attach request")
	}
	b.scope.Counter(metricAttachRequests).Inc(1)

	b.attachMu.Lock()
	defer b.attachMu.Unlock()

	if b.closing.Load() {
		return nil
	}
	if prev := b.attachment(schemaName); prev != nil {
		if err := prev.cleanup(true); err != nil {
			b.logger.Warn("cleaning previous attachment", "schema", schemaName, "error", err)
		}
	}

	state, err := b.manager.Attach(schemaName)
	if err != nil {
		b.scope.Counter(metricAttachErrors).Inc(1)
		b.logger.Warn("attach failed", "schema", schemaName, "error", err)
		b.send(b.addrs.Global(smosc.ChannelAttachError), osc.String(err.Error()))
		return nil
	}

	schemaJSON, valuesJSON, err := encodeState(state)
	if err != nil {
		b.scope.Counter(metricAttachErrors).Inc(1)
		b.send(b.addrs.Global(smosc.ChannelAttachError), osc.String(err.Error()))
		if detachErr := state.Detach(); detachErr != nil {
			b.logger.Warn("detaching unusable state", "schema", schemaName, "error", detachErr)
		}
		return err
	}
	b.attachState(schemaName, state, schemaJSON, valuesJSON)
	return nil
}

func encodeState(state *statemanager.SharedState) (schemaJSON, valuesJSON []byte, err error) {
	schemaJSON, err = json.Marshal(state.Schema())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "encoding schema %q", state.SchemaName())
	}
	valuesJSON, err = json.Marshal(state.Values())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "encoding values of %q", state.SchemaName())
	}
	return schemaJSON, valuesJSON, nil
}

// attachState registers the channels of a new attachment, stores it and
// sends the attach response.
func (b *Bridge) attachState(schemaName string, state *statemanager.SharedState, schemaJSON, valuesJSON []byte) {
	a := b.newAttachment(schemaName, state)

	b.mu.Lock()
	b.attached[schemaName] = a
	count := len(b.attached)
	b.mu.Unlock()
	b.scope.Gauge(metricAttachments).Update(float64(count))

	b.logger.Info("sending attach response", "schema", schemaName, "id", a.id, "remoteId", a.remoteID)
	b.send(b.addrs.Global(smosc.ChannelAttachResponse),
		osc.Int(a.id),
		osc.Int(a.remoteID),
		osc.String(schemaName),
		osc.String(string(schemaJSON)),
		osc.String(string(valuesJSON)),
	)
}

// attachment returns the live attachment of a schema, or nil.
func (b *Bridge) attachment(schemaName string) *attachment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached[schemaName]
}

// forget removes a from the attachment table if it is still the
// attachment registered for its schema.
func (b *Bridge) forget(a *attachment) {
	b.mu.Lock()
	if b.attached[a.schemaName] == a {
		delete(b.attached, a.schemaName)
	}
	count := len(b.attached)
	b.mu.Unlock()
	b.scope.Gauge(metricAttachments).Update(float64(count))
}

func stringArg(args osc.Arguments, i int) (string, error) {
	if len(args) <= i {
		return "", errors.Errorf("expected at least %d argument(s), got %d", i+1, len(args))
	}
	s, err := args[i].ReadString()
	if err != nil {
		return "", errors.Wrapf(err, "reading string argument %d", i)
	}
	return s, nil
}
