package bridgeclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/smosc"
)

const updateBuffer = 64

// Attachment is the client side of an attached state.
type Attachment struct {
	client     *Client
	id         int
	remoteID   int
	schemaName string
	schema     schema.Schema
	initial    map[string]any

	updates      chan map[string]any
	detached     chan struct{}
	detachedOnce sync.Once
	release      []func()
}

// ID returns the state id.
func (a *Attachment) ID() int { return a.id }

// RemoteID returns the id of the bridge's instance of the state.
func (a *Attachment) RemoteID() int { return a.remoteID }

// SchemaName returns the name of the state's schema.
func (a *Attachment) SchemaName() string { return a.schemaName }

// Schema returns the schema sent in the attach response.
func (a *Attachment) Schema() schema.Schema { return a.schema }

// InitialValues returns the values sent in the attach response.
func (a *Attachment) InitialValues() map[string]any { return a.initial }

// Updates delivers the changed values of every update notification.
// Notifications are dropped while the channel is full.
func (a *Attachment) Updates() <-chan map[string]any { return a.updates }

// Detached is closed when the bridge notifies the end of the attachment.
func (a *Attachment) Detached() <-chan struct{} { return a.detached }

func (a *Attachment) address(channel string) string {
	return a.client.addrs.State(channel, a.id, a.remoteID)
}

func (a *Attachment) subscribe() {
	r := a.client.router
	a.release = []func(){
		r.Subscribe(a.address(smosc.ChannelUpdateNotification), a.handleUpdateNotification),
		r.Subscribe(a.address(smosc.ChannelDetachNotification), a.handleDetachNotification),
	}
}

func (a *Attachment) handleUpdateNotification(args osc.Arguments) error {
	payload, err := stringArg(args, 0)
	if err != nil {
		return err
	}
	var updates map[string]any
	if err := json.Unmarshal([]byte(payload), &updates); err != nil {
		return errors.Wrap(err, "decoding update notification")
	}
	select {
	case a.updates <- updates:
	default:
		a.client.logger.Warn("dropping update notification", "schema", a.schemaName)
	}
	return nil
}

func (a *Attachment) handleDetachNotification(osc.Arguments) error {
	a.finish()
	return nil
}

// finish releases the notification handlers and closes Detached.
func (a *Attachment) finish() {
	a.detachedOnce.Do(func() {
		for _, release := range a.release {
			release()
		}
		close(a.detached)
	})
}

// Values requests the current values of the state.
func (a *Attachment) Values(ctx context.Context) (map[string]any, error) {
	replies := make(chan map[string]any, 1)
	unsubscribe := a.client.router.Subscribe(a.address(smosc.ChannelGetValuesResponse), func(args osc.Arguments) error {
		payload, err := stringArg(args, 0)
		if err != nil {
			return err
		}
		var values map[string]any
		if err := json.Unmarshal([]byte(payload), &values); err != nil {
			return errors.Wrap(err, "decoding values")
		}
		select {
		case replies <- values:
		default:
		}
		return nil
	})
	defer unsubscribe()

	if err := a.client.send(a.address(smosc.ChannelGetValuesRequest)); err != nil {
		return nil, err
	}
	select {
	case values := <-replies:
		return values, nil
	case <-a.detached:
		return nil, errors.Errorf("state %q detached", a.schemaName)
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for values of %q", a.schemaName)
	}
}

// Set sends a partial update. Values are coerced by the bridge; fields it
// cannot coerce are ignored.
func (a *Attachment) Set(updates map[string]any) error {
	payload, err := json.Marshal(updates)
	if err != nil {
		return errors.Wrap(err, "encoding updates")
	}
	return a.client.send(a.address(smosc.ChannelUpdateRequest), osc.String(string(payload)))
}

// Detach ends the attachment and waits for the bridge to confirm it.
func (a *Attachment) Detach(ctx context.Context) error {
	select {
	case <-a.detached:
		return nil
	default:
	}
	if err := a.client.send(a.address(smosc.ChannelDetachRequest)); err != nil {
		return err
	}
	select {
	case <-a.detached:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for detach of %q", a.schemaName)
	}
}
