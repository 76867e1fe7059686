// Package bridgeclient speaks the controller side of the state-manager OSC
// protocol: it observes schemas, attaches to states, reads and updates
// their values and receives change notifications, as a Max patch would.
package bridgeclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/router"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/smosc"
)

// ErrAttach is returned when the bridge refuses an attach request.
var ErrAttach = errors.New("attach error")

// Config locates the client and the bridge. The client listens where the
// bridge sends (the bridge's remote address) and sends where it listens.
type Config struct {
	LocalAddress  string
	LocalPort     int
	RemoteAddress string
	RemotePort    int
	Prefix        string
}

// Client is a connection to a bridge.
type Client struct {
	Config

	logger    *slog.Logger
	addrs     smosc.Addresses
	router    *router.Router
	conn      *osc.UDPConn
	remote    net.Addr
	listening chan struct{}
	closed    atomic.Bool
}

// Dial binds the client's socket. Serve must run for replies to be received.
func Dial(config Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(config.LocalAddress, strconv.Itoa(config.LocalPort)))
	if err != nil {
		return nil, errors.Wrap(err, "creating listening address")
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(config.RemoteAddress, strconv.Itoa(config.RemotePort)))
	if err != nil {
		return nil, errors.Wrap(err, "creating bridge address")
	}
	conn, err := osc.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "listening for bridge messages")
	}
	c := &Client{
		Config:    config,
		logger:    logger,
		addrs:     smosc.New(config.Prefix),
		router:    router.New(logger),
		conn:      conn,
		remote:    raddr,
		listening: make(chan struct{}, 1),
	}
	c.router.Subscribe(c.addrs.Global(smosc.ChannelListening), func(osc.Arguments) error {
		signal(c.listening)
		return nil
	})
	return c, nil
}

// LocalAddr returns the address the client listens on.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Serve receives bridge messages until the client is closed.
// Packets that cannot be parsed are logged and dropped.
func (c *Client) Serve() error {
	for {
		err := c.conn.Serve(1, c.router)
		if c.closed.Load() {
			return nil
		}
		if err == nil || errors.Is(err, net.ErrClosed) {
			return errors.Wrap(err, "receiving bridge messages")
		}
		c.logger.Warn("dropping malformed packet", "error", err)
	}
}

// Close closes the client's socket.
func (c *Client) Close() error {
	c.closed.Store(true)
	return c.conn.Close()
}

// Listening signals every time the bridge announces it is listening.
// Signals are not queued: a pending one absorbs the next.
func (c *Client) Listening() <-chan struct{} {
	return c.listening
}

// Observe asks to be notified of the server-created states of a schema
// and waits for the first notification.
func (c *Client) Observe(ctx context.Context, schemaName string) error {
	found := make(chan struct{}, 1)
	unsubscribe := c.router.Subscribe(c.addrs.Global(smosc.ChannelObserveNotification), func(args osc.Arguments) error {
		name, err := stringArg(args, 0)
		if err != nil {
			return err
		}
		if name == schemaName {
			signal(found)
		}
		return nil
	})
	defer unsubscribe()

	if err := c.send(c.addrs.Global(smosc.ChannelObserveRequest), osc.String(schemaName)); err != nil {
		return err
	}
	select {
	case <-found:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for state %q", schemaName)
	}
}

type attachReply struct {
	attachment *Attachment
	err        error
}

// Attach attaches to the first state of a schema. Only the first reply
// is used; an attachment built from a reply that arrives after ctx is done
// is released at once.
func (c *Client) Attach(ctx context.Context, schemaName string) (*Attachment, error) {
	var (
		claimed atomic.Bool
		replies = make(chan attachReply, 1)
	)
	unsubscribeResponse := c.router.Subscribe(c.addrs.Global(smosc.ChannelAttachResponse), func(args osc.Arguments) error {
		name, err := stringArg(args, 2)
		if err != nil {
			return err
		}
		if name != schemaName || !claimed.CompareAndSwap(false, true) {
			return nil
		}
		a, err := c.newAttachment(args)
		replies <- attachReply{attachment: a, err: err}
		return err
	})
	defer unsubscribeResponse()

	unsubscribeError := c.router.Subscribe(c.addrs.Global(smosc.ChannelAttachError), func(args osc.Arguments) error {
		if !claimed.CompareAndSwap(false, true) {
			return nil
		}
		msg, _ := stringArg(args, 0)
		replies <- attachReply{err: errors.Wrap(ErrAttach, msg)}
		return nil
	})
	defer unsubscribeError()

	if err := c.send(c.addrs.Global(smosc.ChannelAttachRequest), osc.String(schemaName)); err != nil {
		return nil, err
	}
	select {
	case r := <-replies:
		return r.attachment, r.err
	case <-ctx.Done():
		if !claimed.CompareAndSwap(false, true) {
			// a handler claimed the reply and is delivering it
			if r := <-replies; r.attachment != nil {
				r.attachment.finish()
			}
		}
		return nil, errors.Wrapf(ctx.Err(), "waiting for attach response of %q", schemaName)
	}
}

// newAttachment builds an attachment from the arguments of an attach response
// and subscribes to its notifications.
func (c *Client) newAttachment(args osc.Arguments) (*Attachment, error) {
	if len(args) < 5 {
		return nil, errors.Errorf("expected 5 arguments in attach response, got %d", len(args))
	}
	id, err := args[0].ReadInt32()
	if err != nil {
		return nil, errors.Wrap(err, "reading state id")
	}
	remoteID, err := args[1].ReadInt32()
	if err != nil {
		return nil, errors.Wrap(err, "reading remote id")
	}
	name, _ := stringArg(args, 2)
	schemaJSON, err := stringArg(args, 3)
	if err != nil {
		return nil, err
	}
	valuesJSON, err := stringArg(args, 4)
	if err != nil {
		return nil, err
	}
	a := &Attachment{
		client:     c,
		id:         int(id),
		remoteID:   int(remoteID),
		schemaName: name,
		updates:    make(chan map[string]any, updateBuffer),
		detached:   make(chan struct{}),
	}
	if err := json.Unmarshal([]byte(schemaJSON), &a.schema); err != nil {
		return nil, errors.Wrap(err, "decoding schema")
	}
	if err := json.Unmarshal([]byte(valuesJSON), &a.initial); err != nil {
		return nil, errors.Wrap(err, "decoding values")
	}
	a.subscribe()
	return a, nil
}

func (c *Client) send(address string, args ...osc.Argument) error {
	if err := c.conn.SendTo(c.remote, osc.Message{
		Address:   address,
		Arguments: args,
	}); err != nil {
		return errors.Wrapf(err, "sending %s", address)
	}
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func stringArg(args osc.Arguments, i int) (string, error) {
	if len(args) <= i {
		return "", errors.Errorf("expected at least %d argument(s), got %d", i+1, len(args))
	}
	s, err := args[i].ReadString()
	return s, errors.Wrapf(err, "reading string argument %d", i)
}
