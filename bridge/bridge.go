// Package bridge exposes the shared states of a statemanager.Manager over OSC.
//
// A controller (typically a Max patch) observes schemas, attaches to states,
// reads and updates their values and is notified of every change. The bridge
// keeps at most one attachment per schema name.
package bridge

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"
	"github.com/uber-go/tally/v4"
	"golang.org/x/sync/errgroup"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/router"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/smosc"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

// Default transport settings.
const (
	DefaultLocalAddress  = "0.0.0.0"
	DefaultLocalPort     = 57121
	DefaultRemoteAddress = "127.0.0.1"
	DefaultRemotePort    = 57122
	DefaultGrace         = 100 * time.Millisecond
)

// Config contains the transport configuration of a bridge.
type Config struct {
	LocalAddress  string
	LocalPort     int
	RemoteAddress string
	RemotePort    int
	Prefix        string

	// Grace is how long Stop waits after the last detach notification
	// before closing the socket.
	Grace time.Duration
}

// Sender sends OSC packets to an address.
type Sender interface {
	SendTo(net.Addr, osc.Packet) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger of the bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithScope sets the metrics scope of the bridge.
func WithScope(scope tally.Scope) Option {
	return func(b *Bridge) { b.scope = scope }
}

// Bridge translates between OSC messages and the shared states of a manager.
type Bridge struct {
	Config

	manager *statemanager.Manager
	logger  *slog.Logger
	scope   tally.Scope
	addrs   smosc.Addresses
	router  *router.Router

	conn   *osc.UDPConn
	sender Sender
	remote net.Addr

	// attachMu serializes attach requests and shutdown so that a schema
	// never has two live attachments.
	attachMu sync.Mutex

	mu       sync.Mutex
	attached map[string]*attachment

	observeMu sync.Mutex
	observers map[string]func()

	closing  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New creates a bridge for manager. Zero fields of config take their defaults.
func New(config Config, manager *statemanager.Manager, opts ...Option) *Bridge {
	if config.LocalAddress == "" {
		config.LocalAddress = DefaultLocalAddress
	}
	if config.LocalPort == 0 {
		config.LocalPort = DefaultLocalPort
	}
	if config.RemoteAddress == "" {
		config.RemoteAddress = DefaultRemoteAddress
	}
	if config.RemotePort == 0 {
		config.RemotePort = DefaultRemotePort
	}
	if config.Grace == 0 {
		config.Grace = DefaultGrace
	}
	b := &Bridge{
		Config:    config,
		manager:   manager,
		logger:    slog.Default(),
		scope:     tally.NoopScope,
		addrs:     smosc.New(config.Prefix),
		attached:  map[string]*attachment{},
		observers: map[string]func(){},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.router = router.New(b.logger)
	return b
}

// Listen binds the listen socket, registers the request channels and
// announces the bridge to the controller so it can resend its requests.
func (b *Bridge) Listen() error {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(b.LocalAddress, strconv.Itoa(b.LocalPort)))
	if err != nil {
		return errors.Wrap(err, "resolving listen address")
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(b.RemoteAddress, strconv.Itoa(b.RemotePort)))
	if err != nil {
		return errors.Wrap(err, "resolving remote address")
	}
	conn, err := osc.ListenUDP("udp", laddr)
	if err != nil {
		return errors.Wrap(err, "creating OSC server")
	}
	b.conn = conn
	b.start(conn, raddr)

	b.logger.Info("state-manager bridge ready", "listen", conn.LocalAddr().String(), "remote", raddr.String())
	return nil
}

// start registers the request channels and sends the listening notification.
func (b *Bridge) start(sender Sender, remote net.Addr) {
	b.sender = sender
	b.remote = remote

	b.router.Subscribe(b.addrs.Global(smosc.ChannelObserveRequest), b.handleObserveRequest)
	b.router.Subscribe(b.addrs.Global(smosc.ChannelAttachRequest), b.handleAttachRequest)

	b.send(b.addrs.Global(smosc.ChannelListening))
}

// LocalAddr returns the address the bridge listens on, once Listen succeeded.
func (b *Bridge) LocalAddr() net.Addr {
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr()
}

// Serve dispatches incoming messages until the bridge is stopped.
// Messages are handled one at a time, in arrival order. A packet that
// cannot be parsed is logged and dropped; only a closed socket ends Serve.
func (b *Bridge) Serve() error {
	if b.conn == nil {
		return errors.New("OSC connection has not been initialized")
	}
	for {
		err := b.conn.Serve(1, b)
		if b.closing.Load() {
			return nil
		}
		if err == nil || errors.Is(err, net.ErrClosed) {
			return errors.Wrap(err, "serving OSC")
		}
		b.scope.Counter(metricReceiveErrors).Inc(1)
		b.logger.Warn("dropping malformed packet", "error", err)
	}
}

// Invoke handles one incoming message.
func (b *Bridge) Invoke(msg osc.Message, exactMatch bool) error {
	b.scope.Counter(metricReceived).Inc(1)
	b.logger.Debug("receive", "address", msg.Address, "args", len(msg.Arguments))
	return b.router.Invoke(msg, exactMatch)
}

// Dispatch handles the messages of an incoming bundle.
func (b *Bridge) Dispatch(bundle osc.Bundle, exactMatch bool) error {
	b.scope.Counter(metricReceived).Inc(int64(len(bundle.Packets)))
	return b.router.Dispatch(bundle, exactMatch)
}

// Run listens, serves and stops the bridge when ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Listen(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(b.Serve)
	g.Go(func() error {
		<-gctx.Done()
		return b.Stop()
	})
	return g.Wait()
}

// Stop detaches every attachment, notifying the controller, then closes
// the socket. Cleanup errors are logged and do not stop the remaining
// attachments from being cleaned. Stop is idempotent.
func (b *Bridge) Stop() error {
	b.stopOnce.Do(func() {
		b.closing.Store(true)
		b.logger.Info("cleaning up attachments")

		b.attachMu.Lock()
		for _, a := range b.attachments() {
			if err := a.cleanup(true); err != nil {
				b.logger.Error("cleaning attachment", "schema", a.schemaName, "error", err)
			}
		}
		b.attachMu.Unlock()

		b.observeMu.Lock()
		for name, unobserve := range b.observers {
			unobserve()
			delete(b.observers, name)
		}
		b.observeMu.Unlock()

		if b.conn == nil {
			return
		}
		time.Sleep(b.Grace)
		b.stopErr = errors.Wrap(b.conn.Close(), "closing OSC connection")
	})
	return b.stopErr
}

// Attached returns the sorted names of the schemas with a live attachment.
func (b *Bridge) Attached() []string {
	list := b.attachments()
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.schemaName
	}
	sort.Strings(names)
	return names
}

func (b *Bridge) attachments() []*attachment {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := make([]*attachment, 0, len(b.attached))
	for _, a := range b.attached {
		list = append(list, a)
	}
	return list
}

// send sends a message to the controller. Failures are logged.
func (b *Bridge) send(address string, args ...osc.Argument) {
	if b.sender == nil {
		return
	}
	b.logger.Debug("send", "address", address, "args", len(args))
	if err := b.sender.SendTo(b.remote, osc.Message{
		Address:   address,
		Arguments: args,
	}); err != nil {
		b.scope.Counter(metricSendErrors).Inc(1)
		b.logger.Error("sending OSC message", "address", address, "error", err)
		return
	}
	b.scope.Counter(metricSent).Inc(1)
}
