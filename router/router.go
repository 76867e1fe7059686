// Package router dispatches OSC messages to the handlers registered for
// their exact address.
package router

import (
	"log/slog"
	"sync"

	"github.com/scgolang/osc"
)

// Handler handles the arguments of a message sent to a registered address.
type Handler func(args osc.Arguments) error

type entry struct {
	key     uint64
	handler Handler
}

// Router maps addresses to handlers. Several handlers may share an address;
// they run in registration order. Router implements osc.Dispatcher and is
// safe for concurrent use: handlers may subscribe and unsubscribe while a
// message is being dispatched.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	next     uint64
	handlers map[string][]entry
}

// New creates an empty router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: map[string][]entry{},
	}
}

// Subscribe registers h for address. The returned function unregisters it;
// calling it more than once is harmless.
func (r *Router) Subscribe(address string, h Handler) (unsubscribe func()) {
	r.mu.Lock()
	r.next++
	key := r.next
	r.handlers[address] = append(r.handlers[address], entry{key: key, handler: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		entries := r.handlers[address]
		for i, e := range entries {
			if e.key != key {
				continue
			}
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
		if len(entries) == 0 {
			delete(r.handlers, address)
			return
		}
		r.handlers[address] = entries
	}
}

// Has reports whether any handler is registered for address.
func (r *Router) Has(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[address]) > 0
}

// Len returns the number of addresses with at least one handler.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Emit runs the handlers of address with args. Handler errors are logged
// and do not stop the remaining handlers. It reports whether any handler
// was registered.
func (r *Router) Emit(address string, args osc.Arguments) bool {
	r.mu.RLock()
	entries := r.handlers[address]
	r.mu.RUnlock()

	if len(entries) == 0 {
		r.logger.Debug("no handler for address", "address", address)
		return false
	}
	for _, e := range entries {
		if err := e.handler(args); err != nil {
			r.logger.Warn("handler failed", "address", address, "error", err)
		}
	}
	return true
}

// Invoke dispatches a single message. Matching is always exact.
func (r *Router) Invoke(msg osc.Message, exactMatch bool) error {
	r.Emit(msg.Address, msg.Arguments)
	return nil
}

// Dispatch dispatches the messages of a bundle, in order.
// Nested bundles are ignored.
func (r *Router) Dispatch(bundle osc.Bundle, exactMatch bool) error {
	for _, p := range bundle.Packets {
		if msg, ok := p.(osc.Message); ok {
			r.Emit(msg.Address, msg.Arguments)
		}
	}
	return nil
}
