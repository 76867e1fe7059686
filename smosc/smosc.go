// Package smosc defines the addresses used by the state-manager OSC protocol.
//
// Every address is made of a prefix (DefaultPrefix unless configured
// otherwise) followed by a channel name. Channels bound to an attached state
// carry the state id and remote id as two trailing path segments.
package smosc

import (
	"strconv"
	"strings"
)

// DefaultPrefix is the address prefix used by the Max abstractions.
const DefaultPrefix = "/sw/state-manager"

// Channel names.
const (
	ChannelListening           = "/listening"
	ChannelObserveRequest      = "/observe-request"
	ChannelObserveNotification = "/observe-notification"
	ChannelAttachRequest       = "/attach-request"
	ChannelAttachResponse      = "/attach-response"
	ChannelAttachError         = "/attach-error"
	ChannelUpdateRequest       = "/update-request"
	ChannelUpdateNotification  = "/update-notification"
	ChannelGetValuesRequest    = "/get-values-request"
	ChannelGetValuesResponse   = "/get-values-response"
	ChannelDetachRequest       = "/detach-request"
	ChannelDetachNotification  = "/detach-notification"
)

// Addresses builds the addresses of one protocol prefix.
type Addresses struct {
	Prefix string
}

// New returns the addresses for prefix. An empty prefix selects DefaultPrefix.
func New(prefix string) Addresses {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Addresses{Prefix: strings.TrimSuffix(prefix, "/")}
}

// Global returns the address of a channel that is not bound to a state.
func (a Addresses) Global(channel string) string {
	return a.Prefix + channel
}

// State returns the address of a channel bound to an attached state.
func (a Addresses) State(channel string, id, remoteID int) string {
	return a.Prefix + channel + "/" + strconv.Itoa(id) + "/" + strconv.Itoa(remoteID)
}
