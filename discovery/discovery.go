// Package discovery advertises the bridge on the local network with DNS-SD,
// so that OSC controllers can find its listen port.
package discovery

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

// Service is the DNS-SD service type of OSC over UDP.
const Service = "_osc._udp"

// Domain is the DNS-SD domain services are registered in.
const Domain = "local."

// Advertisement is a registered service.
type Advertisement struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// InstanceName returns the instance name advertised for an application.
func InstanceName(appName string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return appName
	}
	return fmt.Sprintf("%s-%s", appName, host)
}

// TXT returns the TXT records describing the bridge.
func TXT(prefix string, remotePort int) []string {
	return []string{
		"txtvers=1",
		"prefix=" + prefix,
		fmt.Sprintf("replyport=%d", remotePort),
	}
}

// Advertise registers the service instance on port.
func Advertise(instance string, port int, txt []string, logger *slog.Logger) (*Advertisement, error) {
	if logger == nil {
		logger = slog.Default()
	}
	server, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "registering DNS-SD service")
	}
	logger.Info("service advertised", "instance", instance, "service", Service, "port", port)
	return &Advertisement{server: server, logger: logger}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
	a.logger.Info("service withdrawn", "service", Service)
}
