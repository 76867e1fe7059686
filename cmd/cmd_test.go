package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridge"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/bridgeclient"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/config"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/schema"
	"github.com/etiennedemoulin/soundworks-state-manager-osc/statemanager"
)

func TestParseAssignments(t *testing.T) {
	updates, err := parseAssignments([]string{
		"volume=0.5",
		"mute=true",
		"label=hello",
		`quoted="12"`,
		"payload={\"a\":1}",
		"empty=",
		"nothing=null",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"volume":  0.5,
		"mute":    true,
		"label":   "hello",
		"quoted":  "12",
		"payload": map[string]any{"a": 1.0},
		"empty":   "",
		"nothing": nil,
	}, updates)

	_, err = parseAssignments([]string{"volume"})
	require.Error(t, err)
	_, err = parseAssignments([]string{"=1"})
	require.Error(t, err)
}

func TestClientConfig(t *testing.T) {
	cfg := config.Default().OSC
	assert.Equal(t, bridgeclient.Config{
		LocalAddress:  "127.0.0.1",
		LocalPort:     57122,
		RemoteAddress: "127.0.0.1",
		RemotePort:    57121,
		Prefix:        "/sw/state-manager",
	}, clientConfig(cfg))

	cfg.LocalAddress = "192.168.1.10"
	assert.Equal(t, "192.168.1.10", clientConfig(cfg).RemoteAddress)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(config.Log{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(config.Log{Level: "loud"}, &buf)
	require.Error(t, err)
	_, err = newLogger(config.Log{Level: "info", Format: "xml"}, &buf)
	require.Error(t, err)
}

// lockedBuffer is written by the shell and by the goroutines printing updates.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type script []string

func (s *script) Readline() (string, error) {
	if len(*s) == 0 {
		return "", io.EOF
	}
	line := (*s)[0]
	*s = (*s)[1:]
	return line, nil
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestConsole(t *testing.T) {
	m := statemanager.New(nil)
	require.NoError(t, m.RegisterSchema("globals", schema.Schema{
		"volume": {Type: schema.TypeFloat, Default: 0.5},
	}))
	owner, err := m.Create("globals")
	require.NoError(t, err)

	bridgePort := freeUDPPort(t)
	client, err := bridgeclient.Dial(bridgeclient.Config{
		LocalAddress:  "127.0.0.1",
		RemoteAddress: "127.0.0.1",
		RemotePort:    bridgePort,
	}, nil)
	require.NoError(t, err)
	go func() { _ = client.Serve() }()
	t.Cleanup(func() { _ = client.Close() })

	b := bridge.New(bridge.Config{
		LocalAddress:  "127.0.0.1",
		LocalPort:     bridgePort,
		RemoteAddress: "127.0.0.1",
		RemotePort:    client.LocalAddr().(*net.UDPAddr).Port,
		Grace:         time.Millisecond,
	}, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	select {
	case <-client.Listening():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the bridge to listen")
	}

	var out lockedBuffer
	c := newConsole(client, &out, slog.Default())
	lines := script{
		"observe globals",
		"attach globals",
		"set globals volume=0.25",
		"get globals",
		"list",
		"detach globals",
		"bogus",
		"quit",
		"never reached",
	}
	require.NoError(t, c.run(ctx, &lines))

	assert.Equal(t, script{"never reached"}, lines)
	volume, err := owner.Get("volume")
	require.NoError(t, err)
	assert.Equal(t, 0.25, volume)
	assert.Eventually(t, func() bool { return len(b.Attached()) == 0 }, 2*time.Second, 10*time.Millisecond)

	text := out.String()
	assert.Contains(t, text, "globals exists")
	assert.Contains(t, text, "attached to globals")
	assert.Contains(t, text, `"volume": 0.25`)
	assert.Contains(t, text, `unknown command "bogus"`)
}
