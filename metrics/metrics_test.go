package metrics

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewLogReporter(logger, slog.LevelInfo)

	r.ReportCounter("osc.received", nil, 0)
	r.ReportCounter("osc.received", map[string]string{"bridge": "main"}, 3)
	r.ReportGauge("attachments", nil, 2)

	recs := records(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "metric", recs[0]["msg"])
	assert.Equal(t, "counter", recs[0]["kind"])
	assert.Equal(t, "osc.received", recs[0]["name"])
	assert.Equal(t, 3.0, recs[0]["value"])
	assert.Equal(t, map[string]any{"bridge": "main"}, recs[0]["tags"])
	assert.Equal(t, "gauge", recs[1]["kind"])
	assert.Equal(t, 2.0, recs[1]["value"])

	assert.True(t, r.Capabilities().Reporting())
	assert.True(t, r.Capabilities().Tagging())
}

func TestNewScopeDisabled(t *testing.T) {
	scope, closer := NewScope("swosc", 0, nil)
	assert.Equal(t, tally.NoopScope, scope)
	require.NoError(t, closer.Close())
}

func TestNewScopeReportsOnClose(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	scope, closer := NewScope("swosc", time.Hour, logger)
	scope.Counter("detaches").Inc(2)
	require.NoError(t, closer.Close())

	recs := records(t, &buf)
	rec := findRecord(recs, "swosc.detaches")
	require.NotNil(t, rec, "records: %v", recs)
	assert.Equal(t, "counter", rec["kind"])
	assert.Equal(t, 2.0, rec["value"])

	for _, r := range recs {
		assert.NotContains(t, r["name"], "tally.internal")
	}
}

func findRecord(recs []map[string]any, name string) map[string]any {
	for _, rec := range recs {
		if rec["name"] == name {
			return rec
		}
	}
	return nil
}
