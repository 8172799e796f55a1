package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics(3)
	m.RecordSearch("orf", 10*time.Millisecond, 5, nil)
	m.RecordSearch("orf", 30*time.Millisecond, 5, errors.New("boom"))
	m.RecordSearch("crispr", 20*time.Millisecond, 2, nil)
	m.RecordSearch("crispr", 40*time.Millisecond, 2, nil)

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.RequestTotal)
	assert.Equal(t, int64(1), snap.RequestFailed)
	assert.InDelta(t, 75.0, snap.SuccessRate(), 1e-9)
	assert.Equal(t, 3, snap.DurationCount)
	assert.Equal(t, int64(30), snap.P50Ms)

	require.Contains(t, snap.Datasets, "orf")
	orf := snap.Datasets["orf"]
	assert.Equal(t, int64(2), orf.SearchCount)
	assert.Equal(t, int64(1), orf.ErrorCount)
	assert.Equal(t, int64(10), orf.HitCount)
	assert.Equal(t, int64(20), orf.AverageDuration)

	m.Reset()
	snap = m.Snapshot()
	assert.Zero(t, snap.RequestTotal)
	assert.Empty(t, snap.Datasets)
	assert.InDelta(t, 100.0, snap.SuccessRate(), 1e-9)
}

func TestRequestContextLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rc := NewRequestContextWithID(logger, "req-1", "orf", "demo_0")
	rc.Info("search finished", slog.Int(LogFieldHits, 3))
	rc.Error("search failed", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "dataset=orf")
	assert.Contains(t, out, "query_id=demo_0")
	assert.Contains(t, out, "hits=3")
	assert.Contains(t, out, "error=boom")
	assert.Equal(t, 2, strings.Count(out, "request_id="))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	assert.False(t, ok)

	rc := NewRequestContext(nil, "orf", "demo_1")
	got, ok := FromContext(WithRequestContext(ctx, rc))
	require.True(t, ok)
	assert.Same(t, rc, got)
	assert.NotEmpty(t, rc.RequestID)

	assert.Equal(t, "abc", RequestIDFromContext(WithRequestID(ctx, "abc")))
	assert.Len(t, RequestIDFromContext(ctx), 36)
}
