package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"backend-trailwatch/internal/export"
	"backend-trailwatch/internal/location"

	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (b *recordingBroadcaster) Broadcast(key string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.payloads == nil {
		b.payloads = map[string][][]byte{}
	}
	b.payloads[key] = append(b.payloads[key], payload)
}

func (b *recordingBroadcaster) last(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.payloads[key]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func newTestService(store Store, b Broadcaster) (*Service, *location.Registry) {
	registry := location.NewRegistry()
	providers := func(accountID string) location.Provider { return registry.For(accountID) }
	return NewService(providers, store, testConfig(), b, quietLogger()), registry
}

func TestServiceOneActiveHikePerAccount(t *testing.T) {
	svc, _ := newTestService(newStubStore(), nil)

	snap, err := svc.Start("acct-1", "")
	require.NoError(t, err)
	require.Equal(t, StateTracking, snap.State)

	_, err = svc.Start("acct-1", "")
	require.ErrorIs(t, err, ErrSessionActive)

	_, err = svc.Start("acct-2", "")
	require.NoError(t, err)

	changed, _, err := svc.Stop(context.Background(), "acct-1")
	require.NoError(t, err)
	require.True(t, changed)

	snap, err = svc.Start("acct-1", "")
	require.NoError(t, err)
	require.Equal(t, StateTracking, snap.State)
}

func TestServiceUnknownAccount(t *testing.T) {
	svc, _ := newTestService(newStubStore(), nil)

	_, _, err := svc.Pause("nobody")
	require.ErrorIs(t, err, ErrNoSession)
	require.ErrorIs(t, svc.Checkpoint(context.Background(), "nobody"), ErrNoSession)
	require.Equal(t, StateIdle, svc.Current("nobody").State)
}

func TestServiceRecordsExportAndDelete(t *testing.T) {
	store := newStubStore()
	svc, registry := newTestService(store, nil)
	ctx := context.Background()

	_, err := svc.Start("acct-1", "ridge")
	require.NoError(t, err)
	feed := registry.For("acct-1")
	require.NoError(t, feed.SetAuthorization(location.AuthorizedAlways))

	session, err := svc.session("acct-1")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, feed.Report(pointAt(float64(i)*50, 900, time.Now())))
		session.sampleTick(ctx)
	}
	_, snap, err := svc.Stop(ctx, "acct-1")
	require.NoError(t, err)
	id := snap.Record.ID

	records, err := svc.Records(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, "acct-1", id, export.FormatGPX, &buf))
	require.True(t, strings.Contains(buf.String(), "<trkpt"))
	require.True(t, strings.Contains(buf.String(), "ridge"))

	require.ErrorIs(t, svc.Export(ctx, "acct-2", id, export.FormatGPX, &buf), ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "acct-1", id))
	require.ErrorIs(t, svc.Delete(ctx, "acct-1", id), ErrNotFound)
}

func TestServiceCloseCheckpointsOpenHikes(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store, nil)

	_, err := svc.Start("acct-1", "")
	require.NoError(t, err)
	_, err = svc.Start("acct-2", "")
	require.NoError(t, err)
	_, _, err = svc.Pause("acct-2")
	require.NoError(t, err)

	require.NoError(t, svc.Close(context.Background()))
	require.Len(t, store.saved, 2)
	for _, r := range store.saved {
		require.False(t, r.IsCompleted)
	}
}

func TestServicePublishesSummaries(t *testing.T) {
	b := &recordingBroadcaster{}
	svc, registry := newTestService(newStubStore(), b)

	_, err := svc.Start("acct-1", "")
	require.NoError(t, err)
	feed := registry.For("acct-1")
	require.NoError(t, feed.SetAuthorization(location.AuthorizedAlways))
	require.NoError(t, feed.Report(pointAt(0, 900, time.Now())))

	session, err := svc.session("acct-1")
	require.NoError(t, err)
	session.sampleTick(context.Background())
	session.refreshTick(context.Background())

	payload := b.last(StreamKey("acct-1"))
	require.NotNil(t, payload)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	require.Equal(t, "tracking", msg["state"])
	record, ok := msg["record"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, record["point_count"])
	_, hasPoints := record["points"]
	require.False(t, hasPoints)
}
