package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureListener struct {
	mu      sync.Mutex
	entries []*Entry
	fail    bool
}

func (l *captureListener) Notify(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("listener down")
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *captureListener) seen() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Entry(nil), l.entries...)
}

func appendEntry(t *testing.T, store Store, eventType Type) *Entry {
	t.Helper()
	entry, err := NewEntry("session", "s-1", eventType, map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), entry))
	return entry
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	store := NewInMemoryStore()
	listener := &captureListener{}
	dispatcher := NewDispatcher(store, []Listener{listener},
		WithPollInterval(5*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	first := appendEntry(t, store, TypeSessionCreated)
	second := appendEntry(t, store, TypeSessionActivated)

	dispatcher.Start()
	require.Eventually(t, func() bool {
		count, err := store.CountPending(context.Background())
		return err == nil && count == 0
	}, time.Second, 5*time.Millisecond)
	dispatcher.Stop()

	seen := listener.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, first.ID, seen[0].ID)
	assert.Equal(t, second.ID, seen[1].ID)
}

func TestDispatcherStopDrainsPendingEntries(t *testing.T) {
	store := NewInMemoryStore()
	listener := &captureListener{}
	// Long poll interval: delivery must come from the drain on Stop.
	dispatcher := NewDispatcher(store, []Listener{listener},
		WithPollInterval(time.Hour),
	)
	dispatcher.Start()

	appendEntry(t, store, TypeSessionCreated)
	dispatcher.Stop()

	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, listener.seen(), 1)
}

func TestDispatcherFailedListenerDoesNotBlockDelivery(t *testing.T) {
	store := NewInMemoryStore()
	failing := &captureListener{fail: true}
	healthy := &captureListener{}
	dispatcher := NewDispatcher(store, []Listener{failing, healthy},
		WithPollInterval(time.Hour),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	dispatcher.Start()

	appendEntry(t, store, TypeSessionRevoked)
	dispatcher.Stop()

	// The entry is marked delivered even though one listener failed:
	// notification failure never rolls anything back.
	count, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, healthy.seen(), 1)
}

func TestInMemoryStoreMarkDelivered(t *testing.T) {
	store := NewInMemoryStore()
	entry := appendEntry(t, store, TypeConsentRecorded)

	pending, err := store.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].IsPending())

	require.NoError(t, store.MarkDelivered(context.Background(), entry.ID, time.Now()))

	pending, err = store.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
