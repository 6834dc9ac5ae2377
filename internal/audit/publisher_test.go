package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "proofshare/pkg/domain"
)

func TestPublisherSyncEmit(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)

	err := publisher.Emit(context.Background(), Event{
		SessionID: id.NewSessionID(),
		SubjectID: "did:persona:alice",
		Action:    ActionSessionActivated,
	})
	require.NoError(t, err)

	events, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionSessionActivated, events[0].Action)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisherAsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store,
		WithAsyncBuffer(16),
		WithPublisherLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	for i := 0; i < 5; i++ {
		err := publisher.Emit(context.Background(), Event{
			SessionID: id.NewSessionID(),
			Action:    ActionConsentRecorded,
			Decision:  DecisionGranted,
		})
		require.NoError(t, err)
	}
	publisher.Close()

	events, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestPublisherPreservesCallerTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)

	stamped := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	err := publisher.Emit(context.Background(), Event{
		Timestamp: stamped,
		Action:    ActionSessionRevoked,
		Reason:    "holder reported phishing",
	})
	require.NoError(t, err)

	events, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stamped, events[0].Timestamp)
}
