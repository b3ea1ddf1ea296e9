package threads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/learnhub/assistant-gateway/internal/kvstore"
)

func TestCheckAndRecord_Sequence(t *testing.T) {
	store := kvstore.NewFake()
	tracker := NewVideoTracker(store, 7*24*time.Hour)
	ctx := context.Background()

	// First sighting is not a change.
	assert.False(t, tracker.CheckAndRecord(ctx, "thread-1", "https://videos/a"))
	// Same URL again, still no change.
	assert.False(t, tracker.CheckAndRecord(ctx, "thread-1", "https://videos/a"))
	// Different URL is a change.
	assert.True(t, tracker.CheckAndRecord(ctx, "thread-1", "https://videos/b"))
	// The new URL is now current.
	assert.False(t, tracker.CheckAndRecord(ctx, "thread-1", "https://videos/b"))
}

func TestCheckAndRecord_IndependentThreads(t *testing.T) {
	store := kvstore.NewFake()
	tracker := NewVideoTracker(store, 7*24*time.Hour)
	ctx := context.Background()

	assert.False(t, tracker.CheckAndRecord(ctx, "thread-1", "https://videos/a"))
	assert.False(t, tracker.CheckAndRecord(ctx, "thread-2", "https://videos/b"))
	assert.True(t, tracker.CheckAndRecord(ctx, "thread-1", "https://videos/b"))
}

func TestCheckAndRecord_StoreErrorIsFalse(t *testing.T) {
	store := kvstore.NewFake()
	store.GetErr = errors.New("connection refused")
	tracker := NewVideoTracker(store, 7*24*time.Hour)

	assert.False(t, tracker.CheckAndRecord(context.Background(), "thread-1", "https://videos/a"))
}
