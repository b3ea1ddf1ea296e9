package threads

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/learnhub/assistant-gateway/internal/kvstore"
	"github.com/learnhub/assistant-gateway/internal/logging"
)

// VideoTracker remembers the last video URL seen on each thread. It is
// used to decide whether fresh context must be appended to a
// long-lived thread when the user moves to a different video.
type VideoTracker struct {
	store  kvstore.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewVideoTracker creates a tracker sharing the thread TTL class.
func NewVideoTracker(store kvstore.Store, ttl time.Duration) *VideoTracker {
	return &VideoTracker{
		store:  store,
		ttl:    ttl,
		logger: logging.WithComponent("video-tracker"),
	}
}

// CheckAndRecord records videoURL as the thread's current video and
// reports whether it differs from the previous one. First-time access
// is not a change. Tracking is best-effort: any store error is logged
// and reported as "no change" so chat is never blocked.
func (t *VideoTracker) CheckAndRecord(ctx context.Context, threadID, videoURL string) bool {
	key := videoPointerKey(threadID)

	current, err := t.store.Get(ctx, key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		t.logger.Warn("video pointer read failed", "thread", threadID, "error", err)
		return false
	}

	if errors.Is(err, kvstore.ErrNotFound) {
		if err := t.store.Set(ctx, key, videoURL, t.ttl); err != nil {
			t.logger.Warn("video pointer write failed", "thread", threadID, "error", err)
		}
		return false
	}

	if current == videoURL {
		return false
	}

	if err := t.store.Set(ctx, key, videoURL, t.ttl); err != nil {
		t.logger.Warn("video pointer write failed", "thread", threadID, "error", err)
		return false
	}
	return true
}
