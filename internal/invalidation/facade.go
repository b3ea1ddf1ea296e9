package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/learnhub/assistant-gateway/internal/contextcache"
	"github.com/learnhub/assistant-gateway/internal/kvstore"
	"github.com/learnhub/assistant-gateway/internal/logging"
)

// derivedPrefixes are the namespaces of artifacts derived from a
// video's transcription, all keyed {prefix}{courseId}:{urlencode(videoUrl)}.
// "transcription:" is owned by the adjacent ingestion subsystem; we
// only ever delete it, never write it.
var derivedPrefixes = []string{
	"context:",
	"transcription:",
	"summary:",
	"outline:",
}

// Facade maps domain events to the set of cache keys that must be
// cleared so stale derived artifacts are rebuilt on next access.
type Facade struct {
	store    kvstore.Store
	contexts *contextcache.Cache
	logger   *slog.Logger
}

// New creates an invalidation facade.
func New(store kvstore.Store, contexts *contextcache.Cache) *Facade {
	return &Facade{
		store:    store,
		contexts: contexts,
		logger:   logging.WithComponent("invalidation"),
	}
}

// TranscriptionUpdated clears every derived artifact for one video
// after its transcription changed.
func (f *Facade) TranscriptionUpdated(ctx context.Context, courseID, videoURL string) error {
	suffix := fmt.Sprintf("%s:%s", courseID, url.QueryEscape(videoURL))
	keys := make([]string, 0, len(derivedPrefixes))
	for _, prefix := range derivedPrefixes {
		keys = append(keys, prefix+suffix)
	}

	if err := f.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate transcription artifacts: %w", err)
	}
	f.logger.Info("invalidated video artifacts", "course", courseID, "video", videoURL)
	return nil
}

// CourseUpdated clears all cached context for a course. Best-effort;
// limited by the store's prefix scan.
func (f *Facade) CourseUpdated(ctx context.Context, courseID string) error {
	return f.contexts.InvalidateForCourse(ctx, courseID)
}
