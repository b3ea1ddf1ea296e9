package contextcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/learnhub/assistant-gateway/internal/kvstore"
	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/metrics"
)

const (
	keyPrefix = "context:"

	// Fallback blobs returned when durable storage has nothing or
	// cannot be read. The conversation continues degraded rather
	// than fail.
	fallbackNoData = "No course data is available for this video."
	fallbackError  = "Error loading course data."
)

// Materials are the durable-storage inputs for one context blob.
// Empty fields are omitted from the formatted output.
type Materials struct {
	CourseTitle    string
	Transcript     string
	VideoSummary   string
	SectionSummary string
	CourseSummary  string
}

// Source loads course materials from durable storage.
type Source interface {
	Materials(ctx context.Context, courseID, videoURL string) (Materials, error)
}

// Cache is a cache-aside builder for course context blobs. The blob is
// a pure function of durable state at build time; staleness is bounded
// by TTL or explicit invalidation, never by background refresh.
type Cache struct {
	store  kvstore.Store
	source Source
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a context cache with the given TTL.
func New(store kvstore.Store, source Source, ttl time.Duration) *Cache {
	return &Cache{
		store:  store,
		source: source,
		ttl:    ttl,
		logger: logging.WithComponent("context-cache"),
	}
}

func cacheKey(courseID, videoURL string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, courseID, url.QueryEscape(videoURL))
}

// GetOrBuild returns the context blob for a video, building and
// caching it on miss. Store errors on the read path degrade to a
// rebuild; build errors degrade to a fallback blob. This method never
// returns an error because chat must keep working without the cache.
func (c *Cache) GetOrBuild(ctx context.Context, courseID, videoURL string) string {
	key := cacheKey(courseID, videoURL)

	cached, err := c.store.Get(ctx, key)
	if err == nil {
		metrics.CacheHits.WithLabelValues("context").Inc()
		return cached
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		c.logger.Warn("context cache read failed", "key", key, "error", err)
	}
	metrics.CacheMisses.WithLabelValues("context").Inc()

	blob := c.buildFromStore(ctx, courseID, videoURL)

	if err := c.store.Set(ctx, key, blob, c.ttl); err != nil {
		c.logger.Warn("context cache write failed", "key", key, "error", err)
	}
	return blob
}

// buildFromStore assembles the blob from durable storage. It never
// fails outward: lookup errors yield a fixed fallback string.
func (c *Cache) buildFromStore(ctx context.Context, courseID, videoURL string) string {
	mats, err := c.source.Materials(ctx, courseID, videoURL)
	if err != nil {
		c.logger.Error("context build failed", "course", courseID, "video", videoURL, "error", err)
		return fallbackError
	}
	return Format(mats)
}

// Format renders materials into the context blob. Sections appear in
// fixed order; a section whose source field is empty is omitted. The
// output must stay byte-stable for identical inputs.
func Format(mats Materials) string {
	var b strings.Builder

	header := "Course context"
	if mats.CourseTitle != "" {
		header = "Course context: " + mats.CourseTitle
	}
	b.WriteString(header)

	sections := []struct {
		label string
		text  string
	}{
		{"Transcript", mats.Transcript},
		{"Video summary", mats.VideoSummary},
		{"Section summary", mats.SectionSummary},
		{"Course summary", mats.CourseSummary},
	}

	wrote := false
	for _, s := range sections {
		if s.text == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(s.label)
		b.WriteString(":\n")
		b.WriteString(s.text)
		wrote = true
	}

	if !wrote {
		return fallbackNoData
	}
	return b.String()
}

// Invalidate deletes the cached blob for one video.
func (c *Cache) Invalidate(ctx context.Context, courseID, videoURL string) error {
	if err := c.store.Del(ctx, cacheKey(courseID, videoURL)); err != nil {
		return fmt.Errorf("invalidate context: %w", err)
	}
	return nil
}

// InvalidateForCourse deletes every cached blob for a course. The
// store exposes prefix scans, so this is a scan+delete; it remains
// best-effort and can leave keys behind if a scan page fails.
func (c *Cache) InvalidateForCourse(ctx context.Context, courseID string) error {
	prefix := keyPrefix + courseID + ":"
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		c.logger.Warn("course-wide invalidation unavailable", "course", courseID, "error", err)
		return nil
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate course %s: %w", courseID, err)
	}
	c.logger.Info("invalidated course context", "course", courseID, "keys", len(keys))
	return nil
}

// Preload warms the cache for a set of videos. Builds run in parallel
// and individual failures never fail the batch.
func (c *Cache) Preload(ctx context.Context, courseID string, videoURLs []string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, u := range videoURLs {
		u := u
		g.Go(func() error {
			c.GetOrBuild(ctx, courseID, u)
			return nil
		})
	}
	g.Wait()
}
