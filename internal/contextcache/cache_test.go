package contextcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/assistant-gateway/internal/kvstore"
)

type fakeSource struct {
	mu        sync.Mutex
	materials Materials
	err       error
	calls     int
}

func (f *fakeSource) Materials(ctx context.Context, courseID, videoURL string) (Materials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Materials{}, f.err
	}
	return f.materials, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fullMaterials() Materials {
	return Materials{
		CourseTitle:    "Intro to Go",
		Transcript:     "hello world",
		VideoSummary:   "greeting basics",
		SectionSummary: "section one",
		CourseSummary:  "the whole course",
	}
}

func TestGetOrBuild_HitSkipsSource(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)
	ctx := context.Background()

	first := cache.GetOrBuild(ctx, "c1", "https://videos/a")
	second := cache.GetOrBuild(ctx, "c1", "https://videos/a")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.callCount())
}

func TestGetOrBuild_DistinctVideos(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)
	ctx := context.Background()

	cache.GetOrBuild(ctx, "c1", "https://videos/a")
	cache.GetOrBuild(ctx, "c1", "https://videos/b")

	assert.Equal(t, 2, source.callCount())
}

func TestInvalidate_TriggersRebuild(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)
	ctx := context.Background()

	cache.GetOrBuild(ctx, "c1", "https://videos/a")
	require.NoError(t, cache.Invalidate(ctx, "c1", "https://videos/a"))
	cache.GetOrBuild(ctx, "c1", "https://videos/a")

	assert.Equal(t, 2, source.callCount())
}

func TestInvalidateForCourse(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)
	ctx := context.Background()

	cache.GetOrBuild(ctx, "c1", "https://videos/a")
	cache.GetOrBuild(ctx, "c1", "https://videos/b")
	cache.GetOrBuild(ctx, "c2", "https://videos/a")

	require.NoError(t, cache.InvalidateForCourse(ctx, "c1"))

	cache.GetOrBuild(ctx, "c1", "https://videos/a")
	cache.GetOrBuild(ctx, "c2", "https://videos/a")
	// c1/a rebuilt, c2/a still cached.
	assert.Equal(t, 4, source.callCount())
}

func TestGetOrBuild_TTLExpiry(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)
	ctx := context.Background()

	cache.GetOrBuild(ctx, "c1", "https://videos/a")
	store.Advance(2 * time.Hour)
	cache.GetOrBuild(ctx, "c1", "https://videos/a")

	assert.Equal(t, 2, source.callCount())
}

func TestGetOrBuild_SourceErrorFallback(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{err: errors.New("document store down")}
	cache := New(store, source, time.Hour)

	blob := cache.GetOrBuild(context.Background(), "c1", "https://videos/a")
	assert.Equal(t, fallbackError, blob)
}

func TestGetOrBuild_StoreErrorStillServes(t *testing.T) {
	store := kvstore.NewFake()
	store.GetErr = errors.New("connection refused")
	store.SetErr = errors.New("connection refused")
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)

	blob := cache.GetOrBuild(context.Background(), "c1", "https://videos/a")
	assert.Contains(t, blob, "hello world")
}

func TestFormat_FixedOrder(t *testing.T) {
	blob := Format(fullMaterials())

	assert.Equal(t, "Course context: Intro to Go\n\n"+
		"Transcript:\nhello world\n\n"+
		"Video summary:\ngreeting basics\n\n"+
		"Section summary:\nsection one\n\n"+
		"Course summary:\nthe whole course", blob)
}

func TestFormat_OmitsEmptySections(t *testing.T) {
	blob := Format(Materials{
		Transcript:    "just words",
		CourseSummary: "summary",
	})

	assert.NotContains(t, blob, "Video summary")
	assert.NotContains(t, blob, "Section summary")
	assert.Contains(t, blob, "Transcript:\njust words")
	assert.Contains(t, blob, "Course summary:\nsummary")
}

func TestFormat_NoData(t *testing.T) {
	assert.Equal(t, fallbackNoData, Format(Materials{}))
	assert.Equal(t, fallbackNoData, Format(Materials{CourseTitle: "Intro"}))
}

func TestPreload_WarmsCache(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{materials: fullMaterials()}
	cache := New(store, source, time.Hour)
	ctx := context.Background()

	urls := []string{"https://videos/a", "https://videos/b", "https://videos/c"}
	cache.Preload(ctx, "c1", urls)

	assert.Equal(t, 3, source.callCount())
	for _, u := range urls {
		cache.GetOrBuild(ctx, "c1", u)
	}
	assert.Equal(t, 3, source.callCount())
}

func TestPreload_PartialFailureDoesNotFailBatch(t *testing.T) {
	store := kvstore.NewFake()
	source := &fakeSource{err: errors.New("document store down")}
	cache := New(store, source, time.Hour)

	// Must not panic or hang; fallback blobs get cached.
	cache.Preload(context.Background(), "c1", []string{"https://videos/a", "https://videos/b"})
	assert.Equal(t, 2, source.callCount())
}
