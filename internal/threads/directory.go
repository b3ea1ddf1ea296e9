package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/learnhub/assistant-gateway/internal/assistant"
	"github.com/learnhub/assistant-gateway/internal/kvstore"
	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/metrics"
)

// ErrThreadCreation is returned when a new thread could not be
// established, whatever the underlying cause (store or assistant API).
var ErrThreadCreation = errors.New("thread creation failed")

// Meta is the bookkeeping record stored next to each thread mapping.
// Missing fields unmarshal to zero values and are treated as unset.
type Meta struct {
	SubjectID    string    `json:"subjectId"`
	CourseID     string    `json:"courseId,omitempty"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// Info describes one live thread mapping for administrative listing.
type Info struct {
	Key       string `json:"key"`
	ThreadID  string `json:"thread_id"`
	SubjectID string `json:"subject_id"`
	Scope     string `json:"scope"`
}

// Stats counts live keys per namespace. Counts are advisory; they are
// taken by prefix scan and are not consistent with concurrent writers.
type Stats struct {
	CourseThreads int `json:"course_threads"`
	MentorThreads int `json:"mentor_threads"`
	MetaRecords   int `json:"meta_records"`
	VideoPointers int `json:"video_pointers"`
}

// Directory maps a conversation identity (subject+course, or
// subject+mentor) to an external assistant thread id.
type Directory struct {
	store  kvstore.Store
	api    assistant.API
	ttl    time.Duration
	logger *slog.Logger
}

// NewDirectory creates a thread directory with the given mapping TTL.
func NewDirectory(store kvstore.Store, api assistant.API, ttl time.Duration) *Directory {
	return &Directory{
		store:  store,
		api:    api,
		ttl:    ttl,
		logger: logging.WithComponent("threads"),
	}
}

// GetOrCreateCourse returns the thread id for a subject within a
// course, creating a new thread on first access. If seedContext is
// non-empty after trimming it is sent as the new thread's first
// message.
//
// Two concurrent first-requests for the same pair can both miss and
// both create a thread; the store's last write wins and the losing
// thread's conversation is orphaned on the assistant side. This race
// is accepted: the user-visible effect is limited to losing the seed
// message of the discarded thread.
func (d *Directory) GetOrCreateCourse(ctx context.Context, subjectID, courseID, seedContext string) (string, error) {
	return d.getOrCreate(ctx, courseThreadKey(subjectID, courseID), subjectID, courseID, "course", seedContext)
}

// GetOrCreateMentor returns the thread id for a subject's mentor
// conversation. An empty mentorID selects the general mentor scope.
func (d *Directory) GetOrCreateMentor(ctx context.Context, subjectID, mentorID, seedContext string) (string, error) {
	scope := mentorID
	if scope == "" {
		scope = generalScope
	}
	return d.getOrCreate(ctx, mentorThreadKey(subjectID, mentorID), subjectID, scope, "mentor", seedContext)
}

func (d *Directory) getOrCreate(ctx context.Context, key, subjectID, scope, scopeType, seedContext string) (string, error) {
	threadID, err := d.store.Get(ctx, key)
	if err == nil {
		d.touch(ctx, threadID, key)
		return threadID, nil
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrThreadCreation, err)
	}

	threadID, err = d.api.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrThreadCreation, err)
	}

	if err := d.store.Set(ctx, key, threadID, d.ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrThreadCreation, err)
	}

	now := time.Now().UTC()
	meta := Meta{
		SubjectID:    subjectID,
		CourseID:     scope,
		Created:      now,
		LastAccessed: now,
	}
	d.writeMeta(ctx, threadID, meta)

	if seed := strings.TrimSpace(seedContext); seed != "" {
		if err := d.api.CreateMessage(ctx, threadID, "user", seed); err != nil {
			return "", fmt.Errorf("%w: %v", ErrThreadCreation, err)
		}
	}

	metrics.ThreadsCreated.WithLabelValues(scopeType).Inc()
	d.logger.Info("created thread", "subject", subjectID, "scope", scope, "thread", threadID)
	return threadID, nil
}

// touch refreshes the mapping TTL and the lastAccessed timestamp.
// Both are best-effort: failures are logged and never surfaced.
func (d *Directory) touch(ctx context.Context, threadID, key string) {
	if err := d.store.Expire(ctx, key, d.ttl); err != nil {
		d.logger.Warn("thread TTL refresh failed", "key", key, "error", err)
	}

	meta, err := d.readMeta(ctx, threadID)
	if err != nil {
		d.logger.Warn("thread meta read failed", "thread", threadID, "error", err)
		return
	}
	meta.LastAccessed = time.Now().UTC()
	d.writeMeta(ctx, threadID, meta)
}

func (d *Directory) readMeta(ctx context.Context, threadID string) (Meta, error) {
	raw, err := d.store.Get(ctx, metaKey(threadID))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// writeMeta stores the metadata record. Metadata is secondary
// bookkeeping; write failures are logged and swallowed.
func (d *Directory) writeMeta(ctx context.Context, threadID string, meta Meta) {
	data, err := json.Marshal(meta)
	if err != nil {
		d.logger.Warn("thread meta marshal failed", "thread", threadID, "error", err)
		return
	}
	if err := d.store.Set(ctx, metaKey(threadID), string(data), d.ttl); err != nil {
		d.logger.Warn("thread meta write failed", "thread", threadID, "error", err)
	}
}

// Meta returns the metadata record for a thread.
func (d *Directory) Meta(ctx context.Context, threadID string) (Meta, error) {
	return d.readMeta(ctx, threadID)
}

// ClearCourse deletes the thread mapping and its metadata for a
// subject+course pair. It is a no-op if no mapping exists.
func (d *Directory) ClearCourse(ctx context.Context, subjectID, courseID string) error {
	return d.clear(ctx, courseThreadKey(subjectID, courseID))
}

// ClearMentor deletes the mentor thread mapping and its metadata.
func (d *Directory) ClearMentor(ctx context.Context, subjectID, mentorID string) error {
	return d.clear(ctx, mentorThreadKey(subjectID, mentorID))
}

func (d *Directory) clear(ctx context.Context, key string) error {
	threadID, err := d.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}
	if err := d.store.Del(ctx, key, metaKey(threadID), videoPointerKey(threadID)); err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}
	return nil
}

// ListForSubject returns all thread mappings for a subject across both
// scope namespaces. Not a hot-path operation.
func (d *Directory) ListForSubject(ctx context.Context, subjectID string) ([]Info, error) {
	var out []Info
	for _, prefix := range []string{courseThreadPrefix, mentorThreadPrefix} {
		keys, err := d.store.Keys(ctx, prefix+subjectID+":")
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		for _, key := range keys {
			threadID, err := d.store.Get(ctx, key)
			if err != nil {
				continue // expired between scan and read
			}
			out = append(out, Info{
				Key:       key,
				ThreadID:  threadID,
				SubjectID: subjectID,
				Scope:     strings.TrimPrefix(key, prefix+subjectID+":"),
			})
		}
	}
	return out, nil
}

// Stats counts live keys by namespace.
func (d *Directory) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	counts := []struct {
		prefix string
		dst    *int
	}{
		{courseThreadPrefix, &stats.CourseThreads},
		{mentorThreadPrefix, &stats.MentorThreads},
		{metaPrefix, &stats.MetaRecords},
		{videoPointerPrefix, &stats.VideoPointers},
	}
	for _, c := range counts {
		keys, err := d.store.Keys(ctx, c.prefix)
		if err != nil {
			return Stats{}, fmt.Errorf("thread stats: %w", err)
		}
		*c.dst = len(keys)
	}
	return stats, nil
}
