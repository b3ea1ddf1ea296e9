package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/learnhub/assistant-gateway/internal/assistant"
	"github.com/learnhub/assistant-gateway/internal/contextcache"
	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/metrics"
	"github.com/learnhub/assistant-gateway/internal/orchestrator"
	"github.com/learnhub/assistant-gateway/internal/searchcache"
	"github.com/learnhub/assistant-gateway/internal/threads"
)

// CoachRequest is one turn against the course-bound trainer coach.
type CoachRequest struct {
	SubjectID string `json:"subject_id"`
	CourseID  string `json:"course_id"`
	VideoURL  string `json:"video_url"`
	Message   string `json:"message"`
}

// MentorRequest is one turn against the platform-wide mentor
// assistant. An empty MentorID selects the general scope.
type MentorRequest struct {
	SubjectID string `json:"subject_id"`
	MentorID  string `json:"mentor_id,omitempty"`
	Message   string `json:"message"`
}

// TurnResult is the user-visible outcome of a chat turn: the response
// text plus the thread id to reuse on the next turn.
type TurnResult struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
}

// Service performs complete chat turns. It owns no state of its own;
// all shared state lives in the key-value store so any server process
// can handle any turn.
type Service struct {
	directory *threads.Directory
	tracker   *threads.VideoTracker
	contexts  *contextcache.Cache
	searches  *searchcache.Cache
	orch      *orchestrator.Orchestrator
	api       assistant.API

	coachAssistantID  string
	mentorAssistantID string

	logger *slog.Logger
}

// New creates the chat service.
func New(
	directory *threads.Directory,
	tracker *threads.VideoTracker,
	contexts *contextcache.Cache,
	searches *searchcache.Cache,
	orch *orchestrator.Orchestrator,
	api assistant.API,
	coachAssistantID, mentorAssistantID string,
) *Service {
	return &Service{
		directory:         directory,
		tracker:           tracker,
		contexts:          contexts,
		searches:          searches,
		orch:              orch,
		api:               api,
		coachAssistantID:  coachAssistantID,
		mentorAssistantID: mentorAssistantID,
		logger:            logging.WithComponent("chat"),
	}
}

// CoachTurn runs one trainer-coach turn: resolve the thread (seeding a
// new one with course context), append fresh context if the user moved
// to a different video, append the user message, and drive the run.
func (s *Service) CoachTurn(ctx context.Context, req CoachRequest) (TurnResult, error) {
	turnID := uuid.NewString()
	log := s.logger.With("turn", turnID, "subject", req.SubjectID, "course", req.CourseID)

	blob := s.contexts.GetOrBuild(ctx, req.CourseID, req.VideoURL)

	threadID, err := s.directory.GetOrCreateCourse(ctx, req.SubjectID, req.CourseID, blob)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("coach", "error").Inc()
		return TurnResult{}, fmt.Errorf("coach turn: %w", err)
	}

	// A long-lived thread was seeded with the context of whatever
	// video the subject watched first. When they move on, append the
	// new video's context so the assistant stays current.
	if s.tracker.CheckAndRecord(ctx, threadID, req.VideoURL) {
		if err := s.api.CreateMessage(ctx, threadID, "user", blob); err != nil {
			metrics.ChatTurns.WithLabelValues("coach", "error").Inc()
			return TurnResult{}, fmt.Errorf("coach turn: append context: %w", err)
		}
		log.Debug("appended fresh video context", "thread", threadID)
	}

	if err := s.api.CreateMessage(ctx, threadID, "user", req.Message); err != nil {
		metrics.ChatTurns.WithLabelValues("coach", "error").Inc()
		return TurnResult{}, fmt.Errorf("coach turn: append message: %w", err)
	}

	response, err := s.orch.Run(ctx, threadID, s.coachAssistantID, nil)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("coach", "error").Inc()
		return TurnResult{}, fmt.Errorf("coach turn: %w", err)
	}

	metrics.ChatTurns.WithLabelValues("coach", "ok").Inc()
	log.Info("coach turn completed", "thread", threadID)
	return TurnResult{Response: response, ThreadID: threadID}, nil
}

// MentorTurn runs one mentor-assistant turn. The mentor run may call
// back into the gateway for mentor search, served through the search
// cache.
func (s *Service) MentorTurn(ctx context.Context, req MentorRequest) (TurnResult, error) {
	turnID := uuid.NewString()
	log := s.logger.With("turn", turnID, "subject", req.SubjectID, "mentor", req.MentorID)

	threadID, err := s.directory.GetOrCreateMentor(ctx, req.SubjectID, req.MentorID, "")
	if err != nil {
		metrics.ChatTurns.WithLabelValues("mentor", "error").Inc()
		return TurnResult{}, fmt.Errorf("mentor turn: %w", err)
	}

	if err := s.api.CreateMessage(ctx, threadID, "user", req.Message); err != nil {
		metrics.ChatTurns.WithLabelValues("mentor", "error").Inc()
		return TurnResult{}, fmt.Errorf("mentor turn: append message: %w", err)
	}

	response, err := s.orch.Run(ctx, threadID, s.mentorAssistantID, s.mentorToolHandlers())
	if err != nil {
		metrics.ChatTurns.WithLabelValues("mentor", "error").Inc()
		return TurnResult{}, fmt.Errorf("mentor turn: %w", err)
	}

	metrics.ChatTurns.WithLabelValues("mentor", "ok").Inc()
	log.Info("mentor turn completed", "thread", threadID)
	return TurnResult{Response: response, ThreadID: threadID}, nil
}

// mentorToolHandlers exposes mentor search to the assistant.
func (s *Service) mentorToolHandlers() orchestrator.ToolHandlers {
	return orchestrator.ToolHandlers{
		"search_mentors": s.handleSearchMentors,
	}
}

func (s *Service) handleSearchMentors(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	params := searchcache.Params{
		Skills:    stringArg(args, "skills"),
		Languages: stringArg(args, "languages"),
		Countries: stringArg(args, "countries"),
		Query:     stringArg(args, "query"),
		Limit:     intArg(args, "limit", 10),
	}

	result, err := s.searches.GetCached(ctx, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(result), nil
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	// JSON numbers arrive as float64.
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}
