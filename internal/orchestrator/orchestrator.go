package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/learnhub/assistant-gateway/internal/assistant"
	"github.com/learnhub/assistant-gateway/internal/logging"
	"github.com/learnhub/assistant-gateway/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultMaxPolls    = 60

	// fallbackResponse is returned when a completed run produced no
	// assistant message.
	fallbackResponse = "The assistant did not return a response. Please try again."
)

// ErrRunTimeout is returned when a run fails to reach a terminal state
// within the poll budget. The external run is not cancelled; a late
// completion is simply never read.
var ErrRunTimeout = errors.New("run timed out")

// ToolHandler executes one named tool with its parsed arguments. The
// result must be JSON-serializable.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolHandlers maps tool names to handlers.
type ToolHandlers map[string]ToolHandler

// SleepFunc suspends for d or until the context is cancelled. Tests
// inject a fake to keep backoff arithmetic off real timers.
type SleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Orchestrator drives one external assistant run per chat turn to a
// terminal state: submit, poll with backoff, service tool calls, and
// retry the whole run a bounded number of times on failure.
type Orchestrator struct {
	api         assistant.API
	maxAttempts int
	maxPolls    int
	sleep       SleepFunc
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep overrides the sleep function.
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithLimits overrides the attempt and poll budgets.
func WithLimits(maxAttempts, maxPolls int) Option {
	return func(o *Orchestrator) {
		o.maxAttempts = maxAttempts
		o.maxPolls = maxPolls
	}
}

// New creates an orchestrator against the given assistant API.
func New(api assistant.API, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:         api,
		maxAttempts: defaultMaxAttempts,
		maxPolls:    defaultMaxPolls,
		sleep:       realSleep,
		logger:      logging.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pollDelay returns the wait before poll n. The ramp front-loads extra
// patience for genuinely fast runs, then converges to a tight cadence.
func pollDelay(n int) time.Duration {
	switch n {
	case 0:
		return 1 * time.Second
	case 1:
		return 2 * time.Second
	case 2:
		return 4 * time.Second
	default:
		return 1 * time.Second
	}
}

// Run drives a run against threadID to completion and returns the
// assistant's response text. On any attempt failure (transient API
// error, non-completed terminal status, or poll-budget timeout) a
// fresh run is started, up to the attempt budget; the previous run is
// abandoned, not resumed.
func (o *Orchestrator) Run(ctx context.Context, threadID, assistantID string, handlers ToolHandlers) (string, error) {
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()
	start := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		text, err := o.runAttempt(ctx, threadID, assistantID, handlers)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if attempt == o.maxAttempts {
			break
		}
		metrics.RunRetries.Inc()
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		o.logger.Warn("run attempt failed, retrying",
			"thread", threadID, "attempt", attempt, "backoff", backoff, "error", err)
		if err := o.sleep(ctx, backoff); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("run failed after %d attempts: %w", o.maxAttempts, lastErr)
}

// attemptState is the explicit per-attempt state machine: one run, a
// poll counter against the budget, and the last observed status.
type attemptState struct {
	run       *assistant.Run
	pollCount int
	status    assistant.RunStatus
}

// runAttempt executes one submit-and-poll sequence.
func (o *Orchestrator) runAttempt(ctx context.Context, threadID, assistantID string, handlers ToolHandlers) (string, error) {
	run, err := o.api.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	st := &attemptState{run: run, status: run.Status}
	for !st.status.Terminal() {
		if err := o.step(ctx, threadID, st, handlers); err != nil {
			return "", err
		}
	}
	metrics.RunPolls.Observe(float64(st.pollCount))

	if st.status != assistant.StatusCompleted {
		return "", fmt.Errorf("run %s failed with status %s", st.run.ID, st.status)
	}

	return o.collectResponse(ctx, threadID, st.run.ID)
}

// step advances the state machine by one transition: service a pending
// tool-call action, or wait and poll once. Servicing tool calls resets
// the poll counter so a tool round-trip does not count against the
// budget already spent waiting.
func (o *Orchestrator) step(ctx context.Context, threadID string, st *attemptState, handlers ToolHandlers) error {
	if st.status == assistant.StatusRequiresAction && requiresToolOutputs(st.run) {
		if err := o.serviceToolCalls(ctx, threadID, st.run, handlers); err != nil {
			return err
		}
		st.pollCount = 0
	}

	if st.pollCount >= o.maxPolls {
		return fmt.Errorf("%w: no terminal state after %d polls", ErrRunTimeout, st.pollCount)
	}

	if err := o.sleep(ctx, pollDelay(st.pollCount)); err != nil {
		return err
	}
	st.pollCount++

	run, err := o.api.RetrieveRun(ctx, threadID, st.run.ID)
	if err != nil {
		return fmt.Errorf("retrieve run: %w", err)
	}
	st.run = run
	st.status = run.Status
	return nil
}

func requiresToolOutputs(run *assistant.Run) bool {
	return run.RequiredAction != nil &&
		run.RequiredAction.Type == "submit_tool_outputs" &&
		run.RequiredAction.SubmitToolOutputs != nil
}

// serviceToolCalls invokes the matching handler for every requested
// tool call and submits all outputs back in one batch. Handler errors
// are returned to the assistant as structured payloads, not raised;
// the assistant decides how to react.
func (o *Orchestrator) serviceToolCalls(ctx context.Context, threadID string, run *assistant.Run, handlers ToolHandlers) error {
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]assistant.ToolOutput, 0, len(calls))

	for _, call := range calls {
		outputs = append(outputs, assistant.ToolOutput{
			ToolCallID: call.ID,
			Output:     o.executeTool(ctx, call, handlers),
		})
	}

	if err := o.api.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
		return fmt.Errorf("submit tool outputs: %w", err)
	}
	return nil
}

// executeTool runs one tool call and serializes its result, or its
// failure as {"error": message}.
func (o *Orchestrator) executeTool(ctx context.Context, call assistant.ToolCall, handlers ToolHandlers) string {
	name := call.Function.Name

	handler, ok := handlers[name]
	if !ok {
		metrics.ToolCalls.WithLabelValues(name, "unknown").Inc()
		return errorPayload(fmt.Sprintf("unknown tool: %s", name))
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			metrics.ToolCalls.WithLabelValues(name, "error").Inc()
			return errorPayload(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	result, err := handler(ctx, args)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return errorPayload(err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return errorPayload(fmt.Sprintf("unserializable result: %v", err))
	}
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return string(data)
}

func errorPayload(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// collectResponse gathers the assistant messages belonging to runID
// and joins their text parts with newlines.
func (o *Orchestrator) collectResponse(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := o.api.ListMessages(ctx, threadID, 20)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	var parts []string
	for _, msg := range msgs {
		if msg.Role != "assistant" || msg.RunID != runID {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text != nil {
				parts = append(parts, part.Text.Value)
			}
		}
	}

	if len(parts) == 0 {
		return fallbackResponse, nil
	}
	return strings.Join(parts, "\n"), nil
}
