package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/assistant-gateway/internal/assistant"
)

// recordingSleep collects requested delays without actually waiting.
func recordingSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func assistantReply(runID, text string) assistant.Message {
	return assistant.Message{
		Role:  "assistant",
		RunID: runID,
		Content: []assistant.ContentPart{
			{Type: "text", Text: &assistant.TextContent{Value: text}},
		},
	}
}

func TestRun_CompletesAndReturnsResponse(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{{Status: assistant.StatusCompleted}}
	api.ListResult = []assistant.Message{assistantReply("run-1", "here is your answer")}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	text, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "here is your answer", text)
	assert.Equal(t, 1, api.CreateRunCalls)
}

func TestRun_ToolCallInvokedOnceAndPollCounterReset(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{
		{
			Status: assistant.StatusRequiresAction,
			RequiredAction: &assistant.RequiredAction{
				Type: "submit_tool_outputs",
				SubmitToolOutputs: &assistant.SubmitToolOutputsAction{
					ToolCalls: []assistant.ToolCall{
						{
							ID:   "call-1",
							Type: "function",
							Function: assistant.FunctionCall{
								Name:      "search_mentors",
								Arguments: `{"skills":"python","limit":5}`,
							},
						},
					},
				},
			},
		},
		{Status: assistant.StatusInProgress},
		{Status: assistant.StatusCompleted},
	}
	api.ListResult = []assistant.Message{assistantReply("run-1", "found some mentors")}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	handlerCalls := 0
	handlers := ToolHandlers{
		"search_mentors": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			handlerCalls++
			assert.Equal(t, "python", args["skills"])
			assert.Equal(t, float64(5), args["limit"])
			return map[string]string{"result": "ok"}, nil
		},
	}

	text, err := orch.Run(context.Background(), "thread-1", "asst-1", handlers)
	require.NoError(t, err)
	assert.Equal(t, "found some mentors", text)
	assert.Equal(t, 1, handlerCalls)

	require.Len(t, api.Submitted, 1)
	require.Len(t, api.Submitted[0], 1)
	assert.Equal(t, "call-1", api.Submitted[0][0].ToolCallID)
	assert.JSONEq(t, `{"result":"ok"}`, api.Submitted[0][0].Output)

	// The poll counter resets after the tool round-trip: the backoff
	// ramp restarts at 1s instead of continuing 1s, 2s, 4s.
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, delays)
}

func TestRun_ToolHandlerErrorReturnedAsPayload(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{
		{
			Status: assistant.StatusRequiresAction,
			RequiredAction: &assistant.RequiredAction{
				Type: "submit_tool_outputs",
				SubmitToolOutputs: &assistant.SubmitToolOutputsAction{
					ToolCalls: []assistant.ToolCall{
						{ID: "call-1", Type: "function", Function: assistant.FunctionCall{Name: "broken", Arguments: `{}`}},
					},
				},
			},
		},
		{Status: assistant.StatusCompleted},
	}
	api.ListResult = []assistant.Message{assistantReply("run-1", "dealt with it")}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	handlers := ToolHandlers{
		"broken": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("upstream unavailable")
		},
	}

	text, err := orch.Run(context.Background(), "thread-1", "asst-1", handlers)
	require.NoError(t, err)
	assert.Equal(t, "dealt with it", text)

	require.Len(t, api.Submitted, 1)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, api.Submitted[0][0].Output)
}

func TestRun_UnknownToolReturnsErrorPayload(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{
		{
			Status: assistant.StatusRequiresAction,
			RequiredAction: &assistant.RequiredAction{
				Type: "submit_tool_outputs",
				SubmitToolOutputs: &assistant.SubmitToolOutputsAction{
					ToolCalls: []assistant.ToolCall{
						{ID: "call-1", Type: "function", Function: assistant.FunctionCall{Name: "nope"}},
					},
				},
			},
		},
		{Status: assistant.StatusCompleted},
	}
	api.ListResult = []assistant.Message{assistantReply("run-1", "ok")}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	_, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.NoError(t, err)

	require.Len(t, api.Submitted, 1)
	assert.JSONEq(t, `{"error":"unknown tool: nope"}`, api.Submitted[0][0].Output)
}

func TestRun_TimeoutRetriesAllAttempts(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{{Status: assistant.StatusInProgress}}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)), WithLimits(3, 2))

	_, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, 3, api.CreateRunCalls)
}

func TestRun_RetryBackoffDoubles(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{{Status: assistant.StatusFailed}}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)), WithLimits(3, 60))

	_, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed with status failed")

	// Each attempt polls once (1s) before seeing the terminal status;
	// between attempts the backoff doubles: 2^1 then 2^2 seconds.
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 4 * time.Second,
		time.Second,
	}, delays)
}

func TestRun_TerminalStatusInError(t *testing.T) {
	for _, status := range []assistant.RunStatus{
		assistant.StatusFailed, assistant.StatusCancelled, assistant.StatusExpired,
	} {
		api := assistant.NewFake()
		api.Script = []assistant.Run{{Status: status}}

		var delays []time.Duration
		orch := New(api, WithSleep(recordingSleep(&delays)), WithLimits(1, 60))

		_, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), string(status))
	}
}

func TestRun_TransientCreateErrorRetried(t *testing.T) {
	api := assistant.NewFake()
	api.CreateRunErr = errors.New("rate limited")

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	_, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 3, api.CreateRunCalls)
}

func TestCollectResponse_FiltersAndJoins(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{{Status: assistant.StatusCompleted}}
	api.ListResult = []assistant.Message{
		assistantReply("run-1", "part one"),
		{Role: "user", RunID: "run-1", Content: []assistant.ContentPart{
			{Type: "text", Text: &assistant.TextContent{Value: "my question"}},
		}},
		assistantReply("run-other", "different run"),
		assistantReply("run-1", "part two"),
	}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	text, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two", text)
}

func TestCollectResponse_FallbackWhenEmpty(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{{Status: assistant.StatusCompleted}}

	var delays []time.Duration
	orch := New(api, WithSleep(recordingSleep(&delays)))

	text, err := orch.Run(context.Background(), "thread-1", "asst-1", nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackResponse, text)
}

func TestPollDelay_Ramp(t *testing.T) {
	assert.Equal(t, time.Second, pollDelay(0))
	assert.Equal(t, 2*time.Second, pollDelay(1))
	assert.Equal(t, 4*time.Second, pollDelay(2))
	assert.Equal(t, time.Second, pollDelay(3))
	assert.Equal(t, time.Second, pollDelay(59))
}

func TestRun_ContextCancellation(t *testing.T) {
	api := assistant.NewFake()
	api.Script = []assistant.Run{{Status: assistant.StatusInProgress}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(api) // real sleep, but cancelled context returns immediately

	_, err := orch.Run(ctx, "thread-1", "asst-1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
