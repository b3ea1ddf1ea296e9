package assistant

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory API for tests. RetrieveRun replays Script in
// order, repeating the final entry once exhausted, so tests can walk a
// run through an arbitrary status sequence.
type Fake struct {
	mu sync.Mutex

	nextThread int
	Messages   map[string][]Message

	Script    []Run
	scriptIdx int

	Submitted  [][]ToolOutput
	ListResult []Message

	CreateThreadErr  error
	CreateMessageErr error
	CreateRunErr     error
	RetrieveErr      error
	SubmitErr        error
	ListErr          error

	CreateThreadCalls  int
	CreateMessageCalls int
	CreateRunCalls     int
	RetrieveCalls      int
}

// NewFake creates an empty fake API.
func NewFake() *Fake {
	return &Fake{
		Messages: make(map[string][]Message),
	}
}

func (f *Fake) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateThreadCalls++
	if f.CreateThreadErr != nil {
		return "", f.CreateThreadErr
	}
	f.nextThread++
	return fmt.Sprintf("thread-%d", f.nextThread), nil
}

func (f *Fake) CreateMessage(ctx context.Context, threadID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateMessageCalls++
	if f.CreateMessageErr != nil {
		return f.CreateMessageErr
	}
	f.Messages[threadID] = append(f.Messages[threadID], Message{
		Role:    role,
		Content: []ContentPart{{Type: "text", Text: &TextContent{Value: content}}},
	})
	return nil
}

func (f *Fake) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateRunCalls++
	if f.CreateRunErr != nil {
		return nil, f.CreateRunErr
	}
	return &Run{
		ID:       fmt.Sprintf("run-%d", f.CreateRunCalls),
		ThreadID: threadID,
		Status:   StatusQueued,
	}, nil
}

func (f *Fake) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RetrieveCalls++
	if f.RetrieveErr != nil {
		return nil, f.RetrieveErr
	}
	if len(f.Script) == 0 {
		return &Run{ID: runID, ThreadID: threadID, Status: StatusCompleted}, nil
	}
	idx := f.scriptIdx
	if idx >= len(f.Script) {
		idx = len(f.Script) - 1
	} else {
		f.scriptIdx++
	}
	run := f.Script[idx]
	run.ID = runID
	run.ThreadID = threadID
	return &run, nil
}

func (f *Fake) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return f.SubmitErr
	}
	f.Submitted = append(f.Submitted, outputs)
	return nil
}

func (f *Fake) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.ListResult, nil
}

// ResetScript rewinds the status script for a new run sequence.
func (f *Fake) ResetScript() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scriptIdx = 0
}
