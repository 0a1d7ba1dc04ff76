// ABOUTME: Tests for the conversation handle's completion call
// ABOUTME: Verifies event flow, StreamEnd signalling, and message assembly

package agency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-gateway/internal/store"
)

// recordingSink captures sink calls in order.
type recordingSink struct {
	events []string
}

func (r *recordingSink) TextCreated(agent, recipient string) {
	r.events = append(r.events, "created:"+agent+"->"+recipient)
}

func (r *recordingSink) TextDelta(agent, recipient, delta string) {
	r.events = append(r.events, "delta:"+delta)
}

func (r *recordingSink) TextDone(agent, recipient, text string) {
	r.events = append(r.events, "done:"+text)
}

func (r *recordingSink) ToolCallCreated(agent, recipient, toolType string) {
	r.events = append(r.events, "tool:"+toolType)
}

func (r *recordingSink) ToolCallDelta(agent, recipient string, delta ToolCallDelta) {
	r.events = append(r.events, "tooldelta:"+delta.Input)
}

func (r *recordingSink) StreamEnd() {
	r.events = append(r.events, "end")
}

func testHandle(rt Runtime) *Agency {
	return &Agency{
		SessionID: "s1",
		UserID:    "user-1",
		def:       testAgencyDef(),
		threadIDs: map[string]string{
			"User->Lead":    "thread-main",
			"Lead->Analyst": "thread-flow",
		},
		runtime: rt,
		apiKey:  "sk-test",
		model:   "gpt-4o-mini",
	}
}

func TestRunCompletion(t *testing.T) {
	rt := &fakeRuntime{
		text: "Hello there",
		script: func(req TurnRequest, sink EventSink) {
			sink.TextCreated(req.Agent, req.Recipient)
			sink.TextDelta(req.Agent, req.Recipient, "Hello")
			sink.TextDelta(req.Agent, req.Recipient, " there")
			sink.TextDone(req.Agent, req.Recipient, "Hello there")
		},
	}
	handle := testHandle(rt)
	sink := &recordingSink{}

	history := []*store.Message{
		{Role: store.RoleUser, Sender: "User", Content: "earlier"},
	}
	messages, err := handle.RunCompletion(context.Background(), "hi", history, sink)
	require.NoError(t, err)

	// The turn request targets the main agent over the entry thread
	require.Len(t, rt.requests, 1)
	req := rt.requests[0]
	assert.Equal(t, "thread-main", req.ThreadID)
	assert.Equal(t, "User", req.Agent)
	assert.Equal(t, "Lead", req.Recipient)
	assert.Equal(t, "hi", req.Content)
	assert.Equal(t, history, req.History)
	assert.Equal(t, "sk-test", req.APIKey)
	assert.Equal(t, "gpt-4o-mini", req.Model)

	// StreamEnd fires exactly once, after all content events
	assert.Equal(t, []string{
		"created:User->Lead",
		"delta:Hello",
		"delta: there",
		"done:Hello there",
		"end",
	}, sink.events)

	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, store.RoleAssistant, msg.Role)
	assert.Equal(t, "Lead", msg.Sender)
	assert.Equal(t, "User", msg.Recipient)
	assert.Equal(t, "Hello there", msg.Content)
	assert.NotEmpty(t, msg.ID)
}

func TestRunCompletionAgentModelOverride(t *testing.T) {
	rt := &fakeRuntime{text: "ok"}
	handle := testHandle(rt)
	handle.def.Agents[0].Model = "gpt-4o"

	_, err := handle.RunCompletion(context.Background(), "hi", nil, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", rt.requests[0].Model)
}

func TestRunCompletionError(t *testing.T) {
	upstreamErr := errors.New("boom")
	rt := &fakeRuntime{err: upstreamErr}
	handle := testHandle(rt)
	sink := &recordingSink{}

	messages, err := handle.RunCompletion(context.Background(), "hi", nil, sink)
	assert.ErrorIs(t, err, upstreamErr)
	assert.Nil(t, messages)

	// StreamEnd is still signalled on failure
	assert.Equal(t, []string{"end"}, sink.events)
}

func TestRunCompletionMissingMainAgent(t *testing.T) {
	handle := testHandle(&fakeRuntime{})
	handle.def.MainAgent = "Ghost"

	_, err := handle.RunCompletion(context.Background(), "hi", nil, &recordingSink{})
	assert.ErrorIs(t, err, ErrAgencyNotFound)
}
