// ABOUTME: Live conversation handle bound to one agency configuration and thread set
// ABOUTME: Runs the blocking completion call against the upstream runtime

package agency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agency-gateway/internal/store"
)

// Resolution and completion errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAgencyNotFound  = errors.New("agency not found")
	ErrUpstreamAuth    = errors.New("upstream authentication failed")
)

// UnsetVariableError indicates an agency references a required variable the
// user has not set. Configuration problems are fatal to the session loop,
// unlike lookup failures.
type UnsetVariableError struct {
	Variable string
}

func (e *UnsetVariableError) Error() string {
	return fmt.Sprintf("variable %s is not set", e.Variable)
}

// TurnRequest describes one agent exchange for the upstream runtime.
type TurnRequest struct {
	ThreadID           string
	Agent              string // initiating side, "User" for the entry turn
	Recipient          string // responding agent
	AgentDef           store.AgentDef
	SharedInstructions string
	History            []*store.Message
	Content            string

	// Per-call upstream credentials resolved for the owning user.
	APIKey  string
	BaseURL string
	Model   string
}

// Runtime is the upstream completion service. StreamTurn blocks until the
// stream ends, feeding incremental notifications to the sink, and returns the
// responder's full text.
type Runtime interface {
	StreamTurn(ctx context.Context, req TurnRequest, sink EventSink) (string, error)
}

// userSender names the human side of the entry turn.
const userSender = "User"

// Agency is a live, stateful conversation handle: one agency definition bound
// to a session's thread identifiers and the owning user's upstream
// credentials. It is owned by a single completion call at a time; the session
// loop enforces single-flight by never starting a second call before the
// first returns.
type Agency struct {
	SessionID string
	UserID    string

	def       *store.Agency
	threadIDs map[string]string
	runtime   Runtime

	apiKey  string
	baseURL string
	model   string

	lastUsed time.Time
}

// ThreadIDs returns the thread identifier map bound to this handle.
func (a *Agency) ThreadIDs() map[string]string {
	return a.threadIDs
}

// RunCompletion issues the blocking completion call for one user message.
// It streams incremental notifications to sink and returns the completed
// agent messages in emission order. The caller persists them. StreamEnd is
// signalled exactly once, after the upstream call returns.
func (a *Agency) RunCompletion(ctx context.Context, userText string, history []*store.Message, sink EventSink) ([]*store.Message, error) {
	main := a.def.MainAgent
	agentDef, ok := a.agentDef(main)
	if !ok {
		return nil, fmt.Errorf("%w: main agent %q not defined", ErrAgencyNotFound, main)
	}

	req := TurnRequest{
		ThreadID:           a.threadIDs[threadKey(userSender, main)],
		Agent:              userSender,
		Recipient:          main,
		AgentDef:           agentDef,
		SharedInstructions: a.def.SharedInstructions,
		History:            history,
		Content:            userText,
		APIKey:             a.apiKey,
		BaseURL:            a.baseURL,
		Model:              a.turnModel(agentDef),
	}

	text, err := a.runtime.StreamTurn(ctx, req, sink)
	sink.StreamEnd()
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: a.SessionID,
		Role:      store.RoleAssistant,
		Sender:    main,
		Recipient: userSender,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	return []*store.Message{msg}, nil
}

// agentDef finds the definition for a named agent.
func (a *Agency) agentDef(name string) (store.AgentDef, bool) {
	for _, def := range a.def.Agents {
		if def.Name == name {
			return def, true
		}
	}
	return store.AgentDef{}, false
}

// turnModel picks the agent's model, falling back to the gateway default.
func (a *Agency) turnModel(def store.AgentDef) string {
	if def.Model != "" {
		return def.Model
	}
	return a.model
}

// threadKey builds the thread map key for an agent pair.
func threadKey(agent, recipient string) string {
	return agent + "->" + recipient
}
