// ABOUTME: Store interface and data types for agency-gateway persistence
// ABOUTME: Defines Session, Agency, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Session represents one persisted chat session between a user and an agency.
// ThreadIDs maps an agent pair key ("sender->recipient"; the entry thread is
// keyed "User-><main agent>") to the upstream conversation state handle for
// that pair.
type Session struct {
	ID        string
	UserID    string
	AgencyID  string
	ThreadIDs map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentDef describes one agent participating in an agency.
type AgentDef struct {
	Name         string `toml:"name"`
	Instructions string `toml:"instructions"`
	Model        string `toml:"model"`
}

// Flow describes one directed communication pair between agents.
type Flow struct {
	Sender    string `toml:"sender"`
	Recipient string `toml:"recipient"`
}

// Agency is a configured set of cooperating agents forming one
// conversational unit. MainAgent is the agent the user talks to.
type Agency struct {
	ID                 string     `toml:"id"`
	Name               string     `toml:"name"`
	MainAgent          string     `toml:"main_agent"`
	SharedInstructions string     `toml:"shared_instructions"`
	Agents             []AgentDef `toml:"agents"`
	Flows              []Flow     `toml:"flows"`
	RequiredVariables  []string   `toml:"required_variables"`
	CreatedAt          time.Time  `toml:"-"`
	UpdatedAt          time.Time  `toml:"-"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single transcript entry within a session.
type Message struct {
	ID        string
	SessionID string
	Role      string // "user" or "assistant"
	Sender    string
	Recipient string
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for session, agency, and transcript persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error)
	UpdateSessionThreads(ctx context.Context, id string, threadIDs map[string]string) error
	TouchSession(ctx context.Context, id string) error

	// Agencies
	PutAgency(ctx context.Context, agency *Agency) error
	GetAgency(ctx context.Context, id string) (*Agency, error)
	ListAgencies(ctx context.Context) ([]*Agency, error)

	// Messages (session transcripts)
	SaveMessage(ctx context.Context, msg *Message) error
	GetSessionMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// User variables (values are encrypted by the caller)
	SetUserVariable(ctx context.Context, userID, name string, ciphertext []byte) error
	GetUserVariable(ctx context.Context, userID, name string) ([]byte, error)
	ListUserVariableNames(ctx context.Context, userID string) ([]string, error)

	Close() error
}
