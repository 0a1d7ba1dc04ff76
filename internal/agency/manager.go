// ABOUTME: Session resolver that maps session IDs to live conversation handles
// ABOUTME: Mints missing thread identifiers lazily and snapshots a handle per resolve

package agency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/secrets"
	"github.com/2389/agency-gateway/internal/store"
)

// apiKeyVariable is the per-user variable consulted for upstream credentials
// before falling back to the gateway-wide key.
const apiKeyVariable = "OPENAI_API_KEY"

// staleHandleAge is how long an unused conversation handle survives in the
// cache before the cleanup pass drops it.
const staleHandleAge = 30 * time.Minute

// UpstreamCredentials is the gateway-wide fallback for upstream access.
type UpstreamCredentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Manager resolves sessions to live conversation handles. It is the only
// component that reads agency definitions, checks required variables, and
// mints thread identifiers.
type Manager struct {
	store    store.Store
	runtime  Runtime
	vault    *secrets.Vault // nil when no encryption key is configured
	upstream UpstreamCredentials

	mu      sync.Mutex
	handles map[string]*Agency // keyed by session ID

	cancel context.CancelFunc
	logger *slog.Logger
}

// NewManager creates a resolver and starts its stale-handle cleanup loop.
func NewManager(s store.Store, runtime Runtime, vault *secrets.Vault, upstream UpstreamCredentials, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    s,
		runtime:  runtime,
		vault:    vault,
		upstream: upstream,
		handles:  make(map[string]*Agency),
		cancel:   cancel,
		logger:   logger,
	}
	go m.cleanupLoop(ctx)
	return m
}

// Resolve looks up the session, verifies ownership, loads the agency
// definition, checks required variables, and returns the session together
// with a live conversation handle. Resolving the same unchanged session twice
// yields handles referencing the same thread identifiers.
func (m *Manager) Resolve(ctx context.Context, sessionID, userID string) (*store.Session, *Agency, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}
	if session.UserID != userID {
		// Do not reveal foreign sessions
		return nil, nil, ErrSessionNotFound
	}

	def, err := m.store.GetAgency(ctx, session.AgencyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrAgencyNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading agency: %w", err)
	}

	// Record the resolved agency on the call context for downstream consumers
	if call := auth.CallFromContext(ctx); call != nil {
		call.AgencyID = session.AgencyID
	}

	if err := m.checkRequiredVariables(ctx, def, userID); err != nil {
		return nil, nil, err
	}

	if err := m.ensureThreads(ctx, session, def); err != nil {
		return nil, nil, err
	}

	handle, err := m.newHandle(ctx, session, def)
	if err != nil {
		return nil, nil, err
	}
	return session, handle, nil
}

// Close stops the cleanup loop and drops all cached handles.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = make(map[string]*Agency)
}

// checkRequiredVariables fails with UnsetVariableError on the first required
// variable the user has not set.
func (m *Manager) checkRequiredVariables(ctx context.Context, def *store.Agency, userID string) error {
	if len(def.RequiredVariables) == 0 {
		return nil
	}
	if m.vault == nil {
		return &UnsetVariableError{Variable: def.RequiredVariables[0]}
	}

	for _, name := range def.RequiredVariables {
		_, err := m.vault.Get(ctx, userID, name)
		if errors.Is(err, store.ErrNotFound) {
			return &UnsetVariableError{Variable: name}
		}
		if err != nil {
			return fmt.Errorf("reading variable %s: %w", name, err)
		}
	}
	return nil
}

// ensureThreads mints thread identifiers for the entry turn and every
// declared flow that does not have one yet, persisting the updated map.
func (m *Manager) ensureThreads(ctx context.Context, session *store.Session, def *store.Agency) error {
	if session.ThreadIDs == nil {
		session.ThreadIDs = make(map[string]string)
	}

	minted := false
	keys := []string{threadKey(userSender, def.MainAgent)}
	for _, flow := range def.Flows {
		keys = append(keys, threadKey(flow.Sender, flow.Recipient))
	}
	for _, key := range keys {
		if _, ok := session.ThreadIDs[key]; !ok {
			session.ThreadIDs[key] = uuid.New().String()
			minted = true
		}
	}

	if !minted {
		return nil
	}
	if err := m.store.UpdateSessionThreads(ctx, session.ID, session.ThreadIDs); err != nil {
		return fmt.Errorf("persisting thread ids: %w", err)
	}
	m.logger.Debug("minted thread ids",
		"session_id", session.ID,
		"threads", len(session.ThreadIDs),
	)
	return nil
}

// newHandle builds a fresh handle for this resolve and caches it for
// staleness accounting. Handles are never mutated after construction: an
// in-flight completion keeps the snapshot it started with, so a concurrent
// resolve of the same session cannot race with a detached worker.
func (m *Manager) newHandle(ctx context.Context, session *store.Session, def *store.Agency) (*Agency, error) {
	apiKey, err := m.resolveAPIKey(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	handle := &Agency{
		SessionID: session.ID,
		UserID:    session.UserID,
		def:       def,
		threadIDs: session.ThreadIDs,
		runtime:   m.runtime,
		apiKey:    apiKey,
		baseURL:   m.upstream.BaseURL,
		model:     m.upstream.Model,
		lastUsed:  time.Now(),
	}

	m.mu.Lock()
	m.handles[session.ID] = handle
	m.mu.Unlock()
	return handle, nil
}

// resolveAPIKey prefers the user's stored key over the gateway fallback.
func (m *Manager) resolveAPIKey(ctx context.Context, userID string) (string, error) {
	if m.vault != nil {
		key, err := m.vault.Get(ctx, userID, apiKeyVariable)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("reading %s: %w", apiKeyVariable, err)
		}
	}
	if m.upstream.APIKey == "" {
		return "", &UnsetVariableError{Variable: apiKeyVariable}
	}
	return m.upstream.APIKey, nil
}

// cleanupLoop periodically drops handles that have not been used recently.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dropStaleHandles()
		}
	}
}

func (m *Manager) dropStaleHandles() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, handle := range m.handles {
		if now.Sub(handle.lastUsed) > staleHandleAge {
			delete(m.handles, id)
		}
	}
}
