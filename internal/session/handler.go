// ABOUTME: Per-connection session loop: authenticate, resolve, stream, summarize
// ABOUTME: Owns the connection lifecycle from accept through disconnect or fatal error

package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/relay"
	"github.com/2389/agency-gateway/internal/store"
	"github.com/2389/agency-gateway/internal/wire"
	"github.com/2389/agency-gateway/internal/ws"
)

// internalErrorMessage is the opaque reply for unanticipated failures.
const internalErrorMessage = "Something went wrong. We're investigating the issue. Please try again later."

// userSender names the human side of transcript entries.
const userSender = "User"

// Resolver maps a session to its live conversation handle.
type Resolver interface {
	Resolve(ctx context.Context, sessionID, userID string) (*store.Session, *agency.Agency, error)
}

// Handler runs the session loop for accepted client connections.
type Handler struct {
	registry *ws.Registry
	verifier auth.TokenVerifier
	resolver Resolver
	store    store.Store
	logger   *slog.Logger
}

// NewHandler creates a session handler.
func NewHandler(registry *ws.Registry, verifier auth.TokenVerifier, resolver Resolver, s store.Store, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		verifier: verifier,
		resolver: resolver,
		store:    s,
		logger:   logger,
	}
}

// HandleConnection owns one client connection from accept to close. It
// registers the connection, processes inbound messages sequentially until
// the peer disconnects or a fatal error occurs, then unregisters it.
// The returned error is for logging only; the client has already received
// an error frame for anything reportable.
func (h *Handler) HandleConnection(ctx context.Context, clientID string, wsConn *websocket.Conn) error {
	conn := ws.NewConnection(ctx, clientID, wsConn, h.logger)
	h.registry.Register(conn)
	defer func() {
		h.registry.Unregister(conn)
		conn.Close()
	}()

	for {
		_, raw, err := wsConn.Read(ctx)
		if err != nil {
			// Peer closed, context canceled, or transport error: Closing
			h.logger.Debug("read ended", "client_id", clientID, "error", err)
			return nil
		}

		cont, err := h.processMessage(ctx, clientID, raw)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// processMessage runs one iteration of the loop body. The bool result
// reports whether the loop should continue; fatal conditions return false
// after the error reply has been sent.
func (h *Handler) processMessage(ctx context.Context, clientID string, raw []byte) (bool, error) {
	msg, err := wire.ParseInbound(raw)
	if err != nil {
		h.sendError(clientID, "Invalid message format")
		return true, nil
	}

	if msg.AccessToken == "" {
		h.sendError(clientID, "Access token not provided")
		return true, nil
	}

	userID, err := h.verifier.Verify(msg.AccessToken)
	if err != nil {
		// One bad credential ends the session
		h.logger.Info("invalid token", "client_id", clientID)
		h.sendError(clientID, "Invalid token")
		return false, nil
	}

	if msg.Type != wire.TypeUserMessage {
		h.sendError(clientID, "Invalid message type")
		return true, nil
	}

	if msg.Data.Content == "" || msg.Data.SessionID == "" {
		h.sendError(clientID, "Message or session ID not provided")
		return true, nil
	}

	return h.processUserMessage(ctx, clientID, userID, msg.Data.SessionID, msg.Data.Content)
}

// processUserMessage resolves the session, runs the completion, and sends
// the transcript summary.
func (h *Handler) processUserMessage(ctx context.Context, clientID, userID, sessionID, content string) (bool, error) {
	call := &auth.CallContext{UserID: userID}
	callCtx := auth.WithCall(ctx, call)

	session, handle, err := h.resolver.Resolve(callCtx, sessionID, userID)
	if err != nil {
		return h.replyResolveError(clientID, err)
	}

	// Best-effort bookkeeping, not part of correctness
	if err := h.store.TouchSession(ctx, sessionID); err != nil {
		h.logger.Warn("touching session failed", "session_id", sessionID, "error", err)
	}

	history, err := h.store.GetSessionMessages(ctx, sessionID)
	if err != nil {
		h.logger.Error("loading history failed", "session_id", sessionID, "error", err)
		h.sendError(clientID, internalErrorMessage)
		return false, err
	}

	if err := h.store.SaveMessage(ctx, &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      store.RoleUser,
		Sender:    userSender,
		Content:   content,
	}); err != nil {
		h.logger.Error("saving user message failed", "session_id", sessionID, "error", err)
		h.sendError(clientID, internalErrorMessage)
		return false, err
	}

	if err := h.runCompletion(ctx, clientID, session, handle, content, history); err != nil {
		if errors.Is(err, agency.ErrUpstreamAuth) {
			h.sendError(clientID, "Invalid upstream credentials")
			return false, nil
		}
		if errors.Is(err, context.Canceled) {
			// Disconnect mid-stream: Closing
			return false, nil
		}
		h.logger.Error("completion failed",
			"client_id", clientID,
			"session_id", sessionID,
			"error", err,
		)
		h.sendError(clientID, internalErrorMessage)
		return false, err
	}

	return true, h.sendSummary(ctx, clientID, sessionID)
}

// replyResolveError maps resolver failures onto replies and loop outcomes.
// Lookup failures are recoverable; configuration failures end the session.
func (h *Handler) replyResolveError(clientID string, err error) (bool, error) {
	var unset *agency.UnsetVariableError
	switch {
	case errors.Is(err, agency.ErrSessionNotFound):
		h.sendError(clientID, "Session not found")
		return true, nil
	case errors.Is(err, agency.ErrAgencyNotFound):
		h.sendError(clientID, "Agency not found")
		return true, nil
	case errors.As(err, &unset):
		h.sendError(clientID, unset.Error())
		return false, nil
	default:
		h.logger.Error("resolving session failed", "client_id", clientID, "error", err)
		h.sendError(clientID, internalErrorMessage)
		return false, err
	}
}

// runCompletion dispatches the blocking completion call to a worker goroutine
// and awaits it. The worker gets a detached context: a client disconnect
// abandons the wait but never cancels the upstream call, whose remaining
// relay posts no-op once the connection is unregistered. The worker also
// persists the completed messages so a disconnect cannot lose them.
func (h *Handler) runCompletion(ctx context.Context, clientID string, session *store.Session, handle *agency.Agency, content string, history []*store.Message) error {
	workerCtx := auth.WithCall(context.Background(), &auth.CallContext{
		UserID:   session.UserID,
		AgencyID: session.AgencyID,
	})
	sink := relay.New(clientID, h.registry, h.logger)

	done := make(chan error, 1)
	go func() {
		messages, err := handle.RunCompletion(workerCtx, content, history, sink)
		if err != nil {
			done <- err
			return
		}
		for _, msg := range messages {
			if saveErr := h.store.SaveMessage(workerCtx, msg); saveErr != nil {
				h.logger.Error("saving agent message failed",
					"session_id", msg.SessionID,
					"error", saveErr,
				)
			}
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return context.Canceled
	case err := <-done:
		return err
	}
}

// sendSummary fetches the full ordered transcript and sends the final
// agent_response frame to this connection only.
func (h *Handler) sendSummary(ctx context.Context, clientID, sessionID string) error {
	messages, err := h.store.GetSessionMessages(ctx, sessionID)
	if err != nil {
		h.logger.Error("loading transcript failed", "session_id", sessionID, "error", err)
		h.sendError(clientID, internalErrorMessage)
		return err
	}

	frame := wire.AgentResponse(clientID, "Message processed successfully", ToTranscript(messages))
	if err := h.registry.SendFinal(clientID, frame); err != nil {
		h.logger.Debug("summary dropped", "client_id", clientID, "error", err)
	}
	return nil
}

// sendError sends the untyped error reply, ignoring delivery failures.
func (h *Handler) sendError(clientID, message string) {
	if err := h.registry.SendFinal(clientID, wire.Error(message)); err != nil {
		h.logger.Debug("error reply dropped", "client_id", clientID, "error", err)
	}
}

// ToTranscript converts stored messages to their wire representation.
func ToTranscript(messages []*store.Message) []wire.TranscriptItem {
	items := make([]wire.TranscriptItem, 0, len(messages))
	for _, msg := range messages {
		items = append(items, wire.TranscriptItem{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Role:      msg.Role,
			Sender:    msg.Sender,
			Recipient: msg.Recipient,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt.Unix(),
		})
	}
	return items
}
