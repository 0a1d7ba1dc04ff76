// ABOUTME: HTTP handlers for the chat WebSocket endpoint and the REST API
// ABOUTME: Covers session CRUD, transcripts, agency listing, and user variables

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/session"
	"github.com/2389/agency-gateway/internal/store"
)

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	AgencyID string `json:"agency_id"`
}

// SessionResponse is the JSON representation of a session.
type SessionResponse struct {
	ID        string `json:"id"`
	AgencyID  string `json:"agency_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AgencyResponse is the JSON representation of an agency definition.
type AgencyResponse struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	MainAgent         string   `json:"main_agent"`
	Agents            []string `json:"agents"`
	RequiredVariables []string `json:"required_variables,omitempty"`
}

// SetVariableRequest is the JSON request body for PUT /api/variables/{name}.
type SetVariableRequest struct {
	Value string `json:"value"`
}

// handleWebSocket upgrades GET /ws/{client_id} and hands the connection to
// the session loop. Authentication happens per message inside the loop, so
// the upgrade itself is unauthenticated.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if clientID == "" || strings.Contains(clientID, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "client_id", clientID, "error", err)
		return
	}

	g.logger.Info("client connected", "client_id", clientID)
	if err := g.handler.HandleConnection(r.Context(), clientID, conn); err != nil {
		g.logger.Warn("session loop ended with error", "client_id", clientID, "error", err)
	}
	g.logger.Info("client disconnected", "client_id", clientID)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// handleSessions handles POST (create) and GET (list) on /api/sessions.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleCreateSession(w, r)
	case http.MethodGet:
		g.handleListSessions(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	call := auth.CallFromContext(r.Context())
	if call == nil {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgencyID == "" {
		writeJSONError(w, http.StatusBadRequest, "agency_id is required")
		return
	}

	if _, err := g.store.GetAgency(r.Context(), req.AgencyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "agency not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess := &store.Session{
		ID:       uuid.New().String(),
		UserID:   call.UserID,
		AgencyID: req.AgencyID,
	}
	if err := g.store.CreateSession(r.Context(), sess); err != nil {
		g.logger.Error("creating session failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := g.store.GetSession(r.Context(), sess.ID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toSessionResponse(created))
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	call := auth.CallFromContext(r.Context())
	if call == nil {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sessions, err := g.store.ListSessionsByUser(r.Context(), call.UserID)
	if err != nil {
		g.logger.Error("listing sessions failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, toSessionResponse(s))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleSessionRoutes dispatches /api/sessions/{id}/transcript.
func (g *Gateway) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "transcript" && r.Method == http.MethodGet {
		g.handleTranscript(w, r, parts[0])
		return
	}
	http.NotFound(w, r)
}

// handleTranscript returns the ordered transcript for a session the caller
// owns, as JSON or as rendered HTML when the client asks for text/html.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request, sessionID string) {
	call := auth.CallFromContext(r.Context())
	if call == nil {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := g.store.GetSession(r.Context(), sessionID)
	if err != nil || sess.UserID != call.UserID {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := g.store.GetSessionMessages(r.Context(), sessionID)
	if err != nil {
		g.logger.Error("loading transcript failed", "session_id", sessionID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		g.writeTranscriptHTML(w, sess, messages)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(session.ToTranscript(messages))
}

// writeTranscriptHTML renders message contents as Markdown and writes an
// HTML page. Agent output is Markdown-formatted by convention.
func (g *Gateway) writeTranscriptHTML(w http.ResponseWriter, sess *store.Session, messages []*store.Message) {
	var md bytes.Buffer
	fmt.Fprintf(&md, "# Session %s\n\n", sess.ID)
	for _, msg := range messages {
		sender := msg.Sender
		if msg.Recipient != "" {
			sender = sender + " @ " + msg.Recipient
		}
		fmt.Fprintf(&md, "## %s\n\n%s\n\n", sender, msg.Content)
	}

	var html bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &html); err != nil {
		g.logger.Error("rendering transcript failed", "session_id", sess.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html.Bytes())
}

// handleListAgencies handles GET /api/agencies.
func (g *Gateway) handleListAgencies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agencies, err := g.store.ListAgencies(r.Context())
	if err != nil {
		g.logger.Error("listing agencies failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]AgencyResponse, 0, len(agencies))
	for _, a := range agencies {
		names := make([]string, 0, len(a.Agents))
		for _, agent := range a.Agents {
			names = append(names, agent.Name)
		}
		response = append(response, AgencyResponse{
			ID:                a.ID,
			Name:              a.Name,
			MainAgent:         a.MainAgent,
			Agents:            names,
			RequiredVariables: a.RequiredVariables,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleListVariables handles GET /api/variables, returning variable names
// only. Values are never readable through the API.
func (g *Gateway) handleListVariables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.vault == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "variable storage not configured")
		return
	}
	call := auth.CallFromContext(r.Context())
	if call == nil {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	names, err := g.vault.Names(r.Context(), call.UserID)
	if err != nil {
		g.logger.Error("listing variables failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(names)
}

// handleVariable handles PUT /api/variables/{name}.
func (g *Gateway) handleVariable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.vault == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "variable storage not configured")
		return
	}
	call := auth.CallFromContext(r.Context())
	if call == nil {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/variables/")
	if name == "" || strings.Contains(name, "/") {
		writeJSONError(w, http.StatusBadRequest, "variable name is required")
		return
	}

	var req SetVariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		writeJSONError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := g.vault.Set(r.Context(), call.UserID, name, req.Value); err != nil {
		g.logger.Error("storing variable failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSessionResponse(s *store.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		AgencyID:  s.AgencyID,
		CreatedAt: s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: s.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// writeJSONError writes a JSON error body with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
