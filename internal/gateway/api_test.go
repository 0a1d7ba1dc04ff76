// ABOUTME: Tests for the REST API handlers using a directly assembled Gateway
// ABOUTME: Covers sessions, transcripts, agencies, and user variables

package gateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/secrets"
	"github.com/2389/agency-gateway/internal/store"
	"github.com/2389/agency-gateway/internal/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGateway(t *testing.T) *Gateway {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	vault, err := secrets.NewVault(key, s)
	require.NoError(t, err)

	return &Gateway{
		store:    s,
		vault:    vault,
		registry: ws.NewRegistry(testLogger()),
		logger:   testLogger(),
	}
}

// asUser attaches an authenticated identity, as the middleware would.
func asUser(r *http.Request, userID string) *http.Request {
	ctx := auth.WithCall(r.Context(), &auth.CallContext{UserID: userID})
	return r.WithContext(ctx)
}

func seedAgency(t *testing.T, g *Gateway) {
	t.Helper()
	require.NoError(t, g.store.PutAgency(context.Background(), &store.Agency{
		ID:        "research",
		Name:      "Research Crew",
		MainAgent: "Lead",
		Agents: []store.AgentDef{
			{Name: "Lead", Instructions: "Coordinate."},
			{Name: "Analyst", Instructions: "Analyze."},
		},
		RequiredVariables: []string{"OPENAI_API_KEY"},
	}))
}

func TestCreateSession(t *testing.T) {
	g := testGateway(t)
	seedAgency(t, g)

	body := bytes.NewBufferString(`{"agency_id":"research"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/sessions", body), "user-1")
	rec := httptest.NewRecorder()
	g.handleSessions(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "research", resp.AgencyID)

	stored, err := g.store.GetSession(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
}

func TestCreateSessionUnknownAgency(t *testing.T) {
	g := testGateway(t)

	body := bytes.NewBufferString(`{"agency_id":"ghost"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/sessions", body), "user-1")
	rec := httptest.NewRecorder()
	g.handleSessions(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionBadBody(t *testing.T) {
	g := testGateway(t)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString("{}")), "user-1")
	rec := httptest.NewRecorder()
	g.handleSessions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessionsScopedToUser(t *testing.T) {
	g := testGateway(t)
	ctx := context.Background()
	require.NoError(t, g.store.CreateSession(ctx, &store.Session{ID: "s1", UserID: "user-1", AgencyID: "a"}))
	require.NoError(t, g.store.CreateSession(ctx, &store.Session{ID: "s2", UserID: "user-2", AgencyID: "a"}))

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/sessions", nil), "user-1")
	rec := httptest.NewRecorder()
	g.handleSessions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "s1", resp[0].ID)
}

func TestSessionsMethodNotAllowed(t *testing.T) {
	g := testGateway(t)

	req := asUser(httptest.NewRequest(http.MethodDelete, "/api/sessions", nil), "user-1")
	rec := httptest.NewRecorder()
	g.handleSessions(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func seedTranscript(t *testing.T, g *Gateway) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, g.store.CreateSession(ctx, &store.Session{ID: "s1", UserID: "user-1", AgencyID: "a"}))
	base := time.Now().UTC()
	require.NoError(t, g.store.SaveMessage(ctx, &store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser, Sender: "User",
		Content: "hello", CreatedAt: base,
	}))
	require.NoError(t, g.store.SaveMessage(ctx, &store.Message{
		ID: "m2", SessionID: "s1", Role: store.RoleAssistant, Sender: "Lead", Recipient: "User",
		Content: "**bold** reply", CreatedAt: base.Add(time.Second),
	}))
}

func TestTranscriptJSON(t *testing.T) {
	g := testGateway(t)
	seedTranscript(t, g)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/sessions/s1/transcript", nil), "user-1")
	rec := httptest.NewRecorder()
	g.handleSessionRoutes(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "hello", items[0]["content"])
	assert.Equal(t, "assistant", items[1]["role"])
}

func TestTranscriptHTML(t *testing.T) {
	g := testGateway(t)
	seedTranscript(t, g)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/sessions/s1/transcript", nil), "user-1")
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	g.handleSessionRoutes(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	// Markdown in message content is rendered
	assert.Contains(t, rec.Body.String(), "<strong>bold</strong>")
	assert.Contains(t, rec.Body.String(), "Lead @ User")
}

func TestTranscriptForeignSessionHidden(t *testing.T) {
	g := testGateway(t)
	seedTranscript(t, g)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/sessions/s1/transcript", nil), "intruder")
	rec := httptest.NewRecorder()
	g.handleSessionRoutes(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAgencies(t *testing.T) {
	g := testGateway(t)
	seedAgency(t, g)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/agencies", nil), "user-1")
	rec := httptest.NewRecorder()
	g.handleListAgencies(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []AgencyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "research", resp[0].ID)
	assert.Equal(t, []string{"Lead", "Analyst"}, resp[0].Agents)
	assert.Equal(t, []string{"OPENAI_API_KEY"}, resp[0].RequiredVariables)
}

func TestVariablesPutAndList(t *testing.T) {
	g := testGateway(t)

	body := bytes.NewBufferString(`{"value":"sk-secret"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/variables/OPENAI_API_KEY", body), "user-1")
	rec := httptest.NewRecorder()
	g.handleVariable(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The stored value round-trips through the vault
	got, err := g.vault.Get(context.Background(), "user-1", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", got)

	req = asUser(httptest.NewRequest(http.MethodGet, "/api/variables", nil), "user-1")
	rec = httptest.NewRecorder()
	g.handleListVariables(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"OPENAI_API_KEY"}, names)
}

func TestVariablePutValidation(t *testing.T) {
	g := testGateway(t)

	// Missing value
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/variables/KEY", bytes.NewBufferString("{}")), "user-1")
	rec := httptest.NewRecorder()
	g.handleVariable(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing name
	req = asUser(httptest.NewRequest(http.MethodPut, "/api/variables/", bytes.NewBufferString(`{"value":"x"}`)), "user-1")
	rec = httptest.NewRecorder()
	g.handleVariable(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVariablesWithoutVault(t *testing.T) {
	g := testGateway(t)
	g.vault = nil

	req := asUser(httptest.NewRequest(http.MethodPut, "/api/variables/KEY", bytes.NewBufferString(`{"value":"x"}`)), "user-1")
	rec := httptest.NewRecorder()
	g.handleVariable(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	g := testGateway(t)

	rec := httptest.NewRecorder()
	g.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	g.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
