// ABOUTME: Tests for the HTTP bearer token middleware
// ABOUTME: Verifies identity is attached to the request context on success

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAuthMiddleware(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	token, err := v.Generate("user-42", time.Hour)
	require.NoError(t, err)

	var gotUserID string
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := CallFromContext(r.Context())
		require.NotNil(t, call)
		gotUserID = call.UserID
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "valid token", authHeader: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "missing header", authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", authHeader: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "empty token", authHeader: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "bad token", authHeader: "Bearer garbage", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUserID = ""
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "user-42", gotUserID)
			}
		})
	}
}
