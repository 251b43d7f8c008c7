package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/services/bidding/helpers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type stubGate map[string]model.Identity

func (g stubGate) Authenticate(_ context.Context, token string) (model.Identity, error) {
	if token == "broken" {
		return model.Identity{}, errors.Join(biddingerrors.ErrInternal, errors.New("redis down"))
	}
	id, ok := g[token]
	if !ok {
		return model.Identity{}, biddingerrors.ErrUnauthenticated
	}
	return id, nil
}

func TestSessionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := stubGate{"good": {UserID: 4, Email: "d@example.com"}}

	echo := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": helpers.IdentityFrom(c).UserID})
	}
	router := gin.New()
	router.GET("/required", SessionMiddleware(gate, "session", true), echo)
	router.GET("/optional", SessionMiddleware(gate, "session", false), echo)

	tests := []struct {
		name       string
		path       string
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{name: "required_with_session", path: "/required", cookie: "good", wantStatus: http.StatusOK, wantBody: `{"user":4}`},
		{name: "required_without_cookie", path: "/required", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"unauthenticated"}`},
		{name: "required_unknown_token", path: "/required", cookie: "stale", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"unauthenticated"}`},
		{name: "optional_anonymous", path: "/optional", wantStatus: http.StatusOK, wantBody: `{"user":0}`},
		{name: "optional_with_session", path: "/optional", cookie: "good", wantStatus: http.StatusOK, wantBody: `{"user":4}`},
		{name: "store_failure", path: "/optional", cookie: "broken", wantStatus: http.StatusInternalServerError, wantBody: `{"error":"internal"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "session", Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tc.wantStatus, w.Code)
			require.JSONEq(t, tc.wantBody, w.Body.String())
		})
	}
}

func TestWithCORS(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := WithCORS(inner, "http://localhost:5173")

	req := httptest.NewRequest(http.MethodOptions, "/bid", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
