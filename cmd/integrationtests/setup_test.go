package integrationtests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"live-auction/internal/account"
	bidding "live-auction/internal/biddingService"
	"live-auction/internal/hub"
	model "live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/internal/server"
	"live-auction/internal/session"
	"live-auction/internal/stream"
	"live-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const frontendOrigin = "http://localhost:5173"

// TestEnv is a full server over an in-memory repository
type TestEnv struct {
	Server *httptest.Server
	Repo   *repository.MemoryRepo
	Hub    *hub.Hub
	Clock  *clockwork.FakeClock
}

// SetupTestServer starts the application stack and seeds the repo with auctions.
func SetupTestServer(t *testing.T, auctions ...model.Auction) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClockAt(time.Now())
	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}

	h := hub.NewHub()
	sessions := session.NewMemoryStore(time.Hour, clock)
	gate := session.NewGate(sessions)
	svc := bidding.NewBiddingService(repo, registry.New(repo, clock), h, clock, bidding.Options{})
	streamHandler := stream.NewHandler(svc, gate, stream.DefaultConfig())

	router := server.SetupRouter(server.Deps{
		Bidding:  svc,
		Accounts: account.NewService(repo, sessions),
		Gate:     gate,
		Stream:   streamHandler,
		Hub:      h,
		Cookie:   handler.CookieConfig{Name: "session"},
	})

	srv := httptest.NewServer(server.WithCORS(router, frontendOrigin))
	t.Cleanup(func() {
		streamHandler.CloseAll()
		h.Close()
		srv.Close()
	})
	return &TestEnv{Server: srv, Repo: repo, Hub: h, Clock: clock}
}

// NewClient returns an HTTP client that keeps the session cookie
func NewClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

// ExecuteRequestAndParse sends a JSON request and parses the JSON response, if any
func (e *TestEnv) ExecuteRequestAndParse(t *testing.T, client *http.Client, method, path string, body any) (map[string]any, int) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, e.Server.URL+path, bytes.NewReader(reqBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var resp map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &resp), "body: %s", raw)
	}
	return resp, res.StatusCode
}

// Register creates an account and leaves its session cookie in the client
func (e *TestEnv) Register(t *testing.T, email string) *http.Client {
	t.Helper()
	client := NewClient(t)
	_, status := e.ExecuteRequestAndParse(t, client, http.MethodPost, "/register", map[string]any{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, status)
	return client
}

// Bid places a bid through POST /bid
func (e *TestEnv) Bid(t *testing.T, client *http.Client, auctionID int64, price any) (map[string]any, int) {
	t.Helper()
	return e.ExecuteRequestAndParse(t, client, http.MethodPost, "/bid", map[string]any{
		"Auctionid": auctionID,
		"Userid":    -1,
		"Price":     price,
	})
}

// Watch opens a viewer connection on /auction/:id
func (e *TestEnv) Watch(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.Server.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// ReadFrame reads one JSON frame from a viewer connection
func ReadFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}
