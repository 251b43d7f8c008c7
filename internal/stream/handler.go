package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/hub"
	"live-auction/internal/models"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// watchTimeout bounds the registry load behind a subscription
const watchTimeout = 5 * time.Second

// Watcher subscribes connections to auctions
type Watcher interface {
	Watch(ctx context.Context, auctionID int64, sub hub.Subscriber) (models.Snapshot, error)
	Unwatch(auctionID int64, sub hub.Subscriber)
}

// Authenticator resolves session tokens
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

// Config holds websocket tuning
type Config struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	RequireSession bool
	CookieName     string
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     50 * time.Second,
		MaxMessageSize: 1024,
		CookieName:     "session",
	}
}

// Handler upgrades viewer requests and ties each connection to the hub
type Handler struct {
	watcher  Watcher
	gate     Authenticator
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Connection // key: connection ID
}

// NewHandler creates the websocket handler
func NewHandler(w Watcher, gate Authenticator, cfg Config) *Handler {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		watcher: w,
		gate:    gate,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		conns: make(map[string]*Connection),
	}
}

type errorFrame struct {
	Error string `json:"error"`
}

type subscribeRequest struct {
	AuctionID json.Number `json:"auctionId"`
}

// ServeAuction handles GET /auction/:id; the path names the auction
func (h *Handler) ServeAuction(c *gin.Context) {
	auctionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || auctionID <= 0 {
		utils.JSONError(c, http.StatusBadRequest, "validation_error")
		return
	}
	h.serve(c, auctionID)
}

// ServeWS handles GET /ws; the first text frame names the auction
func (h *Handler) ServeWS(c *gin.Context) {
	h.serve(c, 0)
}

func (h *Handler) serve(c *gin.Context, auctionID int64) {
	var identity models.Identity
	if h.cfg.RequireSession {
		token, _ := c.Cookie(h.cfg.CookieName)
		id, err := h.gate.Authenticate(c.Request.Context(), token)
		if err != nil {
			status, reason := http.StatusUnauthorized, "unauthenticated"
			if !errors.Is(err, biddingerrors.ErrUnauthenticated) {
				status, reason = http.StatusInternalServerError, "internal"
			}
			utils.JSONError(c, status, reason)
			return
		}
		identity = id
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		utils.Warn("websocket upgrade failed", map[string]any{"path": c.FullPath(), "error": err.Error()})
		return
	}

	conn := newConnection(ws, h.cfg, identity.UserID)
	h.track(conn)
	utils.Info("viewer connected", map[string]any{"connection_id": conn.ID(), "user_id": identity.UserID})

	go conn.writePump()
	if auctionID != 0 && !h.subscribe(conn, auctionID) {
		conn.Close()
	}
	conn.readPump(func(msg []byte) { h.onMessage(conn, msg) })
	h.teardown(conn)
}

func (h *Handler) onMessage(conn *Connection, msg []byte) {
	if conn.State() != StateConnecting {
		utils.Debug("ignoring viewer message", map[string]any{"connection_id": conn.ID()})
		return
	}

	auctionID, ok := parseSubscription(msg)
	if !ok {
		h.reply(conn, "not_subscribed")
		return
	}
	h.subscribe(conn, auctionID)
}

// parseSubscription accepts `12`, `"12"` or `{"auctionId": 12}`
func parseSubscription(msg []byte) (int64, bool) {
	msg = bytes.TrimSpace(msg)
	raw := string(msg)

	if len(msg) > 0 && msg[0] == '{' {
		var req subscribeRequest
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			return 0, false
		}
		raw = req.AuctionID.String()
	}

	id, err := strconv.ParseInt(strings.Trim(raw, `"`), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// subscribe attaches conn to the auction; on failure the viewer gets an
// error frame and the connection stays unsubscribed
func (h *Handler) subscribe(conn *Connection, auctionID int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
	defer cancel()

	if !conn.markSubscribed(auctionID) {
		return false
	}
	snap, err := h.watcher.Watch(ctx, auctionID, conn)
	if err != nil {
		conn.state.CompareAndSwap(int32(StateSubscribed), int32(StateConnecting))
		conn.auctionID.Store(0)

		reason := "internal"
		if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
			reason = "not_found"
		}
		utils.Warn("viewer subscription failed", map[string]any{"connection_id": conn.ID(), "auction_id": auctionID, "error": err.Error()})
		h.reply(conn, reason)
		return false
	}

	utils.Info("viewer subscribed", map[string]any{
		"connection_id": conn.ID(),
		"user_id":       conn.userID,
		"auction_id":    auctionID,
		"seq":           snap.Seq,
		"open":          snap.Open,
	})
	return true
}

func (h *Handler) reply(conn *Connection, reason string) {
	frame, _ := json.Marshal(errorFrame{Error: reason})
	if !conn.Enqueue(frame) {
		conn.Close()
	}
}

func (h *Handler) teardown(conn *Connection) {
	conn.Close()
	if id := conn.AuctionID(); id != 0 {
		h.watcher.Unwatch(id, conn)
	}
	<-conn.writerDone
	conn.state.Store(int32(StateClosed))
	h.untrack(conn)

	utils.Info("viewer disconnected", map[string]any{"connection_id": conn.ID(), "auction_id": conn.AuctionID()})
}

func (h *Handler) track(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID())
	h.mu.Unlock()
}

// Count returns the number of open viewer connections
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every open connection; used on shutdown
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
