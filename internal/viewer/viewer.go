// Package viewer is a reconnecting client for the live price stream.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/models"
	"live-auction/utils"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// State is the client side of a viewer connection
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Config describes which stream to follow and how to reconnect
type Config struct {
	BaseURL   string        // e.g. ws://localhost:3000
	AuctionID int64         // followed through /auction/:id
	Backoff   time.Duration // fixed wait between attempts
	Header    http.Header   // sent on every dial, e.g. the session cookie
	Buffer    int           // size of the Updates channel
}

// Update is one frame from the stream. Baseline is true for the first frame
// after each (re)subscription.
type Update struct {
	Price    decimal.Decimal
	Email    string
	Baseline bool
}

type frame struct {
	Price *decimal.Decimal `json:"Price"`
	Email string           `json:"email"`
	Error string           `json:"error"`
}

// Viewer follows one auction, reconnecting after abnormal closures
type Viewer struct {
	cfg     Config
	dialer  *websocket.Dialer
	clock   clockwork.Clock
	updates chan Update

	state      atomic.Int32
	reconnects atomic.Int64
}

// New creates a viewer; Run starts it
func New(cfg Config, clock clockwork.Clock) *Viewer {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Viewer{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		clock:   clock,
		updates: make(chan Update, cfg.Buffer),
	}
}

// Updates delivers price frames in stream order. It is closed when Run returns.
func (v *Viewer) Updates() <-chan Update { return v.updates }

// State returns the current connection state
func (v *Viewer) State() State { return State(v.state.Load()) }

// Reconnects counts successful subscriptions after the first
func (v *Viewer) Reconnects() int64 { return v.reconnects.Load() }

func (v *Viewer) url() string {
	return fmt.Sprintf("%s/auction/%d", strings.TrimRight(v.cfg.BaseURL, "/"), v.cfg.AuctionID)
}

// Run follows the auction until ctx is done or the server reports that the
// auction does not exist.
func (v *Viewer) Run(ctx context.Context) error {
	defer close(v.updates)
	defer v.state.Store(int32(StateDisconnected))

	subscribed := false
	for {
		v.state.Store(int32(StateConnecting))
		err := v.session(ctx, &subscribed)
		v.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
			return err
		}
		utils.Debug("viewer reconnecting", map[string]any{"auction_id": v.cfg.AuctionID, "error": fmt.Sprint(err)})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.clock.After(v.cfg.Backoff):
		}
	}
}

// session runs one connection from dial to close
func (v *Viewer) session(ctx context.Context, subscribed *bool) error {
	ws, _, err := v.dialer.DialContext(ctx, v.url(), v.cfg.Header)
	if err != nil {
		return fmt.Errorf("viewer: dial: %w", err)
	}
	defer ws.Close()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	baseline := true
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("viewer: read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			utils.Warn("viewer got malformed frame", map[string]any{"auction_id": v.cfg.AuctionID, "error": err.Error()})
			continue
		}
		if f.Error == "not_found" {
			return fmt.Errorf("viewer: auction %d: %w", v.cfg.AuctionID, biddingerrors.ErrAuctionNotFound)
		}
		if f.Error != "" || f.Price == nil {
			continue
		}

		if baseline {
			v.state.Store(int32(StateSubscribed))
			if *subscribed {
				v.reconnects.Add(1)
			}
			*subscribed = true
		}

		select {
		case v.updates <- Update{Price: *f.Price, Email: f.Email, Baseline: baseline}:
		case <-ctx.Done():
			return ctx.Err()
		}
		baseline = false
	}
}

// Latest drains pending updates and returns the most recent price
func Latest(updates <-chan Update, current models.PriceUpdate) models.PriceUpdate {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return current
			}
			current = models.PriceUpdate{Price: u.Price, Email: u.Email}
		default:
			return current
		}
	}
}
