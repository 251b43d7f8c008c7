// Package registry owns the live state of every auction the process has touched.
//
// Each auction gets its own entry and mutex. Everything that must observe or
// change an auction atomically (the cutoff check, the price comparison, the
// durable append, the price update and the broadcast enqueue) runs inside Do
// while that entry's lock is held. The registry map lock is only held long
// enough to find or create an entry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/repository"
	"live-auction/utils"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// State is the mutable view of one auction. It is only valid inside Do.
type State struct {
	auction model.Auction
	stale   bool
}

// Auction returns a copy of the auction as currently known
func (s *State) Auction() model.Auction { return s.auction }

// Open reports whether the auction still accepts bids
func (s *State) Open() bool { return s.auction.Status == model.StatusOpen }

// Price is the current price
func (s *State) Price() decimal.Decimal { return s.auction.CurrentPrice }

// Seq is the sequence number of the last admitted bid, 0 if none
func (s *State) Seq() uint64 { return s.auction.LastSeq }

// OwnerID is the user who created the auction
func (s *State) OwnerID() int64 { return s.auction.OwnerID }

// Advance records an admitted bid. Callers must have persisted it first.
func (s *State) Advance(price decimal.Decimal, seq uint64) {
	s.auction.CurrentPrice = price
	s.auction.LastSeq = seq
}

// Invalidate discards the cached view when it may no longer match the durable
// store, e.g. after an append whose outcome is unknown. The next Do reloads it.
func (s *State) Invalidate() { s.stale = true }

type entry struct {
	mu        sync.Mutex
	loaded    bool
	state     State
	persisted bool // closure written to the durable store
}

// Registry caches auctions loaded from the durable store
type Registry struct {
	repo  repository.AuctionDB
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[int64]*entry // key: auctionID -> value: live entry
}

// New creates an empty registry
func New(repo repository.AuctionDB, clock clockwork.Clock) *Registry {
	return &Registry{
		repo:    repo,
		clock:   clock,
		entries: make(map[int64]*entry),
	}
}

func (r *Registry) lookup(id int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	return e
}

func (r *Registry) forget(id int64, e *entry) {
	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

// Do runs fn with the auction's lock held. A lapsed end time is applied
// before fn runs, so fn never sees an open auction past its cutoff. A
// closure made by fn is persisted before the lock is released.
func (r *Registry) Do(ctx context.Context, id int64, fn func(st *State) error) error {
	e := r.acquire(id)
	defer e.mu.Unlock()

	if !e.loaded {
		a, err := repository.ReadWithRetry(ctx, func(ctx context.Context) (model.Auction, error) {
			return r.repo.GetAuction(ctx, id)
		})
		if err != nil {
			if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
				r.forget(id, e)
			}
			return fmt.Errorf("registry: load auction %d: %w", id, err)
		}
		if a.CurrentPrice.LessThan(a.StartingPrice) {
			a.CurrentPrice = a.StartingPrice
		}
		e.state = State{auction: a}
		e.persisted = a.Status == model.StatusClosed
		e.loaded = true
	}

	r.expire(ctx, id, e)
	err := fn(&e.state)
	if e.state.stale {
		e.loaded = false
		e.state = State{}
		utils.Warn("auction state invalidated, reloading on next use", map[string]any{"auction_id": id})
		return err
	}
	r.expire(ctx, id, e)
	return err
}

// acquire returns id's entry locked. An entry dropped from the map while the
// caller waited for its lock is skipped, so one auction never has two live
// entries.
func (r *Registry) acquire(id int64) *entry {
	for {
		e := r.lookup(id)
		e.mu.Lock()

		r.mu.Lock()
		current := r.entries[id] == e
		r.mu.Unlock()
		if current {
			return e
		}
		e.mu.Unlock()
	}
}

// expire moves an auction past its end time to closed. Caller holds e.mu.
func (r *Registry) expire(ctx context.Context, id int64, e *entry) {
	a := &e.state.auction
	if a.Status == model.StatusOpen && !r.clock.Now().Before(a.EndTime) {
		a.Status = model.StatusClosed
		utils.Info("auction closed at end time", map[string]any{"auction_id": id, "end_time": a.EndTime})
	}
	if a.Status == model.StatusClosed && !e.persisted {
		if err := r.repo.CloseAuction(ctx, id, r.clock.Now().UTC()); err != nil {
			utils.Warn("failed to persist auction close", map[string]any{"auction_id": id, "error": err.Error()})
			return
		}
		e.persisted = true
	}
}

// Load returns the current view of the auction
func (r *Registry) Load(ctx context.Context, id int64) (model.Auction, error) {
	var a model.Auction
	err := r.Do(ctx, id, func(st *State) error {
		a = st.Auction()
		return nil
	})
	return a, err
}

// CurrentPrice returns the auction's current price
func (r *Registry) CurrentPrice(ctx context.Context, id int64) (decimal.Decimal, error) {
	var p decimal.Decimal
	err := r.Do(ctx, id, func(st *State) error {
		p = st.Price()
		return nil
	})
	return p, err
}

// IsOpen reports whether the auction accepts bids right now
func (r *Registry) IsOpen(ctx context.Context, id int64) (bool, error) {
	var open bool
	err := r.Do(ctx, id, func(st *State) error {
		open = st.Open()
		return nil
	})
	return open, err
}

// Snapshot captures price, sequence and status in one critical section
func (r *Registry) Snapshot(ctx context.Context, id int64) (model.Snapshot, error) {
	var snap model.Snapshot
	err := r.Do(ctx, id, func(st *State) error {
		snap = model.Snapshot{AuctionID: id, Price: st.Price(), Seq: st.Seq(), Open: st.Open()}
		return nil
	})
	return snap, err
}

// Close ends an auction explicitly. It reports whether this call did the
// transition; closing a closed auction is a no-op.
func (r *Registry) Close(ctx context.Context, id int64) (bool, error) {
	var closed bool
	err := r.Do(ctx, id, func(st *State) error {
		if !st.Open() {
			return nil
		}
		closed = true
		st.auction.Status = model.StatusClosed
		return nil
	})
	return closed, err
}

// RunCloser sweeps cached auctions on every tick until ctx is done
func (r *Registry) RunCloser(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep(ctx)
		}
	}
}

// Sweep closes every cached auction whose end time has passed
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	ids := make(map[int64]*entry, len(r.entries))
	for id, e := range r.entries {
		ids[id] = e
	}
	r.mu.Unlock()

	for id, e := range ids {
		e.mu.Lock()
		if e.loaded {
			r.expire(ctx, id, e)
		}
		e.mu.Unlock()
	}
}

// Len returns the number of cached auctions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
