package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the durable storage interface for users, auctions and bids
type AuctionDB interface {
	CreateUser(ctx context.Context, email, passwordHash string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	CreateAuction(ctx context.Context, auction model.Auction) (int64, error)
	GetAuction(ctx context.Context, auctionID int64) (model.Auction, error)
	CloseAuction(ctx context.Context, auctionID int64, closedAt time.Time) error
	RecordBid(ctx context.Context, bid model.Bid) error
	GetBidsByAuction(ctx context.Context, auctionID int64, limit int) ([]model.Bid, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	users    map[int64]model.User
	emails   map[string]int64        // key: normalized email -> value: userID
	auctions map[int64]model.Auction // key: auctionID -> value: auction as created
	bids     map[int64][]model.Bid   // key: auctionID -> value: bids in seq order
	closed   map[int64]time.Time     // key: auctionID -> value: close time
	nextUser int64
	nextAuc  int64
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		users:    make(map[int64]model.User),
		emails:   make(map[string]int64),
		auctions: make(map[int64]model.Auction),
		bids:     make(map[int64][]model.Bid),
		closed:   make(map[int64]time.Time),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser stores a new user, rejecting duplicate emails
func (r *MemoryRepo) CreateUser(ctx context.Context, email, passwordHash string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeEmail(email)
	if _, exists := r.emails[key]; exists {
		return model.User{}, fmt.Errorf("create user %s: %w", email, biddingerrors.ErrEmailTaken)
	}

	r.nextUser++
	user := model.User{
		ID:           r.nextUser,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[user.ID] = user
	r.emails[key] = user.ID
	return user, nil
}

// GetUserByEmail returns the user registered with the given email
func (r *MemoryRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[normalizeEmail(email)]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", email, biddingerrors.ErrUserNotFound)
	}
	return r.users[id], nil
}

// CreateAuction stores a new auction and returns its identifier
func (r *MemoryRepo) CreateAuction(ctx context.Context, auction model.Auction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextAuc++
	auction.ID = r.nextAuc
	auction.CurrentPrice = auction.StartingPrice
	auction.Status = model.StatusOpen
	auction.LastSeq = 0
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = time.Now().UTC()
	}
	r.auctions[auction.ID] = auction
	return auction.ID, nil
}

// GetAuction returns an auction with its current price and last sequence derived from its bids
func (r *MemoryRepo) GetAuction(ctx context.Context, auctionID int64) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %d: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	auction.CurrentPrice = auction.StartingPrice
	if bids := r.bids[auctionID]; len(bids) > 0 {
		last := bids[len(bids)-1]
		auction.CurrentPrice = decimal.Max(auction.StartingPrice, last.Price)
		auction.LastSeq = last.Seq
	}
	if _, isClosed := r.closed[auctionID]; isClosed {
		auction.Status = model.StatusClosed
	}
	return auction, nil
}

// CloseAuction marks an auction closed; closing twice keeps the first close time
func (r *MemoryRepo) CloseAuction(ctx context.Context, auctionID int64, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return fmt.Errorf("close auction %d: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if _, already := r.closed[auctionID]; !already {
		r.closed[auctionID] = closedAt
	}
	return nil
}

// RecordBid appends an admitted bid to the auction's ledger
func (r *MemoryRepo) RecordBid(ctx context.Context, bid model.Bid) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record bid for auction %d: %w", bid.AuctionID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("record bid for auction %d: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	bids := r.bids[bid.AuctionID]
	if len(bids) > 0 && bids[len(bids)-1].Seq >= bid.Seq {
		return fmt.Errorf("record bid seq %d for auction %d: %w", bid.Seq, bid.AuctionID, biddingerrors.ErrDuplicateBid)
	}
	r.bids[bid.AuctionID] = append(bids, bid)
	return nil
}

// GetBidsByAuction returns up to limit bids, most recent first. limit <= 0 returns all.
func (r *MemoryRepo) GetBidsByAuction(ctx context.Context, auctionID int64, limit int) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %d: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := append([]model.Bid(nil), r.bids[auctionID]...)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Seq > bids[j].Seq })
	if limit > 0 && len(bids) > limit {
		bids = bids[:limit]
	}
	return bids, nil
}

// AddAuction stores an auction under its own ID. This method is intended for tests and seeding only.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.Status == "" {
		auction.Status = model.StatusOpen
	}
	if auction.ID > r.nextAuc {
		r.nextAuc = auction.ID
	}
	r.auctions[auction.ID] = auction
}
