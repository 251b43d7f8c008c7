package bidding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/hub"
	"live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/internal/repository"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// Broadcaster fans admitted bids out to viewers
type Broadcaster interface {
	Publish(ev models.BidEvent)
	Subscribe(sub hub.Subscriber, auctionID int64, afterSeq uint64)
	Unsubscribe(sub hub.Subscriber, auctionID int64)
}

// Options tunes the service
type Options struct {
	AppendTimeout time.Duration // bound on the durable append of an admitted bid
	HistoryLimit  int           // bids returned by GetBidsForAuction
}

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo     repository.AuctionDB
	registry *registry.Registry
	hub      Broadcaster
	clock    clockwork.Clock
	opts     Options
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, reg *registry.Registry, b Broadcaster, clock clockwork.Clock, opts Options) *BiddingService {
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = 2 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &BiddingService{
		repo:     repo,
		registry: reg,
		hub:      b,
		clock:    clock,
		opts:     opts,
	}
}

// validPrice reports whether p is a positive amount with at most two decimal places
func validPrice(p decimal.Decimal) bool {
	return p.IsPositive() && p.Equal(p.Truncate(models.PricePlaces))
}

// CreateAuction validates and stores a new auction owned by owner
func (s *BiddingService) CreateAuction(ctx context.Context, owner models.Identity, item string, startingPrice decimal.Decimal, image *string, endTime time.Time) (int64, error) {
	if owner.IsZero() {
		return 0, fmt.Errorf("service: create auction: %w", biddingerrors.ErrUnauthenticated)
	}
	item = strings.TrimSpace(item)
	if item == "" {
		return 0, fmt.Errorf("service: %w - empty item", biddingerrors.ErrInvalidAuction)
	}
	if !validPrice(startingPrice) {
		return 0, fmt.Errorf("service: %w - starting price %s", biddingerrors.ErrInvalidAuction, startingPrice)
	}
	if !endTime.After(s.clock.Now()) {
		return 0, fmt.Errorf("service: %w - end time %s is not in the future", biddingerrors.ErrInvalidAuction, endTime.Format(time.RFC3339))
	}
	if image != nil && strings.TrimSpace(*image) == "" {
		image = nil
	}

	id, err := s.repo.CreateAuction(ctx, models.Auction{
		OwnerID:       owner.UserID,
		Item:          item,
		ImageURL:      image,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		EndTime:       endTime.UTC(),
		Status:        models.StatusOpen,
		CreatedAt:     s.clock.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("service: failed to create auction for user %d: %w", owner.UserID, err)
	}
	return id, nil
}

// GetAuction returns the auction with its live current price
func (s *BiddingService) GetAuction(ctx context.Context, auctionID int64) (models.Auction, error) {
	a, err := s.registry.Load(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %d: %w", auctionID, err)
	}
	return a, nil
}

// GetBidsForAuction returns the most recent bids, newest first
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	bids, err := repository.ReadWithRetry(ctx, func(ctx context.Context) ([]models.Bid, error) {
		return s.repo.GetBidsByAuction(ctx, auctionID, s.opts.HistoryLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %d: %w", auctionID, err)
	}
	return bids, nil
}

// CloseAuction ends an auction early. Only the owner may close it.
func (s *BiddingService) CloseAuction(ctx context.Context, auctionID int64, requester models.Identity) error {
	if requester.IsZero() {
		return fmt.Errorf("service: close auction %d: %w", auctionID, biddingerrors.ErrUnauthenticated)
	}

	err := s.registry.Do(ctx, auctionID, func(st *registry.State) error {
		if st.OwnerID() != requester.UserID {
			return biddingerrors.ErrNotOwner
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("service: close auction %d: %w", auctionID, err)
	}

	if _, err := s.registry.Close(ctx, auctionID); err != nil {
		return fmt.Errorf("service: close auction %d: %w", auctionID, err)
	}
	return nil
}

// Watch enqueues the current price on sub as its first frame and subscribes
// it to the auction. Both happen in one critical section, so sub then sees
// every later bid exactly once and none it already has.
func (s *BiddingService) Watch(ctx context.Context, auctionID int64, sub hub.Subscriber) (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.registry.Do(ctx, auctionID, func(st *registry.State) error {
		snap = models.Snapshot{AuctionID: auctionID, Price: st.Price(), Seq: st.Seq(), Open: st.Open()}
		baseline, err := json.Marshal(models.PriceUpdate{Price: snap.Price})
		if err != nil {
			return fmt.Errorf("encode baseline: %w", err)
		}
		if !sub.Enqueue(baseline) {
			return fmt.Errorf("%w - subscriber %s rejected baseline", biddingerrors.ErrInternal, sub.ID())
		}
		s.hub.Subscribe(sub, auctionID, st.Seq())
		return nil
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("service: watch auction %d: %w", auctionID, err)
	}
	return snap, nil
}

// Unwatch removes sub from the auction's viewers
func (s *BiddingService) Unwatch(auctionID int64, sub hub.Subscriber) {
	s.hub.Unsubscribe(sub, auctionID)
}
