package bidding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/hub"
	model "live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	owner  = model.Identity{UserID: 1, Email: "owner@example.com"}
	bidder = model.Identity{UserID: 2, Email: "bidder@example.com"}
)

// recordingBroadcaster keeps published events in order
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []model.BidEvent
	subs   map[string]uint64
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{subs: make(map[string]uint64)}
}

func (r *recordingBroadcaster) Publish(ev model.BidEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingBroadcaster) Subscribe(sub hub.Subscriber, auctionID int64, afterSeq uint64) {
	r.mu.Lock()
	r.subs[sub.ID()] = afterSeq
	r.mu.Unlock()
}

func (r *recordingBroadcaster) Unsubscribe(sub hub.Subscriber, auctionID int64) {
	r.mu.Lock()
	delete(r.subs, sub.ID())
	r.mu.Unlock()
}

func (r *recordingBroadcaster) published() []model.BidEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.BidEvent(nil), r.events...)
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openAuction(clock clockwork.Clock) model.Auction {
	return model.Auction{
		ID:            1,
		OwnerID:       owner.UserID,
		Item:          "lamp",
		StartingPrice: price("100.00"),
		CurrentPrice:  price("100.00"),
		EndTime:       clock.Now().Add(time.Hour),
		Status:        model.StatusOpen,
	}
}

// newMemoryService wires the service over the in-memory store with one open auction
func newMemoryService(t *testing.T, clock clockwork.Clock) (*BiddingService, *repository.MemoryRepo, *recordingBroadcaster) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	repo.AddAuction(openAuction(clock))
	b := newRecordingBroadcaster()
	svc := NewBiddingService(repo, registry.New(repo, clock), b, clock, Options{AppendTimeout: time.Second})
	return svc, repo, b
}

// Tests SubmitBid
func TestBiddingService_SubmitBid(t *testing.T) {
	clock := clockwork.NewFakeClock()

	// Table-driven test cases
	tests := []struct {
		name          string
		auctionID     int64
		bidder        model.Identity
		price         string
		mockSetup     func(m *repository.MockAuctionDB)
		expectedError error
		expectedSeq   uint64
	}{
		{
			name:      "valid_first_bid",
			auctionID: 1,
			bidder:    bidder,
			price:     "120.00",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil)
				m.EXPECT().RecordBid(gomock.Any(), gomock.Any()).Return(nil)
			},
			expectedSeq: 1,
		},
		{
			name:          "zero_price",
			auctionID:     1,
			bidder:        bidder,
			price:         "0",
			mockSetup:     func(m *repository.MockAuctionDB) {},
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:          "negative_price",
			auctionID:     1,
			bidder:        bidder,
			price:         "-5",
			mockSetup:     func(m *repository.MockAuctionDB) {},
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:          "three_decimals",
			auctionID:     1,
			bidder:        bidder,
			price:         "120.005",
			mockSetup:     func(m *repository.MockAuctionDB) {},
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:      "trailing_zero_decimals_accepted",
			auctionID: 1,
			bidder:    bidder,
			price:     "120.500",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil)
				m.EXPECT().RecordBid(gomock.Any(), gomock.Any()).Return(nil)
			},
			expectedSeq: 1,
		},
		{
			name:      "auction_not_found",
			auctionID: 9,
			bidder:    bidder,
			price:     "120",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(9)).Return(model.Auction{}, biddingerrors.ErrAuctionNotFound)
			},
			expectedError: biddingerrors.ErrAuctionNotFound,
		},
		{
			name:      "auction_closed",
			auctionID: 1,
			bidder:    bidder,
			price:     "120",
			mockSetup: func(m *repository.MockAuctionDB) {
				a := openAuction(clock)
				a.Status = model.StatusClosed
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(a, nil)
			},
			expectedError: biddingerrors.ErrAuctionClosed,
		},
		{
			name:      "closed_wins_over_unauthenticated",
			auctionID: 1,
			bidder:    model.Identity{},
			price:     "120",
			mockSetup: func(m *repository.MockAuctionDB) {
				a := openAuction(clock)
				a.Status = model.StatusClosed
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(a, nil)
			},
			expectedError: biddingerrors.ErrAuctionClosed,
		},
		{
			name:      "unauthenticated",
			auctionID: 1,
			bidder:    model.Identity{},
			price:     "120",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil)
			},
			expectedError: biddingerrors.ErrUnauthenticated,
		},
		{
			name:      "bid_too_low",
			auctionID: 1,
			bidder:    bidder,
			price:     "80",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil)
			},
			expectedError: biddingerrors.ErrBidTooLow,
		},
		{
			name:      "bid_equal_to_current",
			auctionID: 1,
			bidder:    bidder,
			price:     "100.00",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil)
			},
			expectedError: biddingerrors.ErrBidTooLow,
		},
		{
			name:      "repo_fails",
			auctionID: 1,
			bidder:    bidder,
			price:     "120",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil)
				m.EXPECT().RecordBid(gomock.Any(), gomock.Any()).Return(errors.New("repo write failed"))
			},
			expectedError: biddingerrors.ErrInternal,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockRepo := repository.NewMockAuctionDB(ctrl)
			tc.mockSetup(mockRepo)
			b := newRecordingBroadcaster()
			service := NewBiddingService(mockRepo, registry.New(mockRepo, clock), b, clock, Options{})

			adm, err := service.SubmitBid(context.Background(), tc.auctionID, tc.bidder, price(tc.price))

			if tc.expectedError != nil {
				require.ErrorIs(t, err, tc.expectedError)
				require.Empty(t, b.published(), "rejected bids are never broadcast")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedSeq, adm.Seq)
			require.True(t, adm.Price.Equal(price(tc.price)))
			require.Len(t, b.published(), 1)
		})
	}
}

// 100.00 -> 120.00 accepted, 110.00 rejected, 150.00 accepted
func TestBiddingService_SubmitBid_Sequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, repo, b := newMemoryService(t, clockwork.NewFakeClock())

	adm, err := svc.SubmitBid(ctx, 1, bidder, price("120.00"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), adm.Seq)

	_, err = svc.SubmitBid(ctx, 1, bidder, price("110.00"))
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)

	adm, err = svc.SubmitBid(ctx, 1, bidder, price("150.00"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), adm.Seq)

	events := b.published()
	require.Len(t, events, 2)
	require.True(t, events[0].Price.Equal(price("120")))
	require.True(t, events[1].Price.Equal(price("150")))
	require.Equal(t, bidder.Email, events[1].BidderEmail)

	a, err := svc.GetAuction(ctx, 1)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(price("150")))

	bids, err := repo.GetBidsByAuction(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
}

func TestBiddingService_SubmitBid_AfterEndTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	svc, _, b := newMemoryService(t, clock)

	_, err := svc.SubmitBid(ctx, 1, bidder, price("101"))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = svc.SubmitBid(ctx, 1, bidder, price("500"))
	require.ErrorIs(t, err, biddingerrors.ErrAuctionClosed)
	require.Len(t, b.published(), 1)
}

func TestBiddingService_SubmitBid_AppendTimeoutLeavesNoTrace(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := clockwork.NewRealClock()
	mockRepo := repository.NewMockAuctionDB(ctrl)
	// loaded again after the failed append
	mockRepo.EXPECT().GetAuction(gomock.Any(), int64(1)).Return(openAuction(clock), nil).Times(2)
	mockRepo.EXPECT().RecordBid(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ model.Bid) error {
		<-ctx.Done()
		return ctx.Err()
	})
	mockRepo.EXPECT().RecordBid(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, bid model.Bid) error {
		require.Equal(t, uint64(1), bid.Seq, "sequence is not consumed by a failed append")
		return nil
	})

	b := newRecordingBroadcaster()
	svc := NewBiddingService(mockRepo, registry.New(mockRepo, clock), b, clock, Options{AppendTimeout: 20 * time.Millisecond})

	_, err := svc.SubmitBid(context.Background(), 1, bidder, price("120"))
	require.ErrorIs(t, err, biddingerrors.ErrInternal)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, b.published())

	a, err := svc.GetAuction(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(price("100")))

	adm, err := svc.SubmitBid(context.Background(), 1, bidder, price("120"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), adm.Seq)
}

// lateCommitRepo stores the next bid but reports the append as timed out,
// like an INSERT that commits after the caller's deadline
type lateCommitRepo struct {
	*repository.MemoryRepo
	mu       sync.Mutex
	failNext bool
}

func (r *lateCommitRepo) RecordBid(ctx context.Context, bid model.Bid) error {
	if err := r.MemoryRepo.RecordBid(ctx, bid); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return context.DeadlineExceeded
	}
	return nil
}

func TestBiddingService_SubmitBid_LateCommitReloadsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	repo := &lateCommitRepo{MemoryRepo: repository.NewMemoryRepo(), failNext: true}
	repo.AddAuction(openAuction(clock))
	b := newRecordingBroadcaster()
	svc := NewBiddingService(repo, registry.New(repo, clock), b, clock, Options{AppendTimeout: time.Second})

	_, err := svc.SubmitBid(ctx, 1, bidder, price("120"))
	require.ErrorIs(t, err, biddingerrors.ErrInternal)

	// the stored bid is now the current price
	a, err := svc.GetAuction(ctx, 1)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(price("120")), "got %s", a.CurrentPrice)
	require.Equal(t, uint64(1), a.LastSeq)

	_, err = svc.SubmitBid(ctx, 1, bidder, price("110"))
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)

	adm, err := svc.SubmitBid(ctx, 1, bidder, price("130"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), adm.Seq)
	require.True(t, adm.Price.Equal(price("130")))

	bids, err := svc.GetBidsForAuction(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 2)
}

// concurrency test: the final price is the maximum admitted and broadcasts
// follow admission order with strictly increasing prices
func TestBiddingService_SubmitBid_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, repo, b := newMemoryService(t, clockwork.NewFakeClock())

	const bidders = 200
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []model.Admission
	)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := model.Identity{UserID: int64(10 + i), Email: fmt.Sprintf("u%d@example.com", i)}
			adm, err := svc.SubmitBid(ctx, 1, who, price(fmt.Sprintf("%d.%02d", 100+i/2, i%100)))
			if err != nil {
				require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
				return
			}
			mu.Lock()
			admitted = append(admitted, adm)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	events := b.published()
	require.Len(t, events, len(admitted))
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		require.Equal(t, events[i-1].Seq+1, events[i].Seq)
		require.True(t, events[i].Price.GreaterThan(events[i-1].Price))
	}

	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Seq < admitted[j].Seq })
	last := admitted[len(admitted)-1]
	a, err := svc.GetAuction(ctx, 1)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(last.Price))
	require.True(t, a.CurrentPrice.Equal(events[len(events)-1].Price))

	bids, err := repo.GetBidsByAuction(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, bids, len(admitted))
}

func TestBiddingService_Watch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, b := newMemoryService(t, clockwork.NewFakeClock())

	_, err := svc.SubmitBid(ctx, 1, bidder, price("120"))
	require.NoError(t, err)

	sub := newStubSubscriber("viewer-1")
	snap, err := svc.Watch(ctx, 1, sub)
	require.NoError(t, err)
	require.Len(t, sub.frames, 1)
	require.JSONEq(t, `{"Price":120}`, string(sub.frames[0]))
	require.True(t, snap.Price.Equal(price("120")))
	require.Equal(t, uint64(1), snap.Seq)
	require.True(t, snap.Open)
	require.Equal(t, uint64(1), b.subs["viewer-1"])

	svc.Unwatch(1, sub)
	require.NotContains(t, b.subs, "viewer-1")

	_, err = svc.Watch(ctx, 77, sub)
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	require.NotContains(t, b.subs, "viewer-1")
	require.Len(t, sub.frames, 1)
}

// stubSubscriber keeps every frame it is given
type stubSubscriber struct {
	id     string
	frames [][]byte
}

func newStubSubscriber(id string) *stubSubscriber { return &stubSubscriber{id: id} }

func (s *stubSubscriber) ID() string { return s.id }

func (s *stubSubscriber) Enqueue(msg []byte) bool {
	s.frames = append(s.frames, msg)
	return true
}

func (s *stubSubscriber) Close() {}

// Tests CreateAuction
func TestBiddingService_CreateAuction(t *testing.T) {
	clock := clockwork.NewFakeClock()
	image := "https://img.example.com/lamp.png"
	blank := "  "

	tests := []struct {
		name          string
		owner         model.Identity
		item          string
		price         string
		image         *string
		endTime       time.Time
		expectedError error
	}{
		{name: "valid", owner: owner, item: "lamp", price: "10.50", image: &image, endTime: clock.Now().Add(time.Hour)},
		{name: "blank_image_allowed", owner: owner, item: "lamp", price: "10", image: &blank, endTime: clock.Now().Add(time.Hour)},
		{name: "anonymous", owner: model.Identity{}, item: "lamp", price: "10", endTime: clock.Now().Add(time.Hour), expectedError: biddingerrors.ErrUnauthenticated},
		{name: "empty_item", owner: owner, item: " ", price: "10", endTime: clock.Now().Add(time.Hour), expectedError: biddingerrors.ErrInvalidAuction},
		{name: "zero_price", owner: owner, item: "lamp", price: "0", endTime: clock.Now().Add(time.Hour), expectedError: biddingerrors.ErrInvalidAuction},
		{name: "end_in_past", owner: owner, item: "lamp", price: "10", endTime: clock.Now().Add(-time.Minute), expectedError: biddingerrors.ErrInvalidAuction},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			repo := repository.NewMemoryRepo()
			svc := NewBiddingService(repo, registry.New(repo, clock), newRecordingBroadcaster(), clock, Options{})

			id, err := svc.CreateAuction(context.Background(), tc.owner, tc.item, price(tc.price), tc.image, tc.endTime)
			if tc.expectedError != nil {
				require.ErrorIs(t, err, tc.expectedError)
				return
			}
			require.NoError(t, err)

			a, err := svc.GetAuction(context.Background(), id)
			require.NoError(t, err)
			require.Equal(t, tc.owner.UserID, a.OwnerID)
			require.True(t, a.CurrentPrice.Equal(price(tc.price)))
			require.True(t, a.OpenAt(clock.Now()))
		})
	}
}

func TestBiddingService_CloseAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, repo, _ := newMemoryService(t, clockwork.NewFakeClock())

	require.ErrorIs(t, svc.CloseAuction(ctx, 1, model.Identity{}), biddingerrors.ErrUnauthenticated)
	require.ErrorIs(t, svc.CloseAuction(ctx, 1, bidder), biddingerrors.ErrNotOwner)
	require.ErrorIs(t, svc.CloseAuction(ctx, 5, owner), biddingerrors.ErrAuctionNotFound)

	require.NoError(t, svc.CloseAuction(ctx, 1, owner))
	require.NoError(t, svc.CloseAuction(ctx, 1, owner))

	_, err := svc.SubmitBid(ctx, 1, bidder, price("1000"))
	require.ErrorIs(t, err, biddingerrors.ErrAuctionClosed)

	stored, err := repo.GetAuction(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, stored.Status)
}

func TestBiddingService_GetBidsForAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	clock := clockwork.NewFakeClock()
	repo.AddAuction(openAuction(clock))
	svc := NewBiddingService(repo, registry.New(repo, clock), newRecordingBroadcaster(), clock, Options{HistoryLimit: 3})

	for i := 1; i <= 5; i++ {
		_, err := svc.SubmitBid(ctx, 1, bidder, price(fmt.Sprintf("%d", 100+i)))
		require.NoError(t, err)
	}

	bids, err := svc.GetBidsForAuction(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 3)
	require.True(t, bids[0].Price.Equal(price("105")), "most recent first")
	require.Equal(t, bidder.Email, bids[0].BidderEmail)

	_, err = svc.GetBidsForAuction(ctx, 2)
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}
