package bidding

import (
	"context"
	"errors"
	"fmt"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/utils"

	"github.com/shopspring/decimal"
)

// SubmitBid admits or rejects a bid on an auction.
//
// Rejections are checked in this order: the price is malformed, the auction
// does not exist, it is closed, the bidder is anonymous, the price does not
// beat the current one. An admitted bid is appended to the durable store,
// then becomes the current price, then is handed to the broadcaster, all
// under the auction's lock. If the append fails nothing changes in memory and
// the auction is reloaded from the store on its next use.
func (s *BiddingService) SubmitBid(ctx context.Context, auctionID int64, bidder models.Identity, price decimal.Decimal) (models.Admission, error) {
	if !validPrice(price) {
		return models.Admission{}, fmt.Errorf("service: %w - price %s must be positive with at most %d decimals",
			biddingerrors.ErrInvalidBid, price, models.PricePlaces)
	}

	var adm models.Admission
	err := s.registry.Do(ctx, auctionID, func(st *registry.State) error {
		if !st.Open() {
			return biddingerrors.ErrAuctionClosed
		}
		if bidder.IsZero() {
			return biddingerrors.ErrUnauthenticated
		}
		if price.LessThanOrEqual(st.Price()) {
			return fmt.Errorf("%w - current price is %s", biddingerrors.ErrBidTooLow, st.Price().StringFixed(models.PricePlaces))
		}

		bid := models.Bid{
			ID:          utils.GenerateID(),
			AuctionID:   auctionID,
			BidderID:    bidder.UserID,
			BidderEmail: bidder.Email,
			Price:       price,
			Seq:         st.Seq() + 1,
			CreatedAt:   s.clock.Now().UTC(),
		}

		appendCtx, cancel := context.WithTimeout(ctx, s.opts.AppendTimeout)
		defer cancel()
		if err := s.repo.RecordBid(appendCtx, bid); err != nil {
			// the write may have landed anyway; reload from the store next time
			st.Invalidate()
			return errors.Join(biddingerrors.ErrInternal, err)
		}

		st.Advance(bid.Price, bid.Seq)
		s.hub.Publish(models.BidEvent{
			AuctionID:   auctionID,
			Seq:         bid.Seq,
			Price:       bid.Price,
			BidderID:    bid.BidderID,
			BidderEmail: bid.BidderEmail,
		})
		adm = models.Admission{Seq: bid.Seq, Price: bid.Price}
		return nil
	})
	if err != nil {
		return models.Admission{}, fmt.Errorf("service: bid on auction %d by user %d: %w", auctionID, bidder.UserID, err)
	}

	utils.Debug("bid admitted", map[string]any{"auction_id": auctionID, "user_id": bidder.UserID, "seq": adm.Seq, "price": adm.Price.String()})
	return adm, nil
}
