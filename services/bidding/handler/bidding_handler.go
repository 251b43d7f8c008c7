package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	model "live-auction/internal/models"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type BiddingServiceInterface interface {
	SubmitBid(ctx context.Context, auctionID int64, bidder model.Identity, price decimal.Decimal) (model.Admission, error)
	CreateAuction(ctx context.Context, owner model.Identity, item string, startingPrice decimal.Decimal, image *string, endTime time.Time) (int64, error)
	GetAuction(ctx context.Context, auctionID int64) (model.Auction, error)
	GetBidsForAuction(ctx context.Context, auctionID int64) ([]model.Bid, error)
	CloseAuction(ctx context.Context, auctionID int64, requester model.Identity) error
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

func auctionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// PlaceBidHandler handles POST /bid
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}
	auctionID, err := req.AuctionID.Int64()
	if err != nil || auctionID <= 0 {
		helpers.HandleBindError(c, "PlaceBidHandler", fmt.Errorf("auction id %q: %w", req.AuctionID, err))
		return
	}

	bidder := helpers.IdentityFrom(c)
	adm, err := h.service.SubmitBid(c.Request.Context(), auctionID, bidder, req.Price)
	if err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		fields := map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"user_id":    bidder.UserID,
			"price":      req.Price.String(),
			"error":      err.Error(),
		}
		if status >= http.StatusInternalServerError {
			utils.Error("PlaceBidHandler: failed to place bid", fields)
		} else {
			utils.Debug("PlaceBidHandler: bid rejected", fields)
		}
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.PlaceBidResponse{Success: "1", Seq: adm.Seq})
	helpers.LogSuccess("PlaceBidHandler", "bid admitted", map[string]any{
		"auction_id": auctionID,
		"user_id":    bidder.UserID,
		"price":      adm.Price.String(),
		"seq":        adm.Seq,
	})
}

// CreateAuctionHandler handles POST /create
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	owner := helpers.IdentityFrom(c)
	id, err := h.service.CreateAuction(c.Request.Context(), owner, req.Item, req.StartingPrice, req.Image, endTime)
	if err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{
			"user_id": owner.UserID,
			"error":   err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.CreateAuctionResponse{AuctionID: id})
	helpers.LogSuccess("CreateAuctionHandler", "auction created", map[string]any{
		"auction_id": id,
		"user_id":    owner.UserID,
	})
}

// GetAuctionHandler handles GET /api/auction/:id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		utils.JSONError(c, http.StatusBadRequest, helpers.ReasonValidation)
		return
	}

	a, err := h.service.GetAuction(c.Request.Context(), id)
	if err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": id, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.AuctionResponse{
		ID:            a.ID,
		Item:          a.Item,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		ImageURL:      a.ImageURL,
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
	})
}

// GetBidsHandler handles GET /api/auction/:id/bids
func (h *BiddingHandler) GetBidsHandler(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		utils.JSONError(c, http.StatusBadRequest, helpers.ReasonValidation)
		return
	}

	bids, err := h.service.GetBidsForAuction(c.Request.Context(), id)
	if err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		utils.Warn("GetBidsHandler: error retrieving bids", map[string]any{"auction_id": id, "error": err.Error()})
		return
	}

	resp := helpers.BidsResponse{Bids: make([]helpers.BidView, 0, len(bids))}
	for _, b := range bids {
		resp.Bids = append(resp.Bids, helpers.BidView{Price: b.Price, Email: b.BidderEmail})
	}
	utils.JSONResponse(c, http.StatusOK, resp)
	helpers.LogSuccess("GetBidsHandler", "bids retrieved", map[string]any{
		"auction_id": id,
		"count":      len(bids),
	})
}

// CloseAuctionHandler handles POST /api/auction/:id/close
func (h *BiddingHandler) CloseAuctionHandler(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		utils.JSONError(c, http.StatusBadRequest, helpers.ReasonValidation)
		return
	}

	requester := helpers.IdentityFrom(c)
	if err := h.service.CloseAuction(c.Request.Context(), id, requester); err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		utils.Warn("CloseAuctionHandler: failed to close auction", map[string]any{
			"auction_id": id,
			"user_id":    requester.UserID,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.CloseAuctionResponse{Closed: true})
	helpers.LogSuccess("CloseAuctionHandler", "auction closed", map[string]any{
		"auction_id": id,
		"user_id":    requester.UserID,
	})
}
