package helpers

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs. Field names follow what the frontend already sends and reads.

type CredentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UserResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type DashboardResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
}

type CreateAuctionRequest struct {
	Item          string          `json:"item" binding:"required"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	Image         *string         `json:"image"`
	EndTime       string          `json:"endTime" binding:"required"`
}

type CreateAuctionResponse struct {
	AuctionID int64 `json:"auctionId"`
}

type AuctionResponse struct {
	ID            int64           `json:"id"`
	Item          string          `json:"item"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	ImageURL      *string         `json:"imageUrl"`
	EndTime       string          `json:"endTime"`
	Status        string          `json:"status"`
}

type BidView struct {
	Price decimal.Decimal `json:"price"`
	Email string          `json:"email"`
}

type BidsResponse struct {
	Bids []BidView `json:"bids"`
}

// PlaceBidRequest matches the legacy bid form. Auctionid may arrive as a
// number or a numeric string; Userid is accepted but the bidder always comes
// from the session.
type PlaceBidRequest struct {
	AuctionID json.Number     `json:"Auctionid" binding:"required"`
	UserID    json.Number     `json:"Userid"`
	Price     decimal.Decimal `json:"Price"`
}

type PlaceBidResponse struct {
	Success string `json:"success"`
	Seq     uint64 `json:"seq"`
}

type CloseAuctionResponse struct {
	Closed bool `json:"closed"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Topics      int    `json:"topics"`
	Subscribers int    `json:"subscribers"`
	Viewers     int    `json:"viewers"`
}
