package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// prices go over the wire as JSON numbers, the frontend does arithmetic on them
	decimal.MarshalJSONWithoutQuotes = true
}

// PricePlaces is the number of decimal places a price may carry
const PricePlaces = 2

// User represents a registered participant
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the authenticated caller resolved from a session
type Identity struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// IsZero reports whether no identity was established
func (i Identity) IsZero() bool {
	return i.UserID == 0
}

// AuctionStatus is the lifecycle status of an auction
type AuctionStatus string

const (
	StatusOpen   AuctionStatus = "open"
	StatusClosed AuctionStatus = "closed"
)

// Auction represents a time-boxed sale of one item
type Auction struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	Item          string          `json:"item"`
	ImageURL      *string         `json:"image_url"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	EndTime       time.Time       `json:"end_time"`
	Status        AuctionStatus   `json:"status"`
	LastSeq       uint64          `json:"last_seq"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OpenAt reports whether the auction accepts bids at the given instant
func (a Auction) OpenAt(now time.Time) bool {
	return a.Status == StatusOpen && now.Before(a.EndTime)
}

// Bid represents an admitted bid on an auction
type Bid struct {
	ID          string          `json:"id"`
	AuctionID   int64           `json:"auction_id"`
	BidderID    int64           `json:"bidder_id"`
	BidderEmail string          `json:"bidder_email"`
	Price       decimal.Decimal `json:"price"`
	Seq         uint64          `json:"seq"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BidEvent is produced for every admitted bid and fanned out to viewers
type BidEvent struct {
	AuctionID   int64
	Seq         uint64
	Price       decimal.Decimal
	BidderID    int64
	BidderEmail string
}

// Admission is the result of a successful bid submission
type Admission struct {
	Seq   uint64          `json:"seq"`
	Price decimal.Decimal `json:"price"`
}

// Snapshot is the state of an auction captured inside its critical section
type Snapshot struct {
	AuctionID int64
	Price     decimal.Decimal
	Seq       uint64
	Open      bool
}

// Session maps an opaque token to a user identity
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity returns the identity carried by the session
func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, Email: s.Email}
}

// PriceUpdate is the frame pushed to viewers. The baseline frame sent on
// subscribe carries no email.
type PriceUpdate struct {
	Price decimal.Decimal `json:"Price"`
	Email string          `json:"email,omitempty"`
}

// Update converts the event into the frame viewers receive
func (e BidEvent) Update() PriceUpdate {
	return PriceUpdate{Price: e.Price, Email: e.BidderEmail}
}
