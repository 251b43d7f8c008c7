package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("user with this email already exists")
	ErrDuplicateBid    = errors.New("bid sequence already recorded")
	ErrNoBids          = errors.New("no bids found for auction")
)

// session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// business logic errors
var (
	ErrAuctionClosed      = errors.New("auction closed")
	ErrBidTooLow          = errors.New("bid must be higher than the current price")
	ErrInvalidBid         = errors.New("invalid bid")
	ErrInvalidAuction     = errors.New("invalid auction")
	ErrInvalidAccount     = errors.New("malformed email or password too short")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotOwner           = errors.New("only the auction owner can do this")
	ErrInternal           = errors.New("internal error")
)
