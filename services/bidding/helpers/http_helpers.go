package helpers

import (
	"errors"
	"net/http"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

// Stable reasons carried in {"error": reason} bodies
const (
	ReasonNotFound           = "not_found"
	ReasonClosed             = "closed"
	ReasonUnauthenticated    = "unauthenticated"
	ReasonPriceTooLow        = "price_too_low"
	ReasonValidation         = "validation_error"
	ReasonEmailTaken         = "email_taken"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonForbidden          = "forbidden"
	ReasonInternal           = "internal"
)

// IdentityKey is the gin context key holding the caller's model.Identity
const IdentityKey = "identity"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	utils.JSONError(c, http.StatusBadRequest, ReasonValidation)
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and reason
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, ReasonNotFound
	case errors.Is(err, biddingerrors.ErrAuctionClosed):
		return http.StatusConflict, ReasonClosed
	case errors.Is(err, biddingerrors.ErrUnauthenticated):
		return http.StatusUnauthorized, ReasonUnauthenticated
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, ReasonPriceTooLow
	case errors.Is(err, biddingerrors.ErrInvalidBid),
		errors.Is(err, biddingerrors.ErrInvalidAuction),
		errors.Is(err, biddingerrors.ErrInvalidAccount):
		return http.StatusBadRequest, ReasonValidation
	case errors.Is(err, biddingerrors.ErrEmailTaken):
		return http.StatusConflict, ReasonEmailTaken
	case errors.Is(err, biddingerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, ReasonInvalidCredentials
	case errors.Is(err, biddingerrors.ErrNotOwner):
		return http.StatusForbidden, ReasonForbidden
	default:
		return http.StatusInternalServerError, ReasonInternal
	}
}

// IdentityFrom returns the identity set by the session middleware, zero if none
func IdentityFrom(c *gin.Context) model.Identity {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return model.Identity{}
	}
	id, _ := v.(model.Identity)
	return id
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
