package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

// Authenticator resolves a session token to the caller's identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Identity, error)
}

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	})
}

// SessionMiddleware resolves the session cookie into an identity on the gin
// context. With required set, requests without a live session stop with 401.
// Otherwise they continue anonymously. A session store failure is a 500 either way.
func SessionMiddleware(gate Authenticator, cookieName string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(cookieName)
		id, err := gate.Authenticate(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(helpers.IdentityKey, id)
		case errors.Is(err, biddingerrors.ErrUnauthenticated):
			if required {
				utils.AbortWithError(c, http.StatusUnauthorized, helpers.ReasonUnauthenticated)
				return
			}
		default:
			utils.Error("SessionMiddleware: session lookup failed", map[string]any{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			utils.AbortWithError(c, http.StatusInternalServerError, helpers.ReasonInternal)
			return
		}
		c.Next()
	}
}
