package handler

import (
	"context"
	"net/http"
	"time"

	model "live-auction/internal/models"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

type AccountServiceInterface interface {
	Register(ctx context.Context, email, password string) (model.User, model.Session, error)
	Login(ctx context.Context, email, password string) (model.User, model.Session, error)
	Logout(ctx context.Context, token string) error
}

// CookieConfig controls the session cookie
type CookieConfig struct {
	Name   string
	Secure bool
}

type AccountHandler struct {
	accounts AccountServiceInterface
	cookie   CookieConfig
	now      func() time.Time
}

func NewAccountHandler(accounts AccountServiceInterface, cookie CookieConfig) *AccountHandler {
	if cookie.Name == "" {
		cookie.Name = "session"
	}
	return &AccountHandler{accounts: accounts, cookie: cookie, now: time.Now}
}

func (h *AccountHandler) setSessionCookie(c *gin.Context, sess model.Session) {
	maxAge := int(sess.ExpiresAt.Sub(h.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, sess.Token, maxAge, "/", "", h.cookie.Secure, true)
}

// RegisterHandler handles POST /register
func (h *AccountHandler) RegisterHandler(c *gin.Context) {
	var req helpers.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RegisterHandler", err)
		return
	}

	user, sess, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		utils.Warn("RegisterHandler: registration failed", map[string]any{"error": err.Error()})
		return
	}

	h.setSessionCookie(c, sess)
	utils.JSONResponse(c, http.StatusCreated, helpers.UserResponse{ID: user.ID, Email: user.Email})
	helpers.LogSuccess("RegisterHandler", "user registered", map[string]any{"user_id": user.ID})
}

// LoginHandler handles POST /login
func (h *AccountHandler) LoginHandler(c *gin.Context) {
	var req helpers.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "LoginHandler", err)
		return
	}

	user, sess, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status, reason := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, reason)
		utils.Info("LoginHandler: login rejected", map[string]any{"error": err.Error()})
		return
	}

	h.setSessionCookie(c, sess)
	utils.JSONResponse(c, http.StatusOK, helpers.UserResponse{ID: user.ID, Email: user.Email})
	helpers.LogSuccess("LoginHandler", "user logged in", map[string]any{"user_id": user.ID})
}

// LogoutHandler handles POST /logout. Logging out without a session succeeds.
func (h *AccountHandler) LogoutHandler(c *gin.Context) {
	token, _ := c.Cookie(h.cookie.Name)
	if err := h.accounts.Logout(c.Request.Context(), token); err != nil {
		utils.JSONError(c, http.StatusInternalServerError, helpers.ReasonInternal)
		utils.Error("LogoutHandler: failed to revoke session", map[string]any{"error": err.Error()})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
	c.Status(http.StatusNoContent)
}

// DashboardHandler handles GET /dashboard behind the session middleware
func (h *AccountHandler) DashboardHandler(c *gin.Context) {
	id := helpers.IdentityFrom(c)
	if id.IsZero() {
		utils.JSONError(c, http.StatusUnauthorized, helpers.ReasonUnauthenticated)
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.DashboardResponse{
		Message: "Welcome to your dashboard",
		UserID:  id.UserID,
	})
}
