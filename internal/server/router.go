package server

import (
	"net/http"

	"live-auction/internal/stream"
	handler "live-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Deps are the services the router exposes
type Deps struct {
	Bidding  handler.BiddingServiceInterface
	Accounts handler.AccountServiceInterface
	Gate     Authenticator
	Stream   *stream.Handler
	Hub      handler.HubStats
	Cookie   handler.CookieConfig
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(deps.Bidding)
	accountHandler := handler.NewAccountHandler(deps.Accounts, deps.Cookie)
	healthHandler := handler.NewHealthHandler(deps.Hub, deps.Stream)

	requireSession := SessionMiddleware(deps.Gate, deps.Cookie.Name, true)
	optionalSession := SessionMiddleware(deps.Gate, deps.Cookie.Name, false)

	router.GET("/healthz", healthHandler.HealthHandler)

	router.POST("/register", accountHandler.RegisterHandler)
	router.POST("/login", accountHandler.LoginHandler)
	router.POST("/logout", accountHandler.LogoutHandler)
	router.GET("/dashboard", requireSession, accountHandler.DashboardHandler)

	// unauthenticated bids reach the service so a closed auction reports closed first
	router.POST("/bid", optionalSession, biddingHandler.PlaceBidHandler)

	router.POST("/create", requireSession, biddingHandler.CreateAuctionHandler)

	api := router.Group("/api/auction")
	{
		api.GET("/:id", biddingHandler.GetAuctionHandler)
		api.GET("/:id/bids", biddingHandler.GetBidsHandler)
		api.POST("/:id/close", requireSession, biddingHandler.CloseAuctionHandler)
	}

	router.GET("/auction/:id", deps.Stream.ServeAuction)
	router.GET("/ws", deps.Stream.ServeWS)

	return router
}

// WithCORS lets the browser frontend at origin call the API with its session cookie
func WithCORS(h http.Handler, origin string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
}
