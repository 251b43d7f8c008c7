package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-auction/internal/account"
	bidding "live-auction/internal/biddingService"
	"live-auction/internal/config"
	"live-auction/internal/hub"
	model "live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/internal/server"
	"live-auction/internal/session"
	"live-auction/internal/stream"
	"live-auction/services/bidding/handler"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.Log.Level)
	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	repo, closeRepo, err := openRepository(ctx, cfg, clock)
	if err != nil {
		utils.Fatal("failed to open repository", map[string]any{"driver": cfg.DB.Driver, "error": err.Error()})
	}
	defer closeRepo()

	sessions, err := openSessionStore(ctx, cfg, clock)
	if err != nil {
		utils.Fatal("failed to open session store", map[string]any{"store": cfg.Session.Store, "error": err.Error()})
	}

	h := hub.NewHub()
	reg := registry.New(repo, clock)
	biddingSvc := bidding.NewBiddingService(repo, reg, h, clock, bidding.Options{
		AppendTimeout: cfg.Bidding.AppendTimeout,
		HistoryLimit:  cfg.Bidding.HistoryLimit,
	})
	gate := session.NewGate(sessions)

	streamHandler := stream.NewHandler(biddingSvc, gate, stream.Config{
		SendBuffer:     cfg.Stream.SendBuffer,
		WriteWait:      cfg.Stream.WriteWait,
		PongWait:       cfg.Stream.PongWait,
		PingPeriod:     cfg.Stream.PingPeriod,
		MaxMessageSize: cfg.Stream.MaxMessageSize,
		RequireSession: cfg.Stream.RequireSession,
		CookieName:     cfg.Session.CookieName,
	})

	router := server.SetupRouter(server.Deps{
		Bidding:  biddingSvc,
		Accounts: account.NewService(repo, sessions),
		Gate:     gate,
		Stream:   streamHandler,
		Hub:      h,
		Cookie:   handler.CookieConfig{Name: cfg.Session.CookieName, Secure: cfg.Session.Secure},
	})

	srv := &http.Server{
		Addr:    cfg.App.Port,
		Handler: server.WithCORS(router, cfg.App.FrontendOrigin),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Info("starting auction server", map[string]any{"addr": cfg.App.Port, "db": cfg.DB.Driver, "sessions": cfg.Session.Store})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reg.RunCloser(gctx, cfg.Registry.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		utils.Info("shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// hijacked websocket connections are not covered by Shutdown
		streamHandler.CloseAll()
		h.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		utils.Error("server stopped with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// openRepository returns the configured durable store and its cleanup
func openRepository(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (repository.AuctionDB, func(), error) {
	if cfg.DB.Driver == "memory" {
		repo := repository.NewMemoryRepo()
		if cfg.App.Env == "local" {
			prepopulateAuctions(repo, clock)
		}
		return repo, func() {}, nil
	}

	db, err := repository.OpenMySQL(ctx, repository.MySQLOptions{
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Addr:     cfg.DB.MySQLAddr(),
		DBName:   cfg.DB.Name,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewMySQLRepo(db)
	if cfg.DB.Migrate {
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return repo, func() { db.Close() }, nil
}

func openSessionStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (session.Store, error) {
	if cfg.Session.Store == "memory" {
		return session.NewMemoryStore(cfg.Session.TTL, clock), nil
	}
	client, err := session.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return session.NewRedisStore(client, cfg.Session.TTL), nil
}

// prepopulateAuctions adds sample auctions to the in-memory repo for local development
func prepopulateAuctions(repo *repository.MemoryRepo, clock clockwork.Clock) {
	now := clock.Now().UTC()
	auctions := []model.Auction{
		{ID: 1, OwnerID: 0, Item: "Vintage camera", StartingPrice: decimal.NewFromInt(100), EndTime: now.Add(24 * time.Hour)},
		{ID: 2, OwnerID: 0, Item: "Oak writing desk", StartingPrice: decimal.NewFromInt(250), EndTime: now.Add(2 * time.Hour)},
		{ID: 3, OwnerID: 0, Item: "Signed first edition", StartingPrice: decimal.RequireFromString("75.50"), EndTime: now.Add(30 * time.Minute)},
	}

	for _, a := range auctions {
		a.CurrentPrice = a.StartingPrice
		a.Status = model.StatusOpen
		a.CreatedAt = now
		repo.AddAuction(a)
	}
}
