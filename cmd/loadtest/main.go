// Command loadtest drives a running server with bidders over HTTP and
// viewers over websockets, then reports what each side saw.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"live-auction/internal/viewer"
	"live-auction/utils"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type options struct {
	baseURL   string
	auctionID int64
	viewers   int
	bidders   int
	duration  time.Duration
	step      decimal.Decimal
}

type stats struct {
	admitted atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
	frames   atomic.Int64
}

func main() {
	var (
		opts options
		step string
	)
	flag.StringVar(&opts.baseURL, "url", "http://localhost:3000", "server base URL")
	flag.Int64Var(&opts.auctionID, "auction", 1, "auction to bid on and watch")
	flag.IntVar(&opts.viewers, "viewers", 50, "number of websocket viewers")
	flag.IntVar(&opts.bidders, "bidders", 5, "number of concurrent bidders")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to run")
	flag.StringVar(&step, "step", "1.00", "amount each bidder raises the price by")
	flag.Parse()

	var err error
	if opts.step, err = decimal.NewFromString(step); err != nil || !opts.step.IsPositive() {
		utils.Fatal("invalid -step", map[string]any{"step": step})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	var st stats
	if err := run(ctx, opts, &st); err != nil {
		utils.Fatal("load test failed", map[string]any{"error": err.Error()})
	}

	utils.Info("load test finished", map[string]any{
		"admitted": st.admitted.Load(),
		"rejected": st.rejected.Load(),
		"failed":   st.failed.Load(),
		"frames":   st.frames.Load(),
		"viewers":  opts.viewers,
		"bidders":  opts.bidders,
	})
}

func run(ctx context.Context, opts options, st *stats) error {
	g, gctx := errgroup.WithContext(ctx)
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(opts.baseURL, "/"), "http")

	for i := 0; i < opts.viewers; i++ {
		v := viewer.New(viewer.Config{BaseURL: wsURL, AuctionID: opts.auctionID}, clockwork.NewRealClock())
		g.Go(func() error {
			err := v.Run(gctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			for range v.Updates() {
				st.frames.Add(1)
			}
			return nil
		})
	}

	for i := 0; i < opts.bidders; i++ {
		g.Go(func() error {
			b, err := newBidder(gctx, opts.baseURL, fmt.Sprintf("load-%d-%d@example.com", time.Now().UnixNano(), i))
			if err != nil {
				return err
			}
			b.loop(gctx, opts, st)
			return nil
		})
	}

	return g.Wait()
}

type bidder struct {
	baseURL string
	client  *http.Client
}

func newBidder(ctx context.Context, baseURL, email string) (*bidder, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	b := &bidder{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Jar: jar, Timeout: 5 * time.Second}}

	status, _, err := b.post(ctx, "/register", map[string]any{"email": email, "password": "load-test"})
	if err != nil {
		return nil, fmt.Errorf("loadtest: register %s: %w", email, err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("loadtest: register %s: status %d", email, status)
	}
	return b, nil
}

func (b *bidder) post(ctx context.Context, path string, body any) (int, map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	var resp map[string]any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	return res.StatusCode, resp, nil
}

func (b *bidder) currentPrice(ctx context.Context, auctionID int64) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/auction/%d", b.baseURL, auctionID), nil)
	if err != nil {
		return decimal.Zero, err
	}
	res, err := b.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("loadtest: get auction %d: status %d", auctionID, res.StatusCode)
	}

	var a struct {
		CurrentPrice decimal.Decimal `json:"currentPrice"`
	}
	if err := json.NewDecoder(res.Body).Decode(&a); err != nil {
		return decimal.Zero, err
	}
	return a.CurrentPrice, nil
}

// loop outbids the last known price until ctx ends or the auction closes
func (b *bidder) loop(ctx context.Context, opts options, st *stats) {
	price, err := b.currentPrice(ctx, opts.auctionID)
	if err != nil {
		utils.Warn("bidder could not read price", map[string]any{"error": err.Error()})
		st.failed.Add(1)
		return
	}

	for ctx.Err() == nil {
		price = price.Add(opts.step)
		status, resp, err := b.post(ctx, "/bid", map[string]any{"Auctionid": opts.auctionID, "Price": price})
		switch {
		case err != nil:
			if ctx.Err() == nil {
				st.failed.Add(1)
			}
		case status == http.StatusOK:
			st.admitted.Add(1)
		case resp["error"] == "closed":
			utils.Info("auction closed, bidder stopping", map[string]any{"auction_id": opts.auctionID})
			return
		default:
			st.rejected.Add(1)
			if p, err := b.currentPrice(ctx, opts.auctionID); err == nil {
				price = p
			}
		}
	}
}
