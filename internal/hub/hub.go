// Package hub fans admitted bids out to the viewers of each auction.
package hub

import (
	"encoding/json"
	"sync"

	model "live-auction/internal/models"
	"live-auction/utils"
)

// Subscriber is one viewer connection as seen by the hub.
// Enqueue must not block; it reports false when the subscriber's queue is full.
// Close must not call back into the hub.
type Subscriber interface {
	ID() string
	Enqueue(msg []byte) bool
	Close()
}

type subscription struct {
	sub     Subscriber
	lastSeq uint64 // highest sequence delivered or covered by the baseline; dispatcher only
}

// topic is the per-auction fan-out: a FIFO backlog drained by one dispatcher.
// The backlog and the subscriber set have separate locks so Publish never
// waits on a delivery pass.
type topic struct {
	auctionID int64

	qmu     sync.Mutex
	backlog []model.BidEvent

	mu   sync.Mutex
	subs map[string]*subscription // key: subscriber ID

	notify chan struct{}
	done   chan struct{}
}

// Stats reports the hub's current load
type Stats struct {
	Topics      int `json:"topics"`
	Subscribers int `json:"subscribers"`
}

// Hub keeps one topic per auction with at least one subscriber
type Hub struct {
	mu     sync.RWMutex
	topics map[int64]*topic // key: auctionID
	wg     sync.WaitGroup
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{topics: make(map[int64]*topic)}
}

// Subscribe registers sub for auctionID. Events with Seq <= afterSeq are
// never delivered to it; callers pass the sequence their baseline reflects.
func (h *Hub) Subscribe(sub Subscriber, auctionID int64, afterSeq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[auctionID]
	if !ok {
		t = &topic{
			auctionID: auctionID,
			subs:      make(map[string]*subscription),
			notify:    make(chan struct{}, 1),
			done:      make(chan struct{}),
		}
		h.topics[auctionID] = t
		h.wg.Add(1)
		go h.dispatch(t)
	}

	t.mu.Lock()
	t.subs[sub.ID()] = &subscription{sub: sub, lastSeq: afterSeq}
	t.mu.Unlock()

	utils.Debug("subscribed", map[string]any{"auction_id": auctionID, "subscriber": sub.ID(), "after_seq": afterSeq})
}

// Unsubscribe removes sub from auctionID. Unknown pairs are ignored.
func (h *Hub) Unsubscribe(sub Subscriber, auctionID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[auctionID]
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub.ID())
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		h.removeLocked(t)
	}
}

// Publish appends ev to its auction's backlog and wakes the dispatcher.
// It never blocks on subscribers. Events for auctions nobody watches are dropped.
func (h *Hub) Publish(ev model.BidEvent) {
	h.mu.RLock()
	t, ok := h.topics[ev.AuctionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	t.qmu.Lock()
	t.backlog = append(t.backlog, ev)
	t.qmu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Stats counts topics and live subscriptions
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Topics: len(h.topics)}
	for _, t := range h.topics {
		t.mu.Lock()
		s.Subscribers += len(t.subs)
		t.mu.Unlock()
	}
	return s
}

// Close stops every dispatcher and closes all subscribers
func (h *Hub) Close() {
	h.mu.Lock()
	var subs []Subscriber
	for _, t := range h.topics {
		t.mu.Lock()
		for _, s := range t.subs {
			subs = append(subs, s.sub)
		}
		t.subs = make(map[string]*subscription)
		t.mu.Unlock()
		h.removeLocked(t)
	}
	h.mu.Unlock()

	h.wg.Wait()
	for _, s := range subs {
		s.Close()
	}
}

// removeLocked drops the topic and stops its dispatcher. Caller holds h.mu.
func (h *Hub) removeLocked(t *topic) {
	if h.topics[t.auctionID] != t {
		return
	}
	delete(h.topics, t.auctionID)
	close(t.done)
}

func (h *Hub) dispatch(t *topic) {
	defer h.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case <-t.notify:
			h.drain(t)
		}
	}
}

// drain delivers the backlog in order. Subscribers whose queue is full are
// dropped without affecting delivery to the others. No lock is held while
// encoding or delivering.
func (h *Hub) drain(t *topic) {
	t.qmu.Lock()
	events := t.backlog
	t.backlog = nil
	t.qmu.Unlock()
	if len(events) == 0 {
		return
	}

	// taken after the backlog so a subscriber missing here joined after
	// every event in it was published
	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	var dropped []*subscription
	for _, ev := range events {
		msg, err := json.Marshal(ev.Update())
		if err != nil {
			utils.Error("failed to encode bid event", map[string]any{"auction_id": ev.AuctionID, "seq": ev.Seq, "error": err.Error()})
			continue
		}

		live := subs[:0]
		for _, s := range subs {
			if ev.Seq <= s.lastSeq {
				live = append(live, s)
				continue
			}
			if !s.sub.Enqueue(msg) {
				dropped = append(dropped, s)
				continue
			}
			s.lastSeq = ev.Seq
			live = append(live, s)
		}
		subs = live
	}
	if len(dropped) == 0 {
		return
	}

	t.mu.Lock()
	for _, s := range dropped {
		if t.subs[s.sub.ID()] == s {
			delete(t.subs, s.sub.ID())
		}
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	for _, s := range dropped {
		utils.Warn("dropping slow subscriber", map[string]any{"auction_id": t.auctionID, "subscriber": s.sub.ID()})
		s.sub.Close()
	}

	if empty {
		h.mu.Lock()
		t.mu.Lock()
		stillEmpty := len(t.subs) == 0
		t.mu.Unlock()
		if stillEmpty {
			h.removeLocked(t)
		}
		h.mu.Unlock()
	}
}
