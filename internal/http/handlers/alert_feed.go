package handlers

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/safeguard/internal/pipeline"
	"github.com/wolfman30/safeguard/pkg/logging"
)

const (
	feedBuffer       = 16
	feedWriteTimeout = 5 * time.Second
)

// FeedMessage is one frame on the live dashboard feed.
type FeedMessage struct {
	Type  string              `json:"type"`
	Alert *pipeline.LiveAlert `json:"alert,omitempty"`
}

type subscriber struct {
	ch chan pipeline.LiveAlert
}

// AlertFeed fans live alerts out to connected dashboards over websocket.
// Publish never blocks the pipeline: a subscriber whose buffer is full
// misses the alert and the drop is counted.
type AlertFeed struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

var _ pipeline.Publisher = (*AlertFeed)(nil)

func NewAlertFeed(logger *logging.Logger) *AlertFeed {
	if logger == nil {
		logger = logging.Default()
	}
	return &AlertFeed{logger: logger.Component("alert_feed"), subs: make(map[*subscriber]struct{})}
}

// Publish implements pipeline.Publisher.
func (f *AlertFeed) Publish(alert pipeline.LiveAlert) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		select {
		case sub.ch <- alert:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribers is the number of connected dashboards.
func (f *AlertFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped is the number of alerts not delivered to a slow subscriber.
func (f *AlertFeed) Dropped() int64 {
	return f.dropped.Load()
}

func (f *AlertFeed) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan pipeline.LiveAlert, feedBuffer)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *AlertFeed) unsubscribe(sub *subscriber) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// ServeHTTP upgrades GET /v1/dashboard/live. Authentication happens in the
// JWT middleware before the upgrade, so the origin check is relaxed to
// admit extension pages.
func (f *AlertFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   func(conn *websocket.Conn) { f.serve(conn, r) },
	}
	server.ServeHTTP(w, r)
}

func (f *AlertFeed) serve(conn *websocket.Conn, r *http.Request) {
	sub := f.subscribe()
	defer f.unsubscribe(sub)

	if err := f.send(conn, FeedMessage{Type: "hello"}); err != nil {
		return
	}
	f.logger.Info("dashboard feed connected", "remote_ip", r.RemoteAddr)

	// The dashboard never sends anything meaningful; reading only detects
	// the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var discard FeedMessage
		for {
			if err := websocket.JSON.Receive(conn, &discard); err != nil {
				return
			}
			if discard.Type == "ping" {
				_ = f.send(conn, FeedMessage{Type: "pong"})
			}
		}
	}()

	for {
		select {
		case <-closed:
			f.logger.Debug("dashboard feed closed", "remote_ip", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case alert := <-sub.ch:
			if err := f.send(conn, FeedMessage{Type: "alert", Alert: &alert}); err != nil {
				f.logger.Debug("dashboard feed write failed", "error", err)
				return
			}
		}
	}
}

func (f *AlertFeed) send(conn *websocket.Conn, msg FeedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return websocket.JSON.Send(conn, msg)
}
