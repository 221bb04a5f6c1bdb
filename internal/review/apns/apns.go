// Package apns is a thin push-notification stub matching the config
// surface of config.ApnsConfig. Present because the spec's external
// interfaces section lists "apns" as a recognized config section, but
// the actual push transport (token signing, APNs HTTP/2 delivery) is
// outside core scope — this records attempted sends for testing rather
// than performing them.
package apns

import (
	"context"
	"log/slog"
	"sync"

	"github.com/itellico/joi-gateway/internal/store"
)

type Config struct {
	PrivateKey string
	KeyID      string
	TeamID     string
	Topic      string
	DeviceToken string
}

// Notifier implements review.Notifier, recording every attempted send
// rather than delivering it, since real APNs delivery needs a signed JWT
// and an HTTP/2 client this exercise doesn't stand up.
type Notifier struct {
	cfg Config

	mu  sync.Mutex
	sent []Attempt
}

type Attempt struct {
	Kind   string // "created" | "resolved"
	ItemID string
	Title  string
}

func New(cfg Config) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) configured() bool {
	return n.cfg.PrivateKey != "" && n.cfg.DeviceToken != ""
}

func (n *Notifier) NotifyCreated(_ context.Context, item *store.ReviewItem) {
	n.record("created", item)
}

func (n *Notifier) NotifyResolved(_ context.Context, item *store.ReviewItem) {
	n.record("resolved", item)
}

func (n *Notifier) record(kind string, item *store.ReviewItem) {
	if !n.configured() {
		return
	}
	n.mu.Lock()
	n.sent = append(n.sent, Attempt{Kind: kind, ItemID: item.ID.String(), Title: item.Title})
	n.mu.Unlock()
	slog.Debug("apns: push attempted (stub, not delivered)", "kind", kind, "item_id", item.ID, "topic", n.cfg.Topic)
}

// Attempts returns a snapshot of every recorded push attempt, for tests.
func (n *Notifier) Attempts() []Attempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Attempt, len(n.sent))
	copy(out, n.sent)
	return out
}
