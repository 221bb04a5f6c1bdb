// Package review implements the Review Queue: a human-in-the-loop gate
// with typed side effects dispatched on resolution.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/store"
)

var ErrUnavailable = errors.New("review: not available in standalone mode")

// Notifier is called on enqueue/resolve so an external channel (push
// notification, chat broadcast) can be notified. The default implementation
// just logs; internal/review/apns supplies a push-notification stub.
type Notifier interface {
	NotifyCreated(ctx context.Context, item *store.ReviewItem)
	NotifyResolved(ctx context.Context, item *store.ReviewItem)
}

// SlogNotifier logs review lifecycle events structurally. It is always
// present, even when a push Notifier is also configured.
type SlogNotifier struct{}

func (SlogNotifier) NotifyCreated(_ context.Context, item *store.ReviewItem) {
	slog.Info("review created", "id", item.ID, "type", item.Type, "agent_id", item.AgentID)
}
func (SlogNotifier) NotifyResolved(_ context.Context, item *store.ReviewItem) {
	slog.Info("review resolved", "id", item.ID, "status", item.Status, "resolved_by", item.ResolvedBy)
}

// TriageExecutor dispatches the action list contained in an approved/modified
// triage review item. Supplied by the Agent Runtime wiring, since it needs
// access to Tool Registry dispatch.
type TriageExecutor interface {
	ExecuteActions(ctx context.Context, item *store.ReviewItem) error
}

// FactWriter applies an approved verify_fact resolution to the target fact
// object and its associated memories. Supplied by the knowledge/memory
// services wiring.
type FactWriter interface {
	ApplyVerifiedFact(ctx context.Context, item *store.ReviewItem) error
}

type Service struct {
	store      store.ReviewStore
	events     bus.EventPublisher
	notifiers  []Notifier
	triage     TriageExecutor
	factWriter FactWriter
}

type Option func(*Service)

func WithNotifier(n Notifier) Option       { return func(s *Service) { s.notifiers = append(s.notifiers, n) } }
func WithTriageExecutor(t TriageExecutor) Option { return func(s *Service) { s.triage = t } }
func WithFactWriter(f FactWriter) Option    { return func(s *Service) { s.factWriter = f } }

func NewService(st store.ReviewStore, events bus.EventPublisher, opts ...Option) *Service {
	s := &Service{store: st, events: events, notifiers: []Notifier{SlogNotifier{}}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Enabled() bool { return s.store != nil }

// Enqueue persists a pending review item, broadcasts review.created, and
// notifies every configured Notifier.
func (s *Service) Enqueue(ctx context.Context, item *store.ReviewItem) (*store.ReviewItem, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	item.Status = store.ReviewStatusPending
	saved, err := s.store.Enqueue(ctx, item)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: "review.created", Payload: saved})
	}
	for _, n := range s.notifiers {
		n.NotifyCreated(ctx, saved)
	}
	return saved, nil
}

// Resolve transitions a pending item to a terminal status and fires the
// type-specific side effect exactly once (guarded by the store's atomic
// Resolve). Side-effect dispatch is a plain switch over ReviewType; the
// compiler does not check it for exhaustiveness. A type without a case falls
// to the default case, which logs a warning and does not fail the resolution
// itself, per the error-handling design's "learning-feedback failures are
// logged, not propagated" policy.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, status, resolution, resolvedBy string) (*store.ReviewItem, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	item, first, err := s.store.Resolve(ctx, id, status, resolution, resolvedBy)
	if err != nil {
		return nil, err
	}
	if !first {
		return item, nil
	}

	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: "review.resolved", Payload: item})
	}
	for _, n := range s.notifiers {
		n.NotifyResolved(ctx, item)
	}

	s.dispatchSideEffect(ctx, item)
	s.fireLearningFeedback(ctx, item)

	return item, nil
}

func (s *Service) dispatchSideEffect(ctx context.Context, item *store.ReviewItem) {
	switch item.Type {
	case store.ReviewTypeTriage:
		if item.Status == store.ReviewStatusApproved || item.Status == store.ReviewStatusModified {
			if s.triage == nil {
				slog.Warn("review: triage approved but no executor configured", "id", item.ID)
				return
			}
			if err := s.triage.ExecuteActions(ctx, item); err != nil {
				slog.Warn("review: triage action execution failed", "id", item.ID, "error", err)
			}
		}
		// rejected: nothing further to do beyond the resolution record.

	case store.ReviewTypeVerifyFact:
		if item.Status == store.ReviewStatusApproved {
			if s.factWriter == nil {
				slog.Warn("review: verify_fact approved but no fact writer configured", "id", item.ID)
				return
			}
			if err := s.factWriter.ApplyVerifiedFact(ctx, item); err != nil {
				slog.Warn("review: fact write failed", "id", item.ID, "error", err)
			}
		}

	case store.ReviewTypeApprove, store.ReviewTypeClassify, store.ReviewTypeMatch,
		store.ReviewTypeSelect, store.ReviewTypeVerify, store.ReviewTypeFreeform:
		// No additional side effect beyond the resolution record itself.

	default:
		slog.Warn("review: unrecognized review type, no side effect dispatched", "id", item.ID, "type", item.Type)
	}
}

// fireLearningFeedback emits an async, best-effort event for every
// resolution regardless of type, per spec.md §4.E's "any resolution" rule.
func (s *Service) fireLearningFeedback(ctx context.Context, item *store.ReviewItem) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("review: learning feedback panic recovered", "error", fmt.Sprint(r))
			}
		}()
		if s.events != nil {
			s.events.Broadcast(bus.Event{Name: "review.learning_feedback", Payload: item})
		}
	}()
}

func (s *Service) List(ctx context.Context, filters store.ReviewFilters) ([]*store.ReviewItem, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.ReviewItem, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.Get(ctx, id)
}
