// Package events delivers verified PayFast webhook events to downstream
// subscribers.
package events

import (
	"context"
	"errors"

	"payfast-reconciler/models"
)

// Sink receives webhook events after ConstructWebhookEvent has produced them.
type Sink interface {
	Publish(ctx context.Context, event models.PayFastEvent) error
	Close() error
}

// Fanout publishes every event to all of its sinks. A failing sink does not
// stop delivery to the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, event models.PayFastEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, models.PayFastEvent) error { return nil }
func (Nop) Close() error                                         { return nil }

// VerifiedOnly forwards only events whose signature checked out. Rejected
// events are dropped so forged notifications never reach subscribers that
// act on them, such as checkout pages.
type VerifiedOnly struct {
	Sink
}

func (v VerifiedOnly) Publish(ctx context.Context, event models.PayFastEvent) error {
	if event.Rejected() {
		return nil
	}
	return v.Sink.Publish(ctx, event)
}
