package services

import (
	"context"
	"errors"
	"time"

	"payfast-reconciler/internal/status"
	"payfast-reconciler/models"
	"payfast-reconciler/monitoring"

	"go.uber.org/zap"
)

// DefaultRetryDelays is the escalating polling cadence. Each tier is polled
// up to DefaultMaxTries times before moving to the next, slower one.
var DefaultRetryDelays = []time.Duration{
	3 * time.Second,
	6 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

const DefaultMaxTries = 10

type StatusChecker interface {
	GetTransactionStatus(ctx context.Context, merchantID, merchantTransactionID string) (*models.PaymentCheckStatusResponse, error)
}

type Reconciler struct {
	gateway  StatusChecker
	logger   *zap.Logger
	delays   []time.Duration
	maxTries int
	debug    bool
}

type ReconcilerOption func(*Reconciler)

// WithRetrySchedule replaces the delay tiers and the per-tier attempt budget.
func WithRetrySchedule(delays []time.Duration, maxTries int) ReconcilerOption {
	return func(r *Reconciler) {
		r.delays = delays
		r.maxTries = maxTries
	}
}

func WithDebugLogging(enabled bool) ReconcilerOption {
	return func(r *Reconciler) { r.debug = enabled }
}

func NewReconciler(gateway StatusChecker, logger *zap.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		gateway:  gateway,
		logger:   logger.Named("reconciler"),
		delays:   DefaultRetryDelays,
		maxTries: DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetPaymentStatus polls the gateway once and normalizes the answer. A failed
// query is reported as status.Error, never returned as an error.
func (r *Reconciler) GetPaymentStatus(ctx context.Context, id models.TransactionIdentifier) status.SessionStatus {
	resp, err := r.gateway.GetTransactionStatus(ctx, id.MerchantID, id.MerchantTransactionID)
	if err != nil {
		r.logger.Error("error from payfast", zap.String("merchantTransactionId", id.MerchantTransactionID), zap.Error(err))
		monitoring.TrackStatusPoll(string(status.Error))
		return status.Error
	}
	if r.debug {
		r.logger.Debug("response from payfast", zap.Any("response", resp))
	}

	st := status.FromGatewayCode(resp.Code)
	monitoring.TrackStatusPoll(string(st))
	return st
}

// CheckAuthorizationWithBackOff polls until the transaction is authorized.
// Every tier that runs out of attempts hands over to the next one; when all
// tiers are spent the result is status.Error. Any other failure, including
// ctx cancellation, aborts the whole run.
func (r *Reconciler) CheckAuthorizationWithBackOff(ctx context.Context, id models.TransactionIdentifier) (status.SessionStatus, error) {
	start := time.Now()

	for _, delay := range r.delays {
		st, err := r.retry(ctx, id, delay, r.maxTries)
		if err == nil {
			monitoring.TrackReconciliation(string(st), time.Since(start))
			return st, nil
		}
		if !errors.Is(err, status.ErrTooManyTries) {
			return "", err
		}
		r.logger.Info("backoff tier exhausted",
			zap.String("merchantTransactionId", id.MerchantTransactionID),
			zap.Duration("delay", delay),
		)
	}

	monitoring.TrackReconciliation(string(status.Error), time.Since(start))
	return status.Error, nil
}

// retry polls up to maxTries times, waiting delay between polls, and returns
// as soon as the status is authorized.
func (r *Reconciler) retry(ctx context.Context, id models.TransactionIdentifier, delay time.Duration, maxTries int) (status.SessionStatus, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		st := r.GetPaymentStatus(ctx, id)
		if st == status.Authorized {
			return st, nil
		}
		if attempt >= maxTries {
			return "", &status.TimeoutError{Attempts: attempt, Err: status.ErrTooManyTries}
		}

		if err := wait(ctx, delay); err != nil {
			return "", err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
