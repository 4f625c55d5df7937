package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

var errNotConfigured = errors.New("collaborator not configured")

// runEffects executes effects after the commit. Each effect gets its own
// timeout on a context that survives the caller's cancellation; failures are
// collected as warnings and never undo the transition.
func (s *Service) runEffects(ctx context.Context, b models.Booking, effects []Effect, res *Result) {
	base := context.WithoutCancel(ctx)
	log := logging.FromContext(ctx, s.logger).With("booking_id", b.ID)
	for _, e := range effects {
		ectx, cancel := s.effectCtx(base)
		err := s.runEffect(ectx, b, e, res)
		cancel()
		if err == nil {
			continue
		}
		observability.SideEffectFailures.WithLabelValues(string(e.Kind)).Inc()
		log.Warn("side effect failed", "effect", e.Kind, "error", err)
		res.Warnings = append(res.Warnings, Warning{Effect: e.Kind, Message: err.Error()})
	}
}

func (s *Service) effectCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.policy.SideEffectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.policy.SideEffectTimeout)
}

func (s *Service) runEffect(ctx context.Context, b models.Booking, e Effect, res *Result) error {
	switch e.Kind {
	case EffectNotify:
		if s.deps.Notifier == nil {
			return errNotConfigured
		}
		if err := s.deps.Notifier.Publish(ctx, *e.Notification); err != nil {
			return fmt.Errorf("notify %s: %w", e.Notification.Channel, err)
		}
		observability.NotificationsPublished.WithLabelValues(e.Notification.Event).Inc()
		return nil

	case EffectRefund:
		if s.deps.Refunds == nil {
			return errNotConfigured
		}
		out := s.deps.Refunds.Refund(ctx, *e.Refund)
		res.Refund = &out
		observability.RefundsTotal.WithLabelValues(string(out.Status)).Inc()
		if out.Status == models.RefundFailed {
			return fmt.Errorf("refund %s: %s", e.Refund.PaymentReference, out.Reason)
		}
		return nil

	case EffectAccounting:
		if s.deps.Ledger == nil {
			return errNotConfigured
		}
		rec := AccountingRecord(b, *e.Fare, s.commissionRate(ctx, b))
		return s.deps.Ledger.Record(ctx, rec)

	case EffectReceipt:
		return s.sendReceipt(ctx, b, *e.Fare)
	}
	return fmt.Errorf("unknown effect %q", e.Kind)
}

func (s *Service) commissionRate(ctx context.Context, b models.Booking) float64 {
	if s.deps.Drivers == nil || !b.HasDriver() {
		return s.policy.DefaultCommissionRate
	}
	d, err := s.deps.Drivers.Get(ctx, *b.DriverID)
	if err != nil || d.CommissionRate <= 0 {
		return s.policy.DefaultCommissionRate
	}
	return d.CommissionRate
}

func (s *Service) sendReceipt(ctx context.Context, b models.Booking, fare models.Money) error {
	if s.deps.Receipts == nil || s.deps.Riders == nil {
		return errNotConfigured
	}
	email, err := s.deps.Riders.RiderEmail(ctx, b.RiderID)
	if models.IsNotFound(err) {
		logging.FromContext(ctx, s.logger).Debug("receipt skipped, no rider email", "booking_id", b.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("rider email: %w", err)
	}
	return s.deps.Receipts.Send(ctx, models.Receipt{
		RiderEmail:  email,
		BookingID:   b.ID,
		Fare:        fare,
		Pickup:      b.PickupAddress,
		Dropoff:     b.DropoffAddress,
		DistanceKm:  b.EstimatedDistanceKm,
		DurationMin: b.EstimatedDurationMin,
		CompletedAt: b.UpdatedAt,
	})
}

// AccountingRecord splits fare into platform commission and driver earnings.
// Commission is rounded to the nearest minor unit.
func AccountingRecord(b models.Booking, fare models.Money, rate float64) models.AccountingRecord {
	commission := int64(math.Round(float64(fare.Amount) * rate))
	return models.AccountingRecord{
		BookingID:      b.ID,
		DriverID:       deref(b.DriverID),
		RiderID:        b.RiderID,
		Fare:           fare,
		CommissionRate: rate,
		Commission:     models.Money{Amount: commission, Currency: fare.Currency},
		DriverNet:      models.Money{Amount: fare.Amount - commission, Currency: fare.Currency},
		CompletedAt:    b.UpdatedAt,
	}
}
