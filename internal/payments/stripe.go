package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

// stripeAPI is the slice of the Stripe API the refunder needs.
type stripeAPI interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type liveAPI struct{ sc *client.API }

func (l liveAPI) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return l.sc.PaymentIntents.Get(id, params)
}

func (l liveAPI) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	params.Context = ctx
	return l.sc.Refunds.New(params)
}

// StripeRefunder refunds captured PaymentIntents.
type StripeRefunder struct {
	api    stripeAPI
	logger *slog.Logger
}

func NewStripeRefunder(apiKey string, logger *slog.Logger) *StripeRefunder {
	return newStripeRefunder(liveAPI{sc: client.New(apiKey, nil)}, logger)
}

func newStripeRefunder(api stripeAPI, logger *slog.Logger) *StripeRefunder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StripeRefunder{api: api, logger: logger}
}

// Refund issues a refund for req.PaymentReference. Intents that never
// succeeded are skipped. The idempotency key is derived from the booking so a
// repeated call cannot refund twice.
func (s *StripeRefunder) Refund(ctx context.Context, req models.RefundRequest) models.RefundOutcome {
	log := logging.FromContext(ctx, s.logger).With("booking_id", req.BookingID, "payment_intent", req.PaymentReference)
	if req.PaymentReference == "" {
		return models.RefundOutcome{Status: models.RefundSkipped, Reason: "no payment reference"}
	}

	pi, err := s.api.GetPaymentIntent(ctx, req.PaymentReference)
	if err != nil {
		log.Error("retrieve payment intent failed", "error", err)
		return models.RefundOutcome{Status: models.RefundFailed, Reason: err.Error()}
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		log.Info("refund skipped", "intent_status", pi.Status)
		return models.RefundOutcome{Status: models.RefundSkipped, Reason: fmt.Sprintf("payment intent is %s", pi.Status)}
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentReference),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.Amount != nil && req.Amount.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount.Amount)
	}
	params.SetIdempotencyKey("refund-" + req.BookingID)

	r, err := s.api.CreateRefund(ctx, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			log.Info("payment already refunded")
			return models.RefundOutcome{Status: models.RefundApplied, Reason: "already refunded"}
		}
		log.Error("refund failed", "error", err)
		return models.RefundOutcome{Status: models.RefundFailed, Reason: err.Error()}
	}
	log.Info("refund created", "refund_id", r.ID)
	return models.RefundOutcome{Status: models.RefundApplied, RefundID: r.ID}
}
