package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var allStatuses = []models.Status{
	models.StatusRequested, models.StatusAssigned, models.StatusEnRoute, models.StatusArrived,
	models.StatusInProgress, models.StatusCompleted, models.StatusCanceled,
}

func strp(s string) *string { return &s }

func booking(status models.Status) models.Booking {
	b := models.Booking{ID: "b1", RiderID: "r1", Status: status, Version: 3}
	if status.HoldsDriver() {
		b.DriverID = strp("d1")
	}
	return b
}

func opts() PlanOptions {
	return PlanOptions{Now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC), SendReceipts: true, Currency: "GBP"}
}

func effectsOf(t Transition, kind EffectKind) []Effect {
	var out []Effect
	for _, e := range t.Effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func channels(t Transition) map[string]string {
	out := map[string]string{}
	for _, e := range effectsOf(t, EffectNotify) {
		out[e.Notification.Channel] = e.Notification.Event
	}
	return out
}

func TestCanTransitionTable(t *testing.T) {
	legal := map[[2]models.Status]bool{
		{models.StatusRequested, models.StatusAssigned}:   true,
		{models.StatusRequested, models.StatusCanceled}:   true,
		{models.StatusAssigned, models.StatusEnRoute}:     true,
		{models.StatusAssigned, models.StatusCanceled}:    true,
		{models.StatusEnRoute, models.StatusArrived}:      true,
		{models.StatusEnRoute, models.StatusCanceled}:     true,
		{models.StatusArrived, models.StatusInProgress}:   true,
		{models.StatusArrived, models.StatusCanceled}:     true,
		{models.StatusInProgress, models.StatusCompleted}: true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if got := CanTransition(from, to); got != legal[[2]models.Status{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestPlanRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		name string
		from models.Status
		ev   Event
	}{
		{"complete from requested", models.StatusRequested, Event{Kind: EventComplete}},
		{"advance from requested", models.StatusRequested, Event{Kind: EventAdvance}},
		{"assign twice", models.StatusAssigned, Event{Kind: EventAssign, DriverID: "d2"}},
		{"rider cancel in progress", models.StatusInProgress, Event{Kind: EventCancel, Reason: models.CancelByRider}},
		{"driver cancel in progress", models.StatusInProgress, Event{Kind: EventCancel, Reason: models.CancelByDriver}},
		{"advance completed", models.StatusCompleted, Event{Kind: EventAdvance}},
		{"cancel canceled", models.StatusCanceled, Event{Kind: EventCancel, Reason: models.CancelByRider}},
		{"driver cancel unassigned", models.StatusRequested, Event{Kind: EventCancel, Reason: models.CancelByDriver}},
		{"complete from arrived", models.StatusArrived, Event{Kind: EventComplete}},
	}
	for _, tc := range cases {
		_, err := Plan(booking(tc.from), tc.ev, opts())
		if !errors.Is(err, models.ErrInvalidTransition) {
			t.Errorf("%s: expected invalid transition, got %v", tc.name, err)
		}
	}
}

func TestPlanValidation(t *testing.T) {
	if _, err := Plan(booking(models.StatusRequested), Event{Kind: EventAssign}, opts()); !models.IsValidation(err) {
		t.Fatalf("assign without driver: %v", err)
	}
	if _, err := Plan(booking(models.StatusAssigned), Event{Kind: EventCancel}, opts()); !models.IsValidation(err) {
		t.Fatalf("cancel without reason: %v", err)
	}
	if _, err := Plan(booking(models.StatusAssigned), Event{Kind: EventCancel, Reason: models.CancelByDriver, DriverID: "other"}, opts()); !models.IsValidation(err) {
		t.Fatalf("cancel by foreign driver: %v", err)
	}
	neg := &models.Money{Amount: -1}
	if _, err := Plan(booking(models.StatusInProgress), Event{Kind: EventComplete, FinalFare: neg}, opts()); !models.IsValidation(err) {
		t.Fatalf("negative fare: %v", err)
	}
}

func TestPlanAssign(t *testing.T) {
	tr, err := Plan(booking(models.StatusRequested), Event{Kind: EventAssign, DriverID: "d9"}, opts())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if tr.To != models.StatusAssigned || *tr.Change.DriverID != "d9" {
		t.Fatalf("unexpected transition %+v", tr)
	}
	ch := channels(tr)
	if ch["driver:d9"] != models.EventAssigned || ch["dispatch"] != models.EventBookingUpdated {
		t.Fatalf("unexpected notifications %v", ch)
	}
}

func TestPlanAdvanceWalksHappyPath(t *testing.T) {
	want := map[models.Status]models.Status{
		models.StatusAssigned:   models.StatusEnRoute,
		models.StatusEnRoute:    models.StatusArrived,
		models.StatusArrived:    models.StatusInProgress,
		models.StatusInProgress: models.StatusCompleted,
	}
	for from, to := range want {
		tr, err := Plan(booking(from), Event{Kind: EventAdvance}, opts())
		if err != nil {
			t.Fatalf("advance from %s: %v", from, err)
		}
		if tr.To != to {
			t.Fatalf("advance from %s went to %s", from, tr.To)
		}
		ch := channels(tr)
		if _, ok := ch["rider:r1"]; !ok {
			t.Fatalf("rider not notified on %s->%s", from, to)
		}
		if _, ok := ch["dispatch"]; !ok {
			t.Fatalf("dispatch not notified on %s->%s", from, to)
		}
	}
}

func TestRefundAttemptedOnlyForEarlyRiderCancelWithPayment(t *testing.T) {
	for _, from := range []models.Status{models.StatusRequested, models.StatusAssigned, models.StatusEnRoute, models.StatusArrived} {
		for _, reason := range []models.CancelReason{models.CancelByRider, models.CancelByDriver} {
			for _, paid := range []bool{true, false} {
				b := booking(from)
				if paid {
					b.PaymentIntentID = strp("pi_1")
				}
				tr, err := Plan(b, Event{Kind: EventCancel, Reason: reason}, opts())
				if reason == models.CancelByDriver && from == models.StatusRequested {
					if err == nil {
						t.Fatalf("driver cancel from REQUESTED should be rejected")
					}
					continue
				}
				if err != nil {
					t.Fatalf("cancel %s by %s: %v", from, reason, err)
				}
				want := reason == models.CancelByRider && paid && (from == models.StatusRequested || from == models.StatusAssigned)
				if got := len(effectsOf(tr, EffectRefund)) == 1; got != want {
					t.Errorf("refund from=%s reason=%s paid=%v: got %v want %v", from, reason, paid, got, want)
				}
			}
		}
	}
}

func TestRefundAmountPrefersFinalFare(t *testing.T) {
	b := booking(models.StatusAssigned)
	b.PaymentIntentID = strp("pi_1")
	b.FareEstimate = &models.Money{Amount: 1500, Currency: "GBP"}
	tr, _ := Plan(b, Event{Kind: EventCancel, Reason: models.CancelByRider}, opts())
	if got := effectsOf(tr, EffectRefund)[0].Refund.Amount; got == nil || got.Amount != 1500 {
		t.Fatalf("expected estimate, got %+v", got)
	}

	b.FinalFare = &models.Money{Amount: 1800, Currency: "GBP"}
	tr, _ = Plan(b, Event{Kind: EventCancel, Reason: models.CancelByRider}, opts())
	if got := effectsOf(tr, EffectRefund)[0].Refund.Amount; got.Amount != 1800 {
		t.Fatalf("expected final fare, got %+v", got)
	}

	b.FinalFare, b.FareEstimate = nil, nil
	tr, _ = Plan(b, Event{Kind: EventCancel, Reason: models.CancelByRider}, opts())
	if got := effectsOf(tr, EffectRefund)[0].Refund.Amount; got != nil {
		t.Fatalf("expected full refund, got %+v", got)
	}
}

func TestRiderCancelNotifiesAssignedDriver(t *testing.T) {
	tr, err := Plan(booking(models.StatusEnRoute), Event{Kind: EventCancel, Reason: models.CancelByRider}, opts())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, ok := channels(tr)["driver:d1"]; !ok {
		t.Fatal("assigned driver should hear about the cancellation")
	}
	if tr.Change.ClearDriver {
		t.Fatal("rider cancellation keeps the driver on record")
	}
}

func TestDriverCancelClearsDriver(t *testing.T) {
	tr, err := Plan(booking(models.StatusArrived), Event{Kind: EventCancel, Reason: models.CancelByDriver, DriverID: "d1"}, opts())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !tr.Change.ClearDriver || *tr.Change.CanceledBy != models.CancelByDriver {
		t.Fatalf("unexpected change %+v", tr.Change)
	}
	ch := channels(tr)
	if _, ok := ch["driver:d1"]; ok {
		t.Fatal("canceling driver should not be notified")
	}
	if _, ok := ch["rider:r1"]; !ok {
		t.Fatal("rider should be notified")
	}
}

func TestPlanCompleteFare(t *testing.T) {
	b := booking(models.StatusInProgress)
	b.FareEstimate = &models.Money{Amount: 2000, Currency: "GBP"}

	tr, err := Plan(b, Event{Kind: EventComplete}, opts())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if tr.Change.FinalFare.Amount != 2000 {
		t.Fatalf("expected estimate as final fare, got %+v", tr.Change.FinalFare)
	}
	if len(effectsOf(tr, EffectAccounting)) != 1 || len(effectsOf(tr, EffectReceipt)) != 1 {
		t.Fatalf("expected accounting and receipt effects, got %+v", tr.Effects)
	}

	tr, _ = Plan(b, Event{Kind: EventComplete, FinalFare: &models.Money{Amount: 2600, Currency: "GBP"}}, opts())
	if tr.Change.FinalFare.Amount != 2600 {
		t.Fatalf("explicit fare should win, got %+v", tr.Change.FinalFare)
	}

	noReceipts := opts()
	noReceipts.SendReceipts = false
	b.FareEstimate = nil
	tr, _ = Plan(b, Event{Kind: EventComplete}, noReceipts)
	if len(effectsOf(tr, EffectReceipt)) != 0 {
		t.Fatal("receipts disabled")
	}
	if tr.Change.FinalFare.Amount != 0 || tr.Change.FinalFare.Currency != "GBP" {
		t.Fatalf("expected zero GBP fare, got %+v", tr.Change.FinalFare)
	}
}

func TestAccountingRecordSplitsFare(t *testing.T) {
	b := booking(models.StatusCompleted)
	rec := AccountingRecord(b, models.Money{Amount: 2345, Currency: "GBP"}, 0.15)
	if rec.Commission.Amount != 352 || rec.DriverNet.Amount != 1993 {
		t.Fatalf("unexpected split %+v", rec)
	}
	if rec.DriverID != "d1" || rec.Commission.Amount+rec.DriverNet.Amount != rec.Fare.Amount {
		t.Fatalf("unexpected record %+v", rec)
	}
}
