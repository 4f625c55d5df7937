package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func seed(t *testing.T, m *MemoryStore) models.Booking {
	t.Helper()
	b := models.Booking{ID: "b1", Status: models.StatusRequested, RiderID: "r1", PinCode: 4242}
	if err := m.Create(context.Background(), &b); err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	m := NewMemoryStore()
	b := seed(t, m)
	if err := m.Create(context.Background(), &b); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreTransitionChecksStatusAndVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seed(t, m)
	driver := "d1"
	at := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	got, err := m.Transition(ctx, "b1", Expect{Status: models.StatusRequested, Version: 0},
		Change{To: models.StatusAssigned, DriverID: &driver, At: at})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != models.StatusAssigned || got.Version != 1 || *got.DriverID != "d1" || !got.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected booking %+v", got)
	}

	// stale version
	if _, err := m.Transition(ctx, "b1", Expect{Status: models.StatusAssigned, Version: 0},
		Change{To: models.StatusEnRoute, At: at}); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
	// stale status
	if _, err := m.Transition(ctx, "b1", Expect{Status: models.StatusRequested, Version: 1},
		Change{To: models.StatusAssigned, DriverID: &driver, At: at}); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict on stale status, got %v", err)
	}
	if _, err := m.Transition(ctx, "nope", Expect{}, Change{}); !models.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreClearDriver(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seed(t, m)
	driver := "d1"
	_, _ = m.Transition(ctx, "b1", Expect{Status: models.StatusRequested}, Change{To: models.StatusAssigned, DriverID: &driver})
	reason := models.CancelByDriver
	got, err := m.Transition(ctx, "b1", Expect{Status: models.StatusAssigned, Version: 1},
		Change{To: models.StatusCanceled, ClearDriver: true, CanceledBy: &reason})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.DriverID != nil || got.CanceledBy == nil || *got.CanceledBy != models.CancelByDriver {
		t.Fatalf("unexpected booking %+v", got)
	}
}

func TestMemoryStoreGetIsDetached(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seed(t, m)
	driver := "d1"
	_, _ = m.Transition(ctx, "b1", Expect{Status: models.StatusRequested}, Change{To: models.StatusAssigned, DriverID: &driver})

	b, _ := m.Get(ctx, "b1")
	*b.DriverID = "mutated"
	again, _ := m.Get(ctx, "b1")
	if *again.DriverID != "d1" {
		t.Fatalf("stored booking was mutated through a returned copy")
	}
}

func TestMemoryStoreConcurrentAssignExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seed(t, m)

	const workers = 32
	var wins, conflicts int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			driver := string(rune('a' + i%26))
			_, err := m.Transition(ctx, "b1", Expect{Status: models.StatusRequested, Version: 0},
				Change{To: models.StatusAssigned, DriverID: &driver})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, models.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d/%d", workers-1, wins, conflicts)
	}
	b, _ := m.Get(ctx, "b1")
	if b.Version != 1 || b.DriverID == nil {
		t.Fatalf("unexpected final state %+v", b)
	}
}

func TestMemoryStoreRiderEmail(t *testing.T) {
	m := NewMemoryStore()
	m.SetRiderEmail("r1", "rider@example.com")
	if e, err := m.RiderEmail(context.Background(), "r1"); err != nil || e != "rider@example.com" {
		t.Fatalf("got %q, %v", e, err)
	}
	if _, err := m.RiderEmail(context.Background(), "r2"); !models.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
