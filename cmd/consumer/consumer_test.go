package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeWriter fails the first failN upserts.
type fakeWriter struct {
	failN int
	err   error
	calls int
	last  models.Driver
}

func (f *fakeWriter) Upsert(_ context.Context, d models.Driver) error {
	f.calls++
	if f.calls <= f.failN {
		if f.err != nil {
			return f.err
		}
		return errors.New("redis unavailable")
	}
	f.last = d
	return nil
}

func heartbeat() models.Driver {
	r := 4.5
	return models.Driver{ID: "d1", Online: true, Loc: &models.Coord{Lat: 1, Lon: 2}, Rating: &r}
}

func TestUpsertWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeWriter{failN: 2}
	start := time.Now()
	if err := upsertWithRetry(context.Background(), f, heartbeat(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 || f.last.ID != "d1" {
		t.Fatalf("expected 3 calls ending in d1, got %d (%+v)", f.calls, f.last)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestUpsertWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeWriter{failN: 5}
	if err := upsertWithRetry(context.Background(), f, heartbeat(), 3, time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestUpsertWithRetry_ValidationNotRetried(t *testing.T) {
	f := &fakeWriter{failN: 5, err: &models.ValidationError{Field: "id", Msg: "required"}}
	if err := upsertWithRetry(context.Background(), f, heartbeat(), 3, time.Millisecond); !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("validation errors should not be retried, got %d calls", f.calls)
	}
}

func TestUpsertWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeWriter{failN: 5}
	if err := upsertWithRetry(ctx, f, heartbeat(), 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	d, err := decodeHeartbeat([]byte(`{"id":"d9","online":true,"loc":{"lat":51.5,"lon":-0.1},"wheelchairCapable":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.ID != "d9" || !d.WheelchairCapable || d.Loc == nil || d.Loc.Lat != 51.5 {
		t.Fatalf("unexpected driver %+v", d)
	}
	if _, err := decodeHeartbeat([]byte(`{"online":true}`)); err == nil {
		t.Fatal("missing id should be rejected")
	}
	if _, err := decodeHeartbeat([]byte(`not json`)); err == nil {
		t.Fatal("garbage should be rejected")
	}
}
