package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Recorder interface {
	Record(ctx context.Context, rec models.AccountingRecord) error
}

// Tee records to every ledger and joins their errors.
type Tee []Recorder

func (t Tee) Record(ctx context.Context, rec models.AccountingRecord) error {
	var errs []error
	for _, r := range t {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KafkaLedger appends accounting records to a topic keyed by driver id, so
// each driver's earnings stay ordered within a partition.
type KafkaLedger struct {
	w messageWriter
}

func NewKafkaLedger(brokers []string, topic string) *KafkaLedger {
	return &KafkaLedger{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (l *KafkaLedger) Record(ctx context.Context, rec models.AccountingRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(rec.DriverID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("accounting_record")},
			{Key: "booking_id", Value: []byte(rec.BookingID)},
		},
	}
	if err := l.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("ledger write %s: %w", rec.BookingID, err)
	}
	return nil
}

func (l *KafkaLedger) Close() error { return l.w.Close() }

// Summary aggregates a driver's completed rides.
type Summary struct {
	DriverID   string       `json:"driverId"`
	Rides      int          `json:"rides"`
	Gross      models.Money `json:"gross"`
	Commission models.Money `json:"commission"`
	Net        models.Money `json:"net"`
}

// MemoryLedger keeps records in process. It backs local runs without Kafka
// and serves driver earnings summaries.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []models.AccountingRecord
	seen    map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

// Record ignores a second record for the same booking.
func (m *MemoryLedger) Record(_ context.Context, rec models.AccountingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[rec.BookingID]; dup {
		return nil
	}
	m.seen[rec.BookingID] = struct{}{}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryLedger) Earnings(driverID string) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Summary{DriverID: driverID}
	for _, r := range m.records {
		if r.DriverID != driverID {
			continue
		}
		s.Rides++
		s.Gross.Amount += r.Fare.Amount
		s.Commission.Amount += r.Commission.Amount
		s.Net.Amount += r.DriverNet.Amount
		s.Gross.Currency, s.Commission.Currency, s.Net.Currency = r.Fare.Currency, r.Fare.Currency, r.Fare.Currency
	}
	return s
}
