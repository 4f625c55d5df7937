// Package receipts renders ride receipts and hands them to the mail pipeline.
package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phpdave11/gofpdf"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Render produces a one-page PDF receipt.
func Render(r models.Receipt) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Ride receipt", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "RIDE RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		"Booking    : " + r.BookingID,
		"Completed  : " + r.CompletedAt.Format("2006-01-02 15:04 MST"),
		"Pickup     : " + orDash(r.Pickup),
		"Drop-off   : " + orDash(r.Dropoff),
	}
	if r.DistanceKm != nil {
		lines = append(lines, fmt.Sprintf("Distance   : %.1f km", *r.DistanceKm))
	}
	if r.DurationMin != nil {
		lines = append(lines, fmt.Sprintf("Duration   : %.0f min", *r.DurationMin))
	}
	for _, s := range lines {
		pdf.Cell(0, 7, tr(s))
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Total: "+r.Fare.String())
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Thank you for riding with us. Keep this receipt for your records.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", r.BookingID, err)
	}
	return buf.Bytes(), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the message consumed by the mail pipeline.
type Envelope struct {
	Receipt  models.Receipt `json:"receipt"`
	Filename string         `json:"filename"`
	PDF      []byte         `json:"pdf"`
}

// KafkaSender publishes rendered receipts to a topic. Delivery is owned by
// the consumer.
type KafkaSender struct {
	w messageWriter
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSender) Send(ctx context.Context, r models.Receipt) error {
	env, err := envelope(r)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.w.WriteMessages(ctx, kafka.Message{Key: []byte(r.BookingID), Value: b}); err != nil {
		return fmt.Errorf("receipt publish %s: %w", r.BookingID, err)
	}
	return nil
}

func (s *KafkaSender) Close() error { return s.w.Close() }

// LogSender renders receipts and only logs them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, r models.Receipt) error {
	env, err := envelope(r)
	if err != nil {
		return err
	}
	s.Logger.Info("receipt rendered", "booking_id", r.BookingID, "to", r.RiderEmail, "bytes", len(env.PDF))
	return nil
}

func envelope(r models.Receipt) (Envelope, error) {
	pdf, err := Render(r)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Receipt: r, Filename: "receipt-" + r.BookingID + ".pdf", PDF: pdf}, nil
}
