package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeWriter struct{ msgs []kafka.Message }

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishHeartbeat(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	d := models.Driver{ID: "d1", Online: true, Loc: &models.Coord{Lat: 1, Lon: 2}, WheelchairCapable: true}
	if err := p.PublishHeartbeat(context.Background(), d); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "d1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var got models.Driver
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || !got.WheelchairCapable || got.Loc.Lon != 2 {
		t.Fatalf("unexpected payload %s (%v)", w.msgs[0].Value, err)
	}
}
