package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cityhall/appointment-service/internal/hub"
	"cityhall/appointment-service/internal/store"
)

func event(id string, createdAt time.Time) store.OutboxEvent {
	return store.OutboxEvent{
		EventID:      id,
		DepartmentID: "11111111-1111-1111-1111-111111111111",
		Type:         "appointment.created",
		Payload:      json.RawMessage(`{}`),
		CreatedAt:    createdAt,
	}
}

func TestFreshDeliversLateCommitsOnce(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	p := NewPoller(nil, nil, time.Second, 100)
	p.watermark = base

	a := event("a", base.Add(1*time.Second))
	b := event("b", base.Add(2*time.Second))
	first := p.fresh([]store.OutboxEvent{a, b})
	if len(first) != 2 {
		t.Fatalf("expected 2 new events, got %d", len(first))
	}

	// Next round overlaps: b comes back, plus an event whose
	// transaction committed after b was already read even though its
	// created_at is earlier.
	late := event("late", base.Add(1500*time.Millisecond))
	second := p.fresh([]store.OutboxEvent{b, late})
	if len(second) != 1 || second[0].EventID != "late" {
		t.Fatalf("expected only the late event, got %v", second)
	}

	// A third overlap delivers nothing twice.
	if third := p.fresh([]store.OutboxEvent{b, late}); len(third) != 0 {
		t.Fatalf("expected no repeats, got %v", third)
	}
}

func TestFreshAdvancesWatermarkAndPrunes(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	p := NewPoller(nil, nil, time.Second, 100)
	p.watermark = base

	p.fresh([]store.OutboxEvent{event("a", base.Add(time.Second))})
	if !p.watermark.Equal(base.Add(time.Second)) {
		t.Fatalf("watermark not advanced: %v", p.watermark)
	}

	// Once the watermark moves past the grace window the old entry is
	// pruned from the seen set.
	p.fresh([]store.OutboxEvent{event("b", base.Add(time.Minute))})
	if _, ok := p.seen["a"]; ok {
		t.Fatal("expected entry a to be pruned")
	}
	if _, ok := p.seen["b"]; !ok {
		t.Fatal("expected entry b to be retained")
	}
}

type fakeSource struct {
	gotAfter time.Time
	gotLimit int
	events   []store.OutboxEvent
}

func (f *fakeSource) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	f.gotAfter = after
	f.gotLimit = limit
	return f.events, nil
}

type fakeSink struct {
	payloads [][]byte
	metas    []hub.Subscription
}

func (f *fakeSink) Broadcast(payload []byte, meta hub.Subscription) {
	f.payloads = append(f.payloads, payload)
	f.metas = append(f.metas, meta)
}

func TestPollOnceBroadcastsEnvelopes(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{events: []store.OutboxEvent{event("a", base.Add(time.Second))}}
	sink := &fakeSink{}
	p := NewPoller(source, sink, time.Second, 50)
	p.watermark = base

	p.pollOnce(context.Background())

	if !source.gotAfter.Equal(base.Add(-p.grace)) {
		t.Fatalf("expected query from %v, got %v", base.Add(-p.grace), source.gotAfter)
	}
	if source.gotLimit != 50 {
		t.Fatalf("expected batch size 50, got %d", source.gotLimit)
	}
	if len(sink.payloads) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(sink.payloads))
	}
	if sink.metas[0].DepartmentID != "11111111-1111-1111-1111-111111111111" {
		t.Fatalf("unexpected meta: %v", sink.metas[0])
	}

	var env Envelope
	if err := json.Unmarshal(sink.payloads[0], &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != "appointment.created" || !env.CreatedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// The same round re-read changes nothing.
	p.pollOnce(context.Background())
	if len(sink.payloads) != 1 {
		t.Fatalf("expected no repeat broadcast, got %d", len(sink.payloads))
	}
}
