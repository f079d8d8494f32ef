// Package outbox drains committed outbox events into the realtime hub.
package outbox

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"cityhall/appointment-service/internal/hub"
	"cityhall/appointment-service/internal/store"
)

// Envelope is the wire shape broadcast to realtime clients.
type Envelope struct {
	Type         string          `json:"type"`
	DepartmentID string          `json:"department_id"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Source lists outbox events created after a watermark, oldest first.
type Source interface {
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

// Broadcaster is the hub surface the poller needs.
type Broadcaster interface {
	Broadcast(payload []byte, meta hub.Subscription)
}

// Poller polls the outbox table and fans new events out to the hub.
//
// created_at is assigned before a transaction commits, so a plain
// created_at watermark could step past a row whose transaction commits
// after later rows were already read. Each query therefore starts a
// grace window behind the newest seen event, and the seen set filters
// the rows the overlap window re-reads. Only a transaction held open
// longer than the grace window can still slip through, and clients
// re-fetch the queue on every hint anyway.
type Poller struct {
	source    Source
	sink      Broadcaster
	interval  time.Duration
	batchSize int
	grace     time.Duration

	watermark time.Time
	seen      map[string]time.Time
}

const defaultGrace = 5 * time.Second

// NewPoller starts tracking from now; events written before process
// boot are not replayed.
func NewPoller(source Source, sink Broadcaster, interval time.Duration, batchSize int) *Poller {
	return &Poller{
		source:    source,
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
		grace:     defaultGrace,
		watermark: time.Now().UTC(),
		seen:      make(map[string]time.Time),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	events, err := p.source.ListOutboxEvents(queryCtx, p.watermark.Add(-p.grace), p.batchSize)
	cancel()
	if err != nil {
		log.Printf("outbox poll error: %v", err)
		return
	}
	for _, event := range p.fresh(events) {
		payload, err := json.Marshal(Envelope{
			Type:         event.Type,
			DepartmentID: event.DepartmentID,
			Payload:      event.Payload,
			CreatedAt:    event.CreatedAt,
		})
		if err != nil {
			log.Printf("outbox marshal error: %v", err)
			continue
		}
		p.sink.Broadcast(payload, hub.Subscription{DepartmentID: event.DepartmentID})
	}
}

// fresh drops events already delivered on an earlier round, advances
// the watermark, and prunes seen entries the overlap window can no
// longer return.
func (p *Poller) fresh(events []store.OutboxEvent) []store.OutboxEvent {
	var out []store.OutboxEvent
	for _, event := range events {
		if _, ok := p.seen[event.EventID]; ok {
			continue
		}
		p.seen[event.EventID] = event.CreatedAt
		if event.CreatedAt.After(p.watermark) {
			p.watermark = event.CreatedAt
		}
		out = append(out, event)
	}
	cutoff := p.watermark.Add(-p.grace)
	for id, createdAt := range p.seen {
		if createdAt.Before(cutoff) {
			delete(p.seen, id)
		}
	}
	return out
}
