package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
)

type Record struct {
	ID           int64
	EventID      string
	Topic        string
	PartitionKey string
	Payload      json.RawMessage
}

type Sequencer interface {
	NextSequence(ctx context.Context, q db.Querier, partitionKey string) (int64, error)
}

// Recorder writes enveloped events to the outbox table on the caller's
// transaction, so an event exists if and only if its state change commits.
type Recorder struct {
	seq      Sequencer
	producer string
	now      func() time.Time
}

func NewRecorder(seq Sequencer, producer string) *Recorder {
	return &Recorder{seq: seq, producer: producer, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, q db.Querier, topic, partitionKey string, payload any) error {
	seq, err := r.seq.NextSequence(ctx, q, partitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	meta := events.Meta{
		CorrelationID: events.CorrelationID(ctx),
		CausationID:   events.CausationID(ctx),
		PartitionKey:  partitionKey,
	}
	name := events.EventName(topic)
	env := events.NewEnvelope(name, meta, seq, r.producer, payload, r.now())
	if err := env.Validate(name, events.EnvelopeVersion); err != nil {
		return fmt.Errorf("record %s: %w", topic, err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", topic, err)
	}

	return Insert(ctx, q, env.EventID, topic, partitionKey, body)
}

func Insert(ctx context.Context, q db.Querier, eventID, topic, key string, body []byte) error {
	_, err := q.Exec(ctx,
		`INSERT INTO outbox (event_id, topic, partition_key, payload) VALUES ($1, $2, $3, $4)`,
		eventID, topic, key, body)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// FetchPending locks up to limit unsent records; concurrent relays skip
// rows another relay already holds.
func FetchPending(ctx context.Context, q db.Querier, limit int) ([]Record, error) {
	rows, err := q.Query(ctx, `
		SELECT id, event_id, topic, partition_key, payload
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.PartitionKey, &rec.Payload); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func MarkSent(ctx context.Context, q db.Querier, id int64) error {
	_, err := q.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = $1`, id)
	return err
}
