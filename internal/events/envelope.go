package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is bumped only for breaking changes to the wrapper
// itself; payload changes get a new event name.
const EnvelopeVersion = 1

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope wraps every checkout event. Consumers order events of one order
// by Sequence within PartitionKey.
type Envelope[T any] struct {
	EventName     string    `json:"eventName"`
	EventVersion  int       `json:"eventVersion"`
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Producer      string    `json:"producer"`
	PartitionKey  string    `json:"partitionKey"`
	Sequence      *int64    `json:"sequence,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	Schema        string    `json:"schema"`
	Payload       T         `json:"payload"`
}

// Meta carries the tracing and partitioning fields of an envelope.
type Meta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
}

func NewEnvelope[T any](name string, meta Meta, seq int64, producer string, payload T, occurredAt time.Time) Envelope[T] {
	env := Envelope[T]{
		EventName:    name,
		EventVersion: EnvelopeVersion,
		EventID:      uuid.NewString(),
		Producer:     producer,
		OccurredAt:   occurredAt.UTC(),
		Schema:       schemaPath(name),
		Payload:      payload,
		Sequence:     &seq,
	}
	env.CorrelationID, env.CausationID, env.PartitionKey = meta.CorrelationID, meta.CausationID, meta.PartitionKey
	return env
}

func schemaPath(name string) string {
	return "events/" + name + ".v1.json"
}

// Validate reports every problem with the envelope at once, wrapped in
// ErrInvalidEnvelope.
func (e Envelope[T]) Validate(name string, version int) error {
	var problems []string
	if e.EventName != name {
		problems = append(problems, fmt.Sprintf("eventName %q, want %q", e.EventName, name))
	}
	if e.EventVersion != version {
		problems = append(problems, fmt.Sprintf("eventVersion %d, want %d", e.EventVersion, version))
	}
	if e.EventID == "" {
		problems = append(problems, "eventId missing")
	}
	if e.PartitionKey == "" {
		problems = append(problems, "partitionKey missing")
	}
	if e.Sequence == nil || *e.Sequence < 1 {
		problems = append(problems, "sequence missing")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(problems, "; "))
	}
	return nil
}

type (
	correlationKey struct{}
	causationKey   struct{}
)

// WithCorrelationID stores the request correlation id for events recorded
// while handling that request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCausationID stores the id of the message that caused the events
// recorded under ctx, such as a gateway transaction.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey{}, id)
}

func CausationID(ctx context.Context) string {
	if id, ok := ctx.Value(causationKey{}).(string); ok {
		return id
	}
	return ""
}
