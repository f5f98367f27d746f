package sequence

import (
	"context"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

// Repository hands out producer-side sequence numbers per partition key.
// It runs on the caller's Querier so the increment commits or rolls back
// with the event it numbers.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) NextSequence(ctx context.Context, q db.Querier, partitionKey string) (int64, error) {
	var seq int64
	if err := q.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, partitionKey).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}
