package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(q db.Querier) error) error
}

// Relay moves committed outbox records to the broker.
type Relay struct {
	tx       TxRunner
	pub      events.Publisher
	logger   *zap.Logger
	interval time.Duration
	batch    int
	sent     prometheus.Counter
}

func NewRelay(tx TxRunner, pub events.Publisher, logger *zap.Logger, interval time.Duration, batch int, sent prometheus.Counter) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{tx: tx, pub: pub, logger: logger, interval: interval, batch: batch, sent: sent}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce publishes one batch and returns how many records were marked
// sent. Publishing stops at the first failure so per-order ordering holds;
// the remaining records are retried on the next tick.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	sent := 0
	err := r.tx.InTx(ctx, func(q db.Querier) error {
		records, err := FetchPending(ctx, q, r.batch)
		if err != nil {
			return err
		}

		for _, rec := range records {
			msg := events.Message{
				EventID: rec.EventID,
				Topic:   rec.Topic,
				Key:     rec.PartitionKey,
				Body:    rec.Payload,
			}
			if err := r.pub.Publish(ctx, msg); err != nil {
				r.logger.Warn("publish outbox record",
					zap.Int64("outbox_id", rec.ID),
					zap.String("topic", rec.Topic),
					zap.Error(err))
				break
			}
			if err := MarkSent(ctx, q, rec.ID); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if r.sent != nil && sent > 0 {
		r.sent.Add(float64(sent))
	}
	return sent, nil
}
