package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
)

const (
	ChannelIPN    = "ipn"
	ChannelReturn = "return"
)

// Notification is the audit row for one verified gateway request.
type Notification struct {
	Provider      string
	Channel       string
	OrderCode     string
	TransactionID string
	ResponseCode  string
	Outcome       string
	Params        url.Values
	ReceivedAt    time.Time
}

type NotificationLog interface {
	Append(ctx context.Context, n Notification) error
}

type PostgresNotificationLog struct {
	pool db.Querier
}

func NewPostgresNotificationLog(pool db.Querier) *PostgresNotificationLog {
	return &PostgresNotificationLog{pool: pool}
}

func (l *PostgresNotificationLog) Append(ctx context.Context, n Notification) error {
	flat := make(map[string]string, len(n.Params))
	for k := range n.Params {
		flat[k] = n.Params.Get(k)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO payment_notifications (provider, channel, order_code, transaction_id, response_code, outcome, params, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.Provider, n.Channel, n.OrderCode, n.TransactionID, n.ResponseCode, n.Outcome, raw, n.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert payment_notification: %w", err)
	}
	return nil
}
