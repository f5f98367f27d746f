package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
)

type fixedSequencer struct{ next int64 }

func (s *fixedSequencer) NextSequence(context.Context, db.Querier, string) (int64, error) {
	s.next++
	return s.next, nil
}

type bodyCapture struct {
	body []byte
}

func (b *bodyCapture) Match(v any) bool {
	raw, ok := v.([]byte)
	if ok {
		b.body = raw
	}
	return ok
}

func TestRecorder_WritesEnvelope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	capture := &bodyCapture{}
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), events.OrderPlacedRoutingKey, "order-1", capture).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewRecorder(&fixedSequencer{}, "checkout-service")
	rec.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := events.WithCorrelationID(context.Background(), "corr-9")
	ctx = events.WithCausationID(ctx, "TXN-42")
	err = rec.Record(ctx, mock, events.OrderPlacedRoutingKey, "order-1", map[string]string{"orderId": "order-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	var env events.Envelope[map[string]string]
	require.NoError(t, json.Unmarshal(capture.body, &env))
	require.NoError(t, env.Validate(events.EventTypeOrderPlaced, 1))
	assert.Equal(t, "corr-9", env.CorrelationID)
	assert.Equal(t, "TXN-42", env.CausationID)
	assert.Equal(t, "checkout-service", env.Producer)
	assert.Equal(t, int64(1), *env.Sequence)
	assert.Equal(t, "order-1", env.Payload["orderId"])
}

func TestRecorder_RejectsEnvelopeWithoutPartitionKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := NewRecorder(&fixedSequencer{}, "checkout-service")
	err = rec.Record(context.Background(), mock, events.OrderPlacedRoutingKey, "", map[string]string{})

	require.ErrorIs(t, err, events.ErrInvalidEnvelope)
	require.NoError(t, mock.ExpectationsWereMet())
}

type stubPublisher struct {
	published []events.Message
	failOn    string
}

func (p *stubPublisher) Publish(_ context.Context, msg events.Message) error {
	if msg.EventID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func pendingRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "event_id", "topic", "partition_key", "payload"}).
		AddRow(int64(1), "e1", events.OrderPlacedRoutingKey, "order-1", json.RawMessage(`{"a":1}`)).
		AddRow(int64(2), "e2", events.OrderStatusChangedRoutingKey, "order-1", json.RawMessage(`{"a":2}`)).
		AddRow(int64(3), "e3", events.OrderCancelledRoutingKey, "order-1", json.RawMessage(`{"a":3}`))
}

func TestRelay_RunOnceStopsAtFirstFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox").WithArgs(10).WillReturnRows(pendingRows())
	mock.ExpectExec("UPDATE outbox SET sent_at").WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	pub := &stubPublisher{failOn: "e2"}
	sent := prometheus.NewCounter(prometheus.CounterOpts{Name: "sent"})
	relay := NewRelay(db.NewTxRunner(mock), pub, zap.NewNop(), time.Second, 10, sent)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "order-1", pub.published[0].Key)
	assert.JSONEq(t, `{"a":1}`, string(pub.published[0].Body))
	assert.Equal(t, float64(1), testutil.ToFloat64(sent))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_RunOncePublishesWholeBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox").WithArgs(100).WillReturnRows(pendingRows())
	for id := int64(1); id <= 3; id++ {
		mock.ExpectExec("UPDATE outbox SET sent_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
	mock.ExpectCommit()

	pub := &stubPublisher{}
	relay := NewRelay(db.NewTxRunner(mock), pub, zap.NewNop(), 0, 0, nil)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
