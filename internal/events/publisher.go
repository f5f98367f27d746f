package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

// Message is one outbox record ready for the broker.
type Message struct {
	EventID string
	Topic   string
	Key     string
	Body    []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher sends messages to the topic exchange, routed by topic name.
type RabbitPublisher struct {
	ch   amqpChannel
	conn *amqp.Connection
}

func NewRabbitPublisher(conn *amqp.Connection) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return &RabbitPublisher{ch: ch, conn: conn}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		msg.Topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.EventID,
			Headers:      amqp.Table{"partitionKey": msg.Key},
			Body:         msg.Body,
		},
	)
}

// Close closes the channel and the connection it was opened on.
func (p *RabbitPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each message to a Kafka topic named after its
// routing key, keyed by partition key so one order stays ordered.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(msg.EventID)},
			{Key: "event_type", Value: []byte(EventName(msg.Topic))},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
