package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"agrivet/m/domain"
)

// Sink delivers alerts to something outside the process.
type Sink interface {
	Name() string
	Publish(ctx context.Context, a domain.Alert) error
	Close() error
}

// RedisSink publishes alert JSON on a pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, a domain.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }

// KafkaSink writes alerts to a topic keyed by medicine id, so alerts for one
// medicine stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink constructs a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, a domain.Alert) error {
	msg, err := kafkaMessage(a)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", s.writer.Topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

func kafkaMessage(a domain.Alert) (kafka.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal alert: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(a.MedicineID, 10)),
		Value: data,
		Time:  a.Timestamp,
		Headers: []kafka.Header{
			{Key: "alert-type", Value: []byte(a.Type)},
			{Key: "alert-priority", Value: []byte(a.Priority)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

// breakerSink stops calling a failing sink until its breaker half-opens.
type breakerSink struct {
	Sink
	cb *gobreaker.CircuitBreaker
}

// WithBreaker wraps s in a circuit breaker that opens after
// failureThreshold consecutive failures and retries after openFor.
func WithBreaker(s Sink, failureThreshold uint32, openFor time.Duration, onChange func(name string, from, to gobreaker.State)) Sink {
	settings := gobreaker.Settings{
		Name:        s.Name(),
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: onChange,
	}
	return &breakerSink{Sink: s, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerSink) Publish(ctx context.Context, a domain.Alert) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.Sink.Publish(ctx, a)
	})
	return err
}
