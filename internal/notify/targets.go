package notify

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// NATSTarget publishes event payloads to a NATS subject.
type NATSTarget struct {
	conn    *nats.Conn
	subject string
}

func NewNATSTarget(url, subject string) (*NATSTarget, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSTarget{conn: conn, subject: subject}, nil
}

func (t *NATSTarget) Name() string { return "nats" }

func (t *NATSTarget) Publish(_ context.Context, payload []byte) error {
	return t.conn.Publish(t.subject, payload)
}

func (t *NATSTarget) Close() error {
	t.conn.Close()
	return nil
}

// KafkaTarget publishes event payloads to a Kafka topic.
type KafkaTarget struct {
	writer *kafka.Writer
}

func NewKafkaTarget(brokers []string, topic string) *KafkaTarget {
	return &KafkaTarget{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
	}}
}

func (t *KafkaTarget) Name() string { return "kafka" }

func (t *KafkaTarget) Publish(ctx context.Context, payload []byte) error {
	return t.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

func (t *KafkaTarget) Close() error { return t.writer.Close() }

// RedisTarget publishes event payloads to a Redis pub/sub channel and,
// optionally, onto a list for queue-style consumers.
type RedisTarget struct {
	client  *redis.Client
	channel string
	listKey string
}

func NewRedisTarget(addr, channel, listKey string) *RedisTarget {
	return &RedisTarget{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		listKey: listKey,
	}
}

func (t *RedisTarget) Name() string { return "redis" }

func (t *RedisTarget) Publish(ctx context.Context, payload []byte) error {
	if t.channel != "" {
		if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
			return err
		}
	}
	if t.listKey != "" {
		if err := t.client.LPush(ctx, t.listKey, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (t *RedisTarget) Close() error { return t.client.Close() }
