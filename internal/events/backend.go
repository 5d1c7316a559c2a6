package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// RedisBackend mirrors events over Redis pub/sub. Suited to low-latency
// fan-out to other processes on the same deployment.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects a Redis-backed event mirror.
func NewRedisBackend(addr string) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (r *RedisBackend) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Close releases the Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// KafkaBackend mirrors events to a Kafka topic for durable consumers.
type KafkaBackend struct {
	writer *kafka.Writer
}

// NewKafkaBackend connects a Kafka-backed event mirror.
func NewKafkaBackend(brokers []string, topic string) *KafkaBackend {
	return &KafkaBackend{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaBackend) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: data,
	})
}

// Close flushes and closes the Kafka writer.
func (k *KafkaBackend) Close() error {
	return k.writer.Close()
}
