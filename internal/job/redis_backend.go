package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the durable FIFO underneath DripQueue.
// Claimed payloads stay in a processing list until acknowledged.
type Backend interface {
	// Push appends payload to the tail of the pending list
	Push(ctx context.Context, payload []byte) error

	// Claim moves the head of the pending list to the processing list.
	// It returns nil, nil when nothing arrived within wait.
	Claim(ctx context.Context, wait time.Duration) ([]byte, error)

	// Ack removes a claimed payload from the processing list
	Ack(ctx context.Context, payload []byte) error

	// InFlight lists claimed payloads that were never acknowledged
	InFlight(ctx context.Context) ([][]byte, error)

	// Lengths returns the sizes of the pending and processing lists
	Lengths(ctx context.Context) (pending int64, processing int64, err error)
}

// RedisBackend implements Backend with two Redis lists using the reliable queue pattern
type RedisBackend struct {
	client        *redis.Client
	pendingKey    string
	processingKey string
}

// NewRedisBackend creates a backend whose keys are namespaced by queue name
func NewRedisBackend(client *redis.Client, queueName string) *RedisBackend {
	if queueName == "" {
		queueName = "transaction"
	}
	return &RedisBackend{
		client:        client,
		pendingKey:    fmt.Sprintf("faucet:%s:pending", queueName),
		processingKey: fmt.Sprintf("faucet:%s:processing", queueName),
	}
}

// Push appends payload to the pending list
func (b *RedisBackend) Push(ctx context.Context, payload []byte) error {
	if err := b.client.LPush(ctx, b.pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// Claim pops the oldest pending payload into the processing list
func (b *RedisBackend) Claim(ctx context.Context, wait time.Duration) ([]byte, error) {
	payload, err := b.client.BLMove(ctx, b.pendingKey, b.processingKey, "RIGHT", "LEFT", wait).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return payload, nil
}

// Ack removes payload from the processing list
func (b *RedisBackend) Ack(ctx context.Context, payload []byte) error {
	if err := b.client.LRem(ctx, b.processingKey, 1, payload).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// InFlight returns the processing list, oldest claim first
func (b *RedisBackend) InFlight(ctx context.Context) ([][]byte, error) {
	items, err := b.client.LRange(ctx, b.processingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight jobs: %w", err)
	}

	payloads := make([][]byte, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		payloads = append(payloads, []byte(items[i]))
	}
	return payloads, nil
}

// Lengths returns the pending and processing list sizes
func (b *RedisBackend) Lengths(ctx context.Context) (int64, int64, error) {
	pipe := b.client.Pipeline()
	pending := pipe.LLen(ctx, b.pendingKey)
	processing := pipe.LLen(ctx, b.processingKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue lengths: %w", err)
	}
	return pending.Val(), processing.Val(), nil
}
