package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plagiscan/internal/config"
)

// RedisQueue hands document ids from the API to workers. Ids move from the
// ready list into an in-flight set with a visibility deadline and are removed
// on Ack; ids whose deadline passes are pushed back to the ready list.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue builds a queue on client using the key prefix and visibility timeout from cfg.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = "plagiscan"
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      fmt.Sprintf("%s:queue:ready", prefix),
		inflightKey:   fmt.Sprintf("%s:queue:inflight", prefix),
		dlqKey:        fmt.Sprintf("%s:queue:dlq", prefix),
		visibilityTTL: visibility,
	}
}

// Submit appends a document id to the ready list.
func (q *RedisQueue) Submit(ctx context.Context, documentID string) error {
	if err := q.client.RPush(ctx, q.readyKey, documentID).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", documentID, err)
	}
	return nil
}

// DequeueWithLease pops the next id and records it as in flight until the
// visibility deadline. It returns "" when the ready list is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return id, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight id.
func (q *RedisQueue) ExtendLease(ctx context.Context, documentID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: documentID,
	}).Err()
}

// Ack removes an id from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, documentID string) error {
	return q.client.ZRem(ctx, q.inflightKey, documentID).Err()
}

// RequeueExpired moves ids whose lease ran out back onto the ready list and returns them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := requeueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit).Result()
	if err != nil {
		return nil, err
	}
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from requeue script: %T", res)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// DLQPush records an id the worker could not process for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, documentID string) error {
	return q.client.RPush(ctx, q.dlqKey, documentID).Err()
}

// DLQPeek reads the oldest dead-lettered ids.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlight returns the number of leased ids.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)

var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return ids
`)
