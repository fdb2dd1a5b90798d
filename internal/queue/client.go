package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// QueueName is the Redis list batch tasks travel through.
const QueueName = "mailgauge:tasks"

// Task is one unit of batch work: a single address from an upload.
type Task struct {
	JobID      string `json:"job_id"`
	Email      string `json:"email"`
	Aggressive bool   `json:"aggressive"`
}

// Queue wraps the Redis connection used for batch fan-out between the
// API and the workers.
type Queue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(addr string, log zerolog.Logger) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Queue{rdb: rdb, log: log.With().Str("component", "queue").Logger()}, nil
}

// Enqueue pushes one task per address in a single pipeline round trip.
func (q *Queue) Enqueue(ctx context.Context, jobID string, emails []string, aggressive bool) error {
	pipe := q.rdb.Pipeline()
	for _, email := range emails {
		payload, err := json.Marshal(Task{JobID: jobID, Email: email, Aggressive: aggressive})
		if err != nil {
			return fmt.Errorf("marshal task for %s: %w", email, err)
		}
		pipe.RPush(ctx, QueueName, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %d tasks: %w", len(emails), err)
	}
	q.log.Debug().Str("job_id", jobID).Int("count", len(emails)).Msg("tasks enqueued")
	return nil
}

// Dequeue blocks until a task arrives. A zero timeout waits forever.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Task, error) {
	res, err := q.rdb.BLPop(ctx, timeout, QueueName).Result()
	if err != nil {
		return Task{}, err
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, fmt.Errorf("malformed task payload: %w", err)
	}
	return task, nil
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.rdb.Close()
}
