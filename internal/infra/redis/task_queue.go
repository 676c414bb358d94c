package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/ports/repository"
)

var _ repository.TaskQueue = (*TaskQueue)(nil)

// TaskQueue is the Redis half of the queue/lease store. Delivery uses
// BRPOPLPUSH from the pending list onto a processing list, so a consumer
// crash leaves the id parked on processing where reconcile can find it.
// Delayed retries sit on a sorted set scored by their ready time and are
// promoted onto the pending list before each dequeue.
type TaskQueue struct {
	cli *redis.Client

	pendingKey    string
	processingKey string
	delayedKey    string
	deadKey       string
}

func NewTaskQueue(c *Client, namespace string) *TaskQueue {
	return &TaskQueue{
		cli:           c.cli,
		pendingKey:    namespace + ":tasks:pending",
		processingKey: namespace + ":tasks:processing",
		delayedKey:    namespace + ":tasks:delayed",
		deadKey:       namespace + ":tasks:dead",
	}
}

// luaRequeue moves one delivered id from processing back to pending in a
// single step so no concurrent sweep can double-deliver it.
var luaRequeue = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1`)

// luaPromote pushes every due delayed id onto the pending list.
var luaPromote = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("RPUSH", KEYS[2], id)
end
return #due`)

func (q *TaskQueue) Enqueue(ctx context.Context, taskID string) error {
	return q.cli.RPush(ctx, q.pendingKey, taskID).Err()
}

func (q *TaskQueue) EnqueueAfter(ctx context.Context, taskID string, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, taskID)
	}
	ready := float64(time.Now().Add(delay).UnixMilli())
	return q.cli.ZAdd(ctx, q.delayedKey, &redis.Z{Score: ready, Member: taskID}).Err()
}

func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	now := time.Now().UnixMilli()
	if err := luaPromote.Run(ctx, q.cli, []string{q.delayedKey, q.pendingKey}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}

	id, err := q.cli.BRPopLPush(ctx, q.pendingKey, q.processingKey, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func (q *TaskQueue) Ack(ctx context.Context, taskID string) error {
	return q.cli.LRem(ctx, q.processingKey, 1, taskID).Err()
}

func (q *TaskQueue) Requeue(ctx context.Context, taskID string) error {
	return luaRequeue.Run(ctx, q.cli, []string{q.processingKey, q.pendingKey}, taskID).Err()
}

func (q *TaskQueue) DeadLetter(ctx context.Context, taskID string) error {
	return q.cli.LPush(ctx, q.deadKey, taskID).Err()
}

func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	return q.cli.LLen(ctx, q.pendingKey).Result()
}
