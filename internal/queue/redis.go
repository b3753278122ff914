package queue

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"citizen-identity/session-notifications/internal/failure"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr, password string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// RedisQueue implements Queue over a sorted set: the member is the encoded
// payload, the score is the instant the item becomes visible. Pop is a
// range-then-remove; losing the remove race to a sibling consumer just means
// trying the next member.
type RedisQueue struct {
	client *goredis.Client
	key    string
	now    func() time.Time
}

// NewRedisQueue returns a queue stored under the given key.
func NewRedisQueue(client *goredis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, now: time.Now}
}

func (q *RedisQueue) Send(ctx context.Context, item Item, visibilityDelay time.Duration) error {
	payload, err := item.Encode()
	if err != nil {
		return failure.Permanent("queue.send", err)
	}
	visibleAt := float64(q.now().Add(visibilityDelay).Unix())
	if err := q.client.ZAdd(ctx, q.key, goredis.Z{Score: visibleAt, Member: payload}).Err(); err != nil {
		return failure.Transient("queue.send", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (Item, bool, error) {
	for {
		members, err := q.client.ZRangeByScore(ctx, q.key, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(q.now().Unix(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return Item{}, false, failure.Transient("queue.receive", err)
		}
		if len(members) == 0 {
			return Item{}, false, nil
		}
		removed, err := q.client.ZRem(ctx, q.key, members[0]).Result()
		if err != nil {
			return Item{}, false, failure.Transient("queue.receive", err)
		}
		if removed == 0 {
			// Another consumer claimed it; try the next due member.
			continue
		}
		item, err := DecodeItem(members[0])
		if err != nil {
			// Malformed payloads are dropped, not redelivered.
			return Item{}, false, failure.Permanent("queue.receive", err)
		}
		return item, true, nil
	}
}
