package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/wa-ledger/internal/model"
)

const (
	patchKeyPrefix = "patch:"
	pendingSetKey  = "patch:pending"
)

type RedisPatchBuffer struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPatchBuffer(rdb *redis.Client, ttl time.Duration) *RedisPatchBuffer {
	return &RedisPatchBuffer{rdb: rdb, ttl: ttl}
}

// ackScript trims the acknowledged prefix and forgets the id once its list
// is empty, in one step so a concurrent Push is never lost.
var ackScript = redis.NewScript(`
redis.call('LTRIM', KEYS[1], ARGV[1], -1)
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return redis.call('LLEN', KEYS[1])
`)

func patchKey(messageID string) string {
	return patchKeyPrefix + messageID
}

// Push appends p to the message's list and refreshes its TTL. Patches for a
// message are kept in arrival order.
func (b *RedisPatchBuffer) Push(ctx context.Context, p model.StatusPatch) error {
	val, err := json.Marshal(model.StatusPatch{
		MessageID: p.MessageID,
		Status:    p.Status,
		UpdatedAt: p.UpdatedAt.UTC(),
	})
	if err != nil {
		return err
	}

	key := patchKey(p.MessageID)
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, b.ttl)
		pipe.SAdd(ctx, pendingSetKey, p.MessageID)
		return nil
	})
	return err
}

func (b *RedisPatchBuffer) Peek(ctx context.Context, messageID string) ([]model.StatusPatch, error) {
	raw, err := b.rdb.LRange(ctx, patchKey(messageID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.StatusPatch, 0, len(raw))
	for _, r := range raw {
		var p model.StatusPatch
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			return nil, fmt.Errorf("decode buffered patch for %s: %w", messageID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *RedisPatchBuffer) Ack(ctx context.Context, messageID string, n int) error {
	if n < 0 {
		return fmt.Errorf("ack %s: negative count %d", messageID, n)
	}
	return ackScript.Run(ctx, b.rdb, []string{patchKey(messageID), pendingSetKey}, n, messageID).Err()
}

// Pending lists message ids with buffered patches. An id may outlive its
// list when the TTL expires; Peek then returns nothing.
func (b *RedisPatchBuffer) Pending(ctx context.Context) ([]string, error) {
	return b.rdb.SMembers(ctx, pendingSetKey).Result()
}
