package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/wa-ledger/internal/model"
)

func newTestBuffer(t *testing.T, ttl time.Duration) (*RedisPatchBuffer, *miniredis.Miniredis) {
	t.Helper()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisPatchBuffer(rdb, ttl), mr
}

func TestRedisPatchBuffer_PushPeek_KeepsOrder(t *testing.T) {
	t.Parallel()

	buf, mr := newTestBuffer(t, 10*time.Second)
	ctx := context.Background()

	first := model.StatusPatch{MessageID: "wamid.1", Status: model.StatusSent, UpdatedAt: time.Unix(1700000050, 0)}
	second := model.StatusPatch{MessageID: "wamid.1", Status: model.StatusDelivered, UpdatedAt: time.Unix(1700000100, 0)}

	if err := buf.Push(ctx, first); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if err := buf.Push(ctx, second); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	if !mr.Exists("patch:wamid.1") {
		t.Fatalf("expected key %q to exist", "patch:wamid.1")
	}
	if ttl := mr.TTL("patch:wamid.1"); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	got, err := buf.Peek(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(got))
	}
	if got[0].Status != model.StatusSent || got[1].Status != model.StatusDelivered {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got[1].UpdatedAt.Equal(second.UpdatedAt) {
		t.Fatalf("expected UpdatedAt %v, got %v", second.UpdatedAt, got[1].UpdatedAt)
	}
}

func TestRedisPatchBuffer_PendingAndAck(t *testing.T) {
	t.Parallel()

	buf, mr := newTestBuffer(t, time.Minute)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := buf.Push(ctx, model.StatusPatch{MessageID: id, Status: model.StatusRead, UpdatedAt: time.Now()}); err != nil {
			t.Fatalf("Push(%s) error: %v", id, err)
		}
	}

	ids, err := buf.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected pending [a b], got %v", ids)
	}

	if err := buf.Ack(ctx, "a", 1); err != nil {
		t.Fatalf("Ack() error: %v", err)
	}
	if mr.Exists("patch:a") {
		t.Fatalf("expected patch:a to be deleted")
	}

	ids, err = buf.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected pending [b], got %v", ids)
	}
}

func TestRedisPatchBuffer_AckKeepsUnacknowledgedTail(t *testing.T) {
	t.Parallel()

	buf, _ := newTestBuffer(t, time.Minute)
	ctx := context.Background()

	for _, st := range []model.Status{model.StatusSent, model.StatusDelivered} {
		if err := buf.Push(ctx, model.StatusPatch{MessageID: "m", Status: st, UpdatedAt: time.Now()}); err != nil {
			t.Fatalf("Push(%s) error: %v", st, err)
		}
	}
	peeked, err := buf.Peek(ctx, "m")
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}

	// arrives between Peek and Ack
	if err := buf.Push(ctx, model.StatusPatch{MessageID: "m", Status: model.StatusRead, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Push(read) error: %v", err)
	}

	if err := buf.Ack(ctx, "m", len(peeked)); err != nil {
		t.Fatalf("Ack() error: %v", err)
	}

	left, err := buf.Peek(ctx, "m")
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if len(left) != 1 || left[0].Status != model.StatusRead {
		t.Fatalf("expected only the read patch to remain, got %+v", left)
	}
	ids, err := buf.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "m" {
		t.Fatalf("expected m to stay pending, got %v", ids)
	}
}

func TestRedisPatchBuffer_AckZeroOnExpiredListForgetsID(t *testing.T) {
	t.Parallel()

	buf, mr := newTestBuffer(t, time.Second)
	ctx := context.Background()

	if err := buf.Push(ctx, model.StatusPatch{MessageID: "gone", Status: model.StatusSent, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if err := buf.Push(ctx, model.StatusPatch{MessageID: "kept", Status: model.StatusSent, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if err := buf.Push(ctx, model.StatusPatch{MessageID: "kept", Status: model.StatusRead, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	if err := buf.Ack(ctx, "gone", 0); err != nil {
		t.Fatalf("Ack(gone) error: %v", err)
	}
	if err := buf.Ack(ctx, "kept", 0); err != nil {
		t.Fatalf("Ack(kept) error: %v", err)
	}

	ids, err := buf.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "kept" {
		t.Fatalf("expected pending [kept], got %v", ids)
	}
	if err := buf.Ack(ctx, "kept", -1); err == nil {
		t.Fatalf("expected error for negative count")
	}
}

func TestRedisPatchBuffer_ExpiredListPeeksEmpty(t *testing.T) {
	t.Parallel()

	buf, mr := newTestBuffer(t, time.Second)
	ctx := context.Background()

	if err := buf.Push(ctx, model.StatusPatch{MessageID: "old", Status: model.StatusSent, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	mr.FastForward(2 * time.Second)

	got, err := buf.Peek(ctx, "old")
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no patches after expiry, got %+v", got)
	}
}

func TestRedisPatchBuffer_ContextCanceled(t *testing.T) {
	t.Parallel()

	buf, _ := newTestBuffer(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := buf.Push(ctx, model.StatusPatch{MessageID: "x", Status: model.StatusSent, UpdatedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}
