package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/wa-ledger/internal/cache"
	"github.com/LeventeLantos/wa-ledger/internal/model"
	"github.com/LeventeLantos/wa-ledger/internal/repo"
)

// memRepo keeps records in insertion order and mirrors the Postgres
// statements' semantics.
type memRepo struct {
	mu      sync.Mutex
	records []model.LedgerRecord

	// failOn names the method that returns errStore.
	failOn string
	calls  map[string]int
}

var (
	_ repo.LedgerRepository = (*memRepo)(nil)

	errStore = errors.New("db down")
)

func newMemRepo() *memRepo {
	return &memRepo{calls: make(map[string]int)}
}

func (m *memRepo) hit(method string) error {
	m.calls[method]++
	if m.failOn == method {
		return errStore
	}
	return nil
}

func (m *memRepo) Insert(ctx context.Context, rec *model.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("Insert"); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memRepo) InsertIfAbsent(ctx context.Context, rec *model.LedgerRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("InsertIfAbsent"); err != nil {
		return false, err
	}
	for _, r := range m.records {
		if r.MessageID == rec.MessageID {
			return false, nil
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.records = append(m.records, *rec)
	return true, nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, p model.StatusPatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("UpdateStatus"); err != nil {
		return 0, err
	}
	var n int64
	for i := range m.records {
		if m.records[i].MessageID == p.MessageID {
			m.records[i].Status = p.Status
			t := p.UpdatedAt
			m.records[i].UpdatedAt = &t
			n++
		}
	}
	return n, nil
}

func (m *memRepo) FindByMessageID(ctx context.Context, messageID string) ([]model.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LedgerRecord
	for _, r := range m.records {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) List(ctx context.Context, f model.ListFilter) ([]model.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerRecord(nil), m.records...), nil
}

func (m *memRepo) all() []model.LedgerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerRecord(nil), m.records...)
}

func newRedisBuffer(t *testing.T) (*cache.RedisPatchBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewRedisPatchBuffer(rdb, time.Hour), mr
}

// racingBuffer pushes late once, right after the first Peek has read the
// list, the way a concurrent webhook would.
type racingBuffer struct {
	cache.PatchBuffer
	once sync.Once
	late model.StatusPatch
}

func (b *racingBuffer) Peek(ctx context.Context, messageID string) ([]model.StatusPatch, error) {
	out, err := b.PatchBuffer.Peek(ctx, messageID)
	if err != nil {
		return nil, err
	}
	var pushErr error
	b.once.Do(func() { pushErr = b.PatchBuffer.Push(ctx, b.late) })
	return out, pushErr
}
