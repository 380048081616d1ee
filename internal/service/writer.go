package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/wa-ledger/internal/cache"
	"github.com/LeventeLantos/wa-ledger/internal/model"
	"github.com/LeventeLantos/wa-ledger/internal/repo"
)

// Writer applies mapped records and patches to the ledger. Each call is
// independent; nothing is batched in a transaction.
type Writer struct {
	repo   repo.LedgerRepository
	upsert bool
	logger *slog.Logger

	// buffer is nil under the drop policy.
	buffer cache.PatchBuffer
}

// NewWriter builds a writer. With upsert set, a record is only inserted when
// no record with its message id exists yet (first write wins).
func NewWriter(r repo.LedgerRepository, upsert bool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{repo: r, upsert: upsert, logger: logger}
}

// WithBuffer switches unmatched patches from being dropped to being held in
// buf until their record is inserted.
func (w *Writer) WithBuffer(buf cache.PatchBuffer) *Writer {
	w.buffer = buf
	return w
}

func (w *Writer) Buffering() bool {
	return w.buffer != nil
}

// Record stores rec and reports whether a row was written.
func (w *Writer) Record(ctx context.Context, rec *model.LedgerRecord) (bool, error) {
	inserted := true
	if w.upsert {
		var err error
		if inserted, err = w.repo.InsertIfAbsent(ctx, rec); err != nil {
			return false, err
		}
	} else if err := w.repo.Insert(ctx, rec); err != nil {
		return false, err
	}

	if inserted && w.buffer != nil {
		// The record is stored either way; leftovers are retried by the
		// replay job.
		if _, err := w.replay(ctx, rec.MessageID); err != nil {
			w.logger.WarnContext(ctx, "replaying buffered patches failed",
				"message_id", rec.MessageID, "error", err)
		}
	}
	return inserted, nil
}

// Patch applies p and returns the number of records it matched. Zero matches
// is not an error.
func (w *Writer) Patch(ctx context.Context, p model.StatusPatch) (int64, error) {
	n, err := w.repo.UpdateStatus(ctx, p)
	if err != nil {
		return 0, err
	}
	if n == 0 && w.buffer != nil {
		if err := w.buffer.Push(ctx, p); err != nil {
			return 0, fmt.Errorf("buffer status patch for %s: %w", p.MessageID, err)
		}
	}
	return n, nil
}

// replay applies buffered patches for messageID in arrival order. It stops
// at the first patch that still matches nothing and acknowledges only the
// ones applied, so patches buffered meanwhile are kept for the next pass.
func (w *Writer) replay(ctx context.Context, messageID string) (int, error) {
	patches, err := w.buffer.Peek(ctx, messageID)
	if err != nil {
		return 0, err
	}

	applied := 0
	var applyErr error
	for _, p := range patches {
		n, err := w.repo.UpdateStatus(ctx, p)
		if err != nil {
			applyErr = err
			break
		}
		if n == 0 {
			break
		}
		applied++
		replayedPatchesCounter.Inc()
	}

	if err := w.buffer.Ack(ctx, messageID, applied); err != nil {
		return applied, errors.Join(applyErr, fmt.Errorf("ack buffered patches for %s: %w", messageID, err))
	}
	return applied, applyErr
}

type ReplayStats struct {
	Pending int
	Applied int
	Failed  int
}

// ReplayPending retries every buffered message id once.
func (w *Writer) ReplayPending(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats
	if w.buffer == nil {
		return stats, nil
	}

	ids, err := w.buffer.Pending(ctx)
	if err != nil {
		return stats, err
	}
	stats.Pending = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := w.replay(ctx, id)
		stats.Applied += n
		if err != nil {
			stats.Failed++
			w.logger.ErrorContext(ctx, "replay of buffered patches failed", "message_id", id, "error", err)
		}
	}
	return stats, nil
}
