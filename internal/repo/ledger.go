package repo

import (
	"context"

	"github.com/LeventeLantos/wa-ledger/internal/model"
)

type LedgerRepository interface {
	// Insert always writes a new row, even if one with the same message id
	// exists.
	Insert(ctx context.Context, rec *model.LedgerRecord) error
	// InsertIfAbsent writes rec only when no row carries its message id and
	// reports whether it did.
	InsertIfAbsent(ctx context.Context, rec *model.LedgerRecord) (bool, error)
	// UpdateStatus patches every row with the message id and returns how
	// many matched.
	UpdateStatus(ctx context.Context, p model.StatusPatch) (int64, error)
	FindByMessageID(ctx context.Context, messageID string) ([]model.LedgerRecord, error)
	List(ctx context.Context, f model.ListFilter) ([]model.LedgerRecord, error)
}
