package cache

import (
	"context"

	"github.com/LeventeLantos/wa-ledger/internal/model"
)

// PatchBuffer holds status patches that arrived before the record they
// target, so they can be replayed once it exists.
type PatchBuffer interface {
	Push(ctx context.Context, p model.StatusPatch) error
	Peek(ctx context.Context, messageID string) ([]model.StatusPatch, error)
	// Ack drops the first n patches of messageID, the ones a caller has
	// applied since its Peek. Patches pushed after that Peek stay buffered.
	Ack(ctx context.Context, messageID string, n int) error
	Pending(ctx context.Context) ([]string, error)
}
