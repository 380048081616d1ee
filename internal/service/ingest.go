package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/wa-ledger/internal/mapper"
	"github.com/LeventeLantos/wa-ledger/internal/webhook"
)

// IngestResult counts what one webhook delivery did to the ledger.
type IngestResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Patched    int `json:"patched"`
	Unmatched  int `json:"unmatched"`
	Rejected   int `json:"rejected"`
	Ignored    int `json:"ignored"`
}

type Ingestor struct {
	writer   *Writer
	logger   *slog.Logger
	classify webhook.Options
}

func NewIngestor(w *Writer, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{writer: w, logger: logger}
}

// KeepMixedMessages makes a change that carries both statuses and messages
// yield both kinds. Without it the messages of such a change are skipped.
func (i *Ingestor) KeepMixedMessages(keep bool) *Ingestor {
	i.classify.KeepMessagesWithStatuses = keep
	return i
}

// Process applies the sub-events of p sequentially in payload order. A
// sub-event that cannot be mapped is logged and skipped. A store error stops
// processing; units already applied stay applied.
func (i *Ingestor) Process(ctx context.Context, p webhook.Payload) (IngestResult, error) {
	var res IngestResult

	for evt := range p.Classify(i.classify) {
		kind := evt.Kind.String()

		switch evt.Kind {
		case webhook.StatusUpdate:
			patch, err := mapper.Status(evt)
			if err != nil {
				res.Rejected++
				i.reject(ctx, evt, err)
				continue
			}
			n, err := i.writer.Patch(ctx, patch)
			if err != nil {
				webhookEventsCounter.WithLabelValues(kind, "error").Inc()
				return res, fmt.Errorf("apply status %q for %s: %w", patch.Status, patch.MessageID, err)
			}
			if n == 0 {
				res.Unmatched++
				webhookEventsCounter.WithLabelValues(kind, "unmatched").Inc()
				i.logger.DebugContext(ctx, "status patch matched no record",
					"message_id", patch.MessageID, "status", patch.Status, "buffered", i.writer.Buffering())
				continue
			}
			res.Patched++
			webhookEventsCounter.WithLabelValues(kind, "patched").Inc()

		case webhook.InboundMessageEvent:
			rec, err := mapper.Inbound(evt)
			if err != nil {
				res.Rejected++
				i.reject(ctx, evt, err)
				continue
			}
			inserted, err := i.writer.Record(ctx, &rec)
			if err != nil {
				webhookEventsCounter.WithLabelValues(kind, "error").Inc()
				return res, fmt.Errorf("record message %s: %w", rec.MessageID, err)
			}
			if !inserted {
				res.Duplicates++
				webhookEventsCounter.WithLabelValues(kind, "duplicate").Inc()
				continue
			}
			res.Inserted++
			webhookEventsCounter.WithLabelValues(kind, "inserted").Inc()

		default:
			res.Ignored++
			webhookEventsCounter.WithLabelValues(kind, "ignored").Inc()
			i.logger.DebugContext(ctx, "ignoring webhook change", "field", evt.Field, "entry", evt.Entry)
		}
	}

	return res, nil
}

func (i *Ingestor) reject(ctx context.Context, evt webhook.Event, err error) {
	webhookEventsCounter.WithLabelValues(evt.Kind.String(), "rejected").Inc()
	i.logger.WarnContext(ctx, "rejecting webhook sub-event",
		"kind", evt.Kind.String(),
		"entry", evt.Entry,
		"index", evt.Index,
		"error", err,
	)
}
