package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/babylonsim/babylond/internal/domain"
)

// archiveBatchSize bounds how many trades one archival pass pulls from the
// store at a time.
const archiveBatchSize = 1000

// Archiver implements domain.Archiver: it exports the trade history of
// long-resolved markets to object storage as JSONL and deletes the archived
// rows from the primary store. Uploads happen before deletes, so a failed
// run leaves the rows in place and the next run retries them.
type Archiver struct {
	writer  domain.BlobWriter
	trades  domain.TradeStore
	markets domain.MarketStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	trades domain.TradeStore,
	markets domain.MarketStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:  writer,
		trades:  trades,
		markets: markets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveResolved exports trades on markets resolved before the cutoff, one
// JSONL object per market, then deletes the exported rows. It loops in
// batches until no eligible trades remain and returns the total number of
// trades archived.
func (a *Archiver) ArchiveResolved(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
		trades, err := a.trades.ListResolvedBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list resolved trades: %w", err)
		}
		if len(trades) == 0 {
			break
		}

		byMarket := make(map[string][]domain.Trade)
		for _, t := range trades {
			byMarket[t.MarketID] = append(byMarket[t.MarketID], t)
		}

		var archivedIDs []string
		for marketID, group := range byMarket {
			path, err := a.archiveMarket(ctx, marketID, group)
			if err != nil {
				// Skip this market, archive the rest; its rows stay in the
				// store for the next run.
				a.logger.WarnContext(ctx, "market archive failed",
					slog.String("market_id", marketID),
					slog.String("error", err.Error()),
				)
				continue
			}

			for _, t := range group {
				archivedIDs = append(archivedIDs, t.ID)
			}

			a.logger.InfoContext(ctx, "market archived",
				slog.String("market_id", marketID),
				slog.String("path", path),
				slog.Int("trades", len(group)),
			)
		}

		if len(archivedIDs) == 0 {
			break
		}

		deleted, err := a.trades.DeleteByIDs(ctx, archivedIDs)
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived trades: %w", err)
		}
		total += deleted

		if err := a.audit.Log(ctx, "trades_archived", map[string]any{
			"count":  deleted,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed",
				slog.String("error", err.Error()),
			)
		}

		// A partial batch means nothing eligible is left behind it.
		if len(trades) < archiveBatchSize {
			break
		}
	}

	return total, nil
}

// archiveMarket uploads one market's trades as a JSONL object keyed by the
// market's resolution month:
//
//	markets/2026/03/9f1c2d3e-....jsonl
func (a *Archiver) archiveMarket(ctx context.Context, marketID string, trades []domain.Trade) (string, error) {
	m, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("load market: %w", err)
	}

	resolvedAt := time.Now().UTC()
	if m.ResolvedAt != nil {
		resolvedAt = *m.ResolvedAt
	}
	path := fmt.Sprintf("markets/%s/%s.jsonl", resolvedAt.Format("2006/01"), marketID)

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return path, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
