// Package worker drains the export queue into the audit sheet and sweeps
// up rows the queue missed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budgeit/internal/amqp"
	"budgeit/internal/core"
	"budgeit/internal/sheets"
)

// Store is the slice of the repository the worker needs.
type Store interface {
	TransactionByIDAny(ctx context.Context, id int64) (core.Transaction, error)
	CategoryByID(ctx context.Context, id, userID int64) (core.Category, error)
	ListPendingExport(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkExported(ctx context.Context, id int64) error
	MarkExportError(ctx context.Context, id int64) error
}

type Worker struct {
	store    Store
	appender sheets.RowAppender
	log      *slog.Logger
}

func New(store Store, appender sheets.RowAppender, log *slog.Logger) *Worker {
	return &Worker{store: store, appender: appender, log: log}
}

// HandleEnvelope dispatches one queue message. Unknown kinds are dropped.
func (w *Worker) HandleEnvelope(ctx context.Context, env amqp.Envelope) error {
	switch env.Kind {
	case amqp.KindRecorded:
		var p amqp.RecordedPayload
		if err := amqp.DecodePayload(env, &p); err != nil {
			return err
		}
		return w.exportTransaction(ctx, p.TransactionID)
	case amqp.KindVoided:
		var p amqp.VoidedPayload
		if err := amqp.DecodePayload(env, &p); err != nil {
			return err
		}
		return w.exportVoid(ctx, p)
	default:
		w.log.WarnContext(ctx, "Dropping message of unknown kind", "kind", env.Kind)
		return nil
	}
}

// exportTransaction re-reads the row and appends its current state. A row
// deleted between publish and consume is dropped; the void message covers
// it.
func (w *Worker) exportTransaction(ctx context.Context, id int64) error {
	t, err := w.store.TransactionByIDAny(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.log.InfoContext(ctx, "Transaction gone before export, dropping", "transaction_id", id)
			return nil
		}
		return err
	}

	categoryName := core.UncategorizedName
	if c, err := w.store.CategoryByID(ctx, t.CategoryID, t.UserID); err == nil {
		categoryName = c.Name
	}

	row := sheets.LedgerRow{
		TransactionID: t.ID,
		Event:         sheets.EventRecorded,
		Date:          t.Date.String(),
		ItemName:      t.ItemName,
		Category:      categoryName,
		Type:          string(t.Type),
		Amount:        t.Amount.String(),
	}
	if err := w.appender.AppendRow(ctx, row); err != nil {
		if markErr := w.store.MarkExportError(ctx, id); markErr != nil {
			w.log.ErrorContext(ctx, "Failed to mark export error", "transaction_id", id, "error", markErr)
		}
		return fmt.Errorf("export transaction %d: %w", id, err)
	}

	if err := w.store.MarkExported(ctx, id); err != nil {
		return fmt.Errorf("mark transaction %d exported: %w", id, err)
	}
	w.log.InfoContext(ctx, "Exported transaction", "transaction_id", id)
	return nil
}

func (w *Worker) exportVoid(ctx context.Context, p amqp.VoidedPayload) error {
	row := sheets.LedgerRow{
		TransactionID: p.TransactionID,
		Event:         sheets.EventVoided,
		Date:          p.Date.String(),
		ItemName:      p.ItemName,
		Category:      "",
		Type:          string(p.Type),
		Amount:        core.Money{Cents: p.AmountCents}.String(),
	}
	if err := w.appender.AppendRow(ctx, row); err != nil {
		return fmt.Errorf("export void of transaction %d: %w", p.TransactionID, err)
	}
	w.log.InfoContext(ctx, "Exported void", "transaction_id", p.TransactionID)
	return nil
}

// ProcessPending exports rows still marked pending, oldest first. Rows
// that fail stay pending or flip to error and are retried next sweep.
func (w *Worker) ProcessPending(ctx context.Context, limit int) error {
	txs, err := w.store.ListPendingExport(ctx, limit)
	if err != nil {
		return fmt.Errorf("list pending export: %w", err)
	}
	for _, t := range txs {
		if err := w.exportTransaction(ctx, t.ID); err != nil {
			w.log.ErrorContext(ctx, "Pending export failed", "transaction_id", t.ID, "error", err)
		}
	}
	return nil
}

// Run sweeps pending rows on a fixed interval until the context ends.
func (w *Worker) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.InfoContext(ctx, "Export sweeper started", "interval", interval, "batch_size", batchSize)
	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "Export sweeper stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessPending(ctx, batchSize); err != nil {
				w.log.ErrorContext(ctx, "Pending sweep failed", "error", err)
			}
		}
	}
}
