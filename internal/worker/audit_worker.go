package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calco/internal/amqp"
	"calco/internal/core"
	"calco/internal/ledger"
	"calco/internal/log"
	"calco/internal/services"
)

// Mirror receives the full list of sheet totals after every change.
type Mirror interface {
	SyncTotals(ctx context.Context, sheets []core.Sheet) (bool, error)
}

// AuditWorker reacts to ledger events outside the write path. For each event
// it audits the touched sheet and its ancestors, then refreshes the mirror.
// A periodic sweep catches anything missed while the broker was down.
type AuditWorker struct {
	store    ledger.Store
	audit    *services.AuditService
	mirror   Mirror
	interval time.Duration
	logger   *log.Logger
}

func NewAuditWorker(store ledger.Store, audit *services.AuditService, mirror Mirror, interval time.Duration, logger *log.Logger) *AuditWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuditWorker{
		store:    store,
		audit:    audit,
		mirror:   mirror,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes one ledger event from the broker.
func (w *AuditWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	ev := msg.Event
	w.logger.DebugContext(ctx, "Processing ledger event",
		log.FieldEvent, string(ev.Type),
		log.FieldSheetID, ev.SheetID,
		log.FieldDelta, ev.Delta)

	if ev.Type != core.EventSheetDeleted {
		if err := w.auditUpward(ctx, ev.SheetID); err != nil {
			return fmt.Errorf("audit after %s: %w", ev.Type, err)
		}
	}
	return w.mirrorTotals(ctx)
}

// auditUpward checks sheetID and every sheet that inherits it.
func (w *AuditWorker) auditUpward(ctx context.Context, sheetID int64) error {
	seen := map[int64]bool{sheetID: true}
	queue := []int64{sheetID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		drift, err := w.audit.CheckSheet(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if drift != nil {
			w.logger.WarnContext(ctx, "Sheet total drift detected",
				log.FieldSheetID, id,
				"cached", drift.Sheet.CachedValue,
				"expected", drift.Expected)
			if err := w.audit.Repair(ctx, *drift); err != nil {
				return err
			}
		}

		parents, err := w.store.ListParentSheets(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if !seen[p.ID] {
				seen[p.ID] = true
				queue = append(queue, p.ID)
			}
		}
	}
	return nil
}

func (w *AuditWorker) mirrorTotals(ctx context.Context) error {
	if w.mirror == nil {
		return nil
	}
	sheets, err := w.store.ListSheets(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	if _, err := w.mirror.SyncTotals(ctx, sheets); err != nil {
		return fmt.Errorf("mirror totals: %w", err)
	}
	return nil
}

// Sweep audits every sheet, repairs drift when enabled and refreshes the
// mirror. It returns the number of drifting sheets found.
func (w *AuditWorker) Sweep(ctx context.Context) (int, error) {
	drifts, err := w.audit.CheckAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range drifts {
		if err := w.audit.Repair(ctx, d); err != nil {
			return len(drifts), err
		}
	}
	if err := w.mirrorTotals(ctx); err != nil {
		return len(drifts), err
	}
	return len(drifts), nil
}

// Run sweeps once at startup and then every interval until ctx is done.
func (w *AuditWorker) Run(ctx context.Context) error {
	w.sweepAndLog(ctx)
	if w.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweepAndLog(ctx)
		}
	}
}

func (w *AuditWorker) sweepAndLog(ctx context.Context) {
	start := time.Now()
	n, err := w.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "Audit sweep failed", log.FieldError, err)
		}
		return
	}
	w.logger.InfoContext(ctx, "Audit sweep completed",
		"drifts", n,
		"repair", w.audit.RepairEnabled(),
		log.FieldDuration, time.Since(start).Milliseconds())
}
