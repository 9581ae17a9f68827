package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"calco/internal/aggregate"
	"calco/internal/core"
	"calco/internal/ledger"
	"calco/internal/log"
)

// EventPublisher receives committed ledger mutations.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event core.LedgerEvent) error
}

type LedgerOptions struct {
	// CompensateSheetDelete subtracts a deleted sheet's total from each
	// direct parent before removing it. Off by default: parents keep the
	// contribution of a deleted child.
	CompensateSheetDelete bool
}

// LedgerService runs every sheet, record and link mutation in one unit of
// work together with the delta propagation it causes.
type LedgerService struct {
	store     ledger.Store
	engine    *aggregate.Engine
	publisher EventPublisher
	opts      LedgerOptions
	logger    *log.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewLedgerService wires the service. publisher may be nil.
func NewLedgerService(store ledger.Store, engine *aggregate.Engine, publisher EventPublisher, opts LedgerOptions, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerService{
		store:     store,
		engine:    engine,
		publisher: publisher,
		opts:      opts,
		logger:    logger.WithComponent(log.ComponentLedger),
		tracer:    otel.Tracer("calco/services"),
		now:       time.Now,
	}
}

func (s *LedgerService) publish(ctx context.Context, ev core.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	ev.OccurredAt = s.now().UTC()
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldEvent, string(ev.Type),
			log.FieldSheetID, ev.SheetID,
			log.FieldError, err)
	}
}

func (s *LedgerService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attrs...))
}

// resolveSheet loads a sheet referenced by user input. A dangling reference
// is a validation failure, not a missing resource.
func resolveSheet(ctx context.Context, tx ledger.Tx, id int64) (core.Sheet, error) {
	sh, err := tx.GetSheet(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Sheet{}, fmt.Errorf("sheet %d: %w", id, core.ErrInvalidSheetID)
	}
	return sh, err
}

// Sheets

func (s *LedgerService) CreateSheet(ctx context.Context, name string) (core.Sheet, error) {
	ctx, span := s.start(ctx, "CreateSheet")
	defer span.End()

	name = strings.TrimSpace(name)
	if err := (core.Sheet{Name: name}).Validate(); err != nil {
		return core.Sheet{}, err
	}

	var created core.Sheet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetSheetByName(ctx, name); err == nil {
			return fmt.Errorf("sheet %q: %w", name, core.ErrConflict)
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		sh, err := tx.CreateSheet(ctx, name)
		created = sh
		return err
	})
	if err != nil {
		return core.Sheet{}, fmt.Errorf("create sheet: %w", err)
	}

	s.logger.InfoContext(ctx, "Sheet created", log.FieldSheetID, created.ID, "name", created.Name)
	s.publish(ctx, core.LedgerEvent{Type: core.EventSheetCreated, SheetID: created.ID})
	return created, nil
}

func (s *LedgerService) RenameSheet(ctx context.Context, id int64, name string) error {
	ctx, span := s.start(ctx, "RenameSheet", attribute.Int64("sheet.id", id))
	defer span.End()

	name = strings.TrimSpace(name)
	if err := (core.Sheet{Name: name}).Validate(); err != nil {
		return err
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetSheet(ctx, id); err != nil {
			return err
		}
		other, err := tx.GetSheetByName(ctx, name)
		switch {
		case err == nil && other.ID != id:
			return fmt.Errorf("sheet %q: %w", name, core.ErrConflict)
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return err
		}
		return tx.RenameSheet(ctx, id, name)
	})
	if err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	s.publish(ctx, core.LedgerEvent{Type: core.EventSheetRenamed, SheetID: id})
	return nil
}

// DeleteSheet removes a sheet with its records and edges. It reports false
// when the sheet did not exist. Parent totals are left untouched unless
// CompensateSheetDelete is set.
func (s *LedgerService) DeleteSheet(ctx context.Context, id int64) (bool, error) {
	ctx, span := s.start(ctx, "DeleteSheet", attribute.Int64("sheet.id", id))
	defer span.End()

	deleted := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		sh, err := tx.GetSheet(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.opts.CompensateSheetDelete && sh.CachedValue != 0 {
			parents, err := tx.ListParentSheets(ctx, id)
			if err != nil {
				return err
			}
			for _, p := range parents {
				if err := s.engine.ApplyDeltaTx(ctx, tx, p.ID, -sh.CachedValue); err != nil {
					return err
				}
			}
		}
		if err := tx.DeleteSheet(ctx, id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete sheet: %w", err)
	}
	if !deleted {
		s.logger.WarnContext(ctx, "Sheet to delete not found", log.FieldSheetID, id)
		return false, nil
	}

	s.logger.InfoContext(ctx, "Sheet deleted", log.FieldSheetID, id)
	s.publish(ctx, core.LedgerEvent{Type: core.EventSheetDeleted, SheetID: id})
	return true, nil
}

// Records

// CreateRecord stores an expense or income and propagates its signed amount.
func (s *LedgerService) CreateRecord(ctx context.Context, r core.Record) (core.Record, error) {
	ctx, span := s.start(ctx, "CreateRecord",
		attribute.String("record.kind", r.Kind.String()),
		attribute.Int64("sheet.id", r.SheetID))
	defer span.End()

	r.Name = strings.TrimSpace(r.Name)
	if err := r.Validate(); err != nil {
		return core.Record{}, err
	}

	var created core.Record
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := resolveSheet(ctx, tx, r.SheetID); err != nil {
			return err
		}
		rec, err := tx.CreateRecord(ctx, r)
		if err != nil {
			return err
		}
		created = rec
		return s.engine.ApplyDeltaTx(ctx, tx, rec.SheetID, rec.SignedAmount())
	})
	if err != nil {
		return core.Record{}, fmt.Errorf("create %s: %w", r.Kind, err)
	}

	s.logger.InfoContext(ctx, "Record created", log.NewFields().
		WithRecord(created.Kind.String(), created.ID, created.SheetID, created.Amount.Cents).ToSlice()...)
	s.publish(ctx, core.LedgerEvent{
		Type: core.EventRecordCreated, SheetID: created.SheetID,
		RecordID: created.ID, RecordKind: created.Kind, Delta: created.SignedAmount(),
	})
	return created, nil
}

// UpdateRecord replaces name, amount and date of a record and propagates the
// difference to its sheet. It reports false when the record does not exist.
func (s *LedgerService) UpdateRecord(ctx context.Context, r core.Record) (core.Record, bool, error) {
	ctx, span := s.start(ctx, "UpdateRecord",
		attribute.String("record.kind", r.Kind.String()),
		attribute.Int64("record.id", r.ID))
	defer span.End()

	r.Name = strings.TrimSpace(r.Name)

	var (
		updated core.Record
		found   bool
		delta   int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		old, err := tx.GetRecord(ctx, r.Kind, r.ID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		r.SheetID = old.SheetID
		if err := r.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateRecord(ctx, r); err != nil {
			return err
		}
		updated = r
		delta = r.SignedAmount() - old.SignedAmount()
		return s.engine.ApplyDeltaTx(ctx, tx, old.SheetID, delta)
	})
	if err != nil {
		return core.Record{}, found, fmt.Errorf("update %s: %w", r.Kind, err)
	}
	if !found {
		s.logger.WarnContext(ctx, "Record to update not found", log.FieldRecordKind, r.Kind.String(), log.FieldRecordID, r.ID)
		return core.Record{}, false, nil
	}

	s.publish(ctx, core.LedgerEvent{
		Type: core.EventRecordUpdated, SheetID: updated.SheetID,
		RecordID: updated.ID, RecordKind: updated.Kind, Delta: delta,
	})
	return updated, true, nil
}

// DeleteRecord removes a record and propagates the negation of its signed
// amount. It returns the deleted record, or false when there was none.
func (s *LedgerService) DeleteRecord(ctx context.Context, kind core.RecordKind, id int64) (core.Record, bool, error) {
	ctx, span := s.start(ctx, "DeleteRecord",
		attribute.String("record.kind", kind.String()),
		attribute.Int64("record.id", id))
	defer span.End()

	if !kind.Valid() {
		return core.Record{}, false, core.ErrInvalidKind
	}

	var (
		deleted core.Record
		found   bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		old, err := tx.GetRecord(ctx, kind, id)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		deleted = old
		if err := tx.DeleteRecord(ctx, kind, id); err != nil {
			return err
		}
		return s.engine.ApplyDeltaTx(ctx, tx, old.SheetID, -old.SignedAmount())
	})
	if err != nil {
		return core.Record{}, false, fmt.Errorf("delete %s: %w", kind, err)
	}
	if !found {
		s.logger.WarnContext(ctx, "Record to delete not found", log.FieldRecordKind, kind.String(), log.FieldRecordID, id)
		return core.Record{}, false, nil
	}

	s.publish(ctx, core.LedgerEvent{
		Type: core.EventRecordDeleted, SheetID: deleted.SheetID,
		RecordID: deleted.ID, RecordKind: kind, Delta: -deleted.SignedAmount(),
	})
	return deleted, true, nil
}

// Links

// LinkSheet makes parentID inherit childID and adds the child's current
// total to the parent and its ancestors.
func (s *LedgerService) LinkSheet(ctx context.Context, parentID, childID int64, date core.Date) error {
	ctx, span := s.start(ctx, "LinkSheet",
		attribute.Int64("parent.id", parentID),
		attribute.Int64("child.id", childID))
	defer span.End()

	if date.IsZero() {
		date = core.Today()
	}
	edge := core.InheritedSheet{ParentSheetID: parentID, InheritedSheetID: childID, Date: date}
	if err := edge.Validate(); err != nil {
		return err
	}

	var delta int64
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := resolveSheet(ctx, tx, parentID); err != nil {
			return err
		}
		child, err := resolveSheet(ctx, tx, childID)
		if err != nil {
			return err
		}
		if _, err := tx.GetEdge(ctx, parentID, childID); err == nil {
			return fmt.Errorf("sheet %d already inherits %d: %w", parentID, childID, core.ErrConflict)
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		cycle, err := s.engine.Reaches(ctx, tx, parentID, childID)
		if err != nil {
			return err
		}
		if cycle {
			return core.ErrCycle
		}
		if err := tx.CreateEdge(ctx, edge); err != nil {
			return err
		}
		delta = child.CachedValue
		return s.engine.ApplyDeltaTx(ctx, tx, parentID, delta)
	})
	if err != nil {
		return fmt.Errorf("link sheet: %w", err)
	}

	s.logger.InfoContext(ctx, "Sheet linked",
		log.FieldParentID, parentID, log.FieldChildID, childID, log.FieldDelta, delta)
	s.publish(ctx, core.LedgerEvent{Type: core.EventEdgeCreated, SheetID: parentID, Delta: delta})
	return nil
}

// UnlinkSheet removes an edge and subtracts the child's current total from
// the parent. It reports false when the edge did not exist.
func (s *LedgerService) UnlinkSheet(ctx context.Context, parentID, childID int64) (bool, error) {
	ctx, span := s.start(ctx, "UnlinkSheet",
		attribute.Int64("parent.id", parentID),
		attribute.Int64("child.id", childID))
	defer span.End()

	var (
		found bool
		delta int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetEdge(ctx, parentID, childID); errors.Is(err, core.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		found = true

		child, err := tx.GetSheet(ctx, childID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := tx.DeleteEdge(ctx, parentID, childID); err != nil {
			return err
		}
		delta = -child.CachedValue
		return s.engine.ApplyDeltaTx(ctx, tx, parentID, delta)
	})
	if err != nil {
		return false, fmt.Errorf("unlink sheet: %w", err)
	}
	if !found {
		s.logger.WarnContext(ctx, "Inherited sheet to remove not found",
			log.FieldParentID, parentID, log.FieldChildID, childID)
		return false, nil
	}

	s.publish(ctx, core.LedgerEvent{Type: core.EventEdgeDeleted, SheetID: parentID, Delta: delta})
	return true, nil
}

// Reads

func (s *LedgerService) GetSheet(ctx context.Context, id int64) (core.Sheet, error) {
	return s.store.GetSheet(ctx, id)
}

func (s *LedgerService) ListSheets(ctx context.Context) ([]core.Sheet, error) {
	return s.store.ListSheets(ctx)
}

func (s *LedgerService) GetRecord(ctx context.Context, kind core.RecordKind, id int64) (core.Record, error) {
	return s.store.GetRecord(ctx, kind, id)
}

func (s *LedgerService) ListExpensesBySheet(ctx context.Context, sheetID int64) ([]core.Record, error) {
	return s.store.ListRecordsBySheet(ctx, core.KindExpense, sheetID)
}

func (s *LedgerService) ListIncomesBySheet(ctx context.Context, sheetID int64) ([]core.Record, error) {
	return s.store.ListRecordsBySheet(ctx, core.KindIncome, sheetID)
}

func (s *LedgerService) ListChildSheets(ctx context.Context, parentID int64) ([]core.Sheet, error) {
	return s.store.ListChildSheets(ctx, parentID)
}

// SheetView loads a sheet with its records, children and parents from one
// consistent snapshot.
func (s *LedgerService) SheetView(ctx context.Context, id int64) (core.SheetView, error) {
	var v core.SheetView
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if v.Sheet, err = tx.GetSheet(ctx, id); err != nil {
			return err
		}
		if v.Expenses, err = tx.ListRecordsBySheet(ctx, core.KindExpense, id); err != nil {
			return err
		}
		if v.Incomes, err = tx.ListRecordsBySheet(ctx, core.KindIncome, id); err != nil {
			return err
		}
		if v.Children, err = tx.ListChildSheets(ctx, id); err != nil {
			return err
		}
		v.Parents, err = tx.ListParentSheets(ctx, id)
		return err
	})
	if err != nil {
		return core.SheetView{}, fmt.Errorf("load sheet %d: %w", id, err)
	}
	return v, nil
}
