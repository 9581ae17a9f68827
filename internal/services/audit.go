package services

import (
	"context"
	"fmt"

	"calco/internal/core"
	"calco/internal/ledger"
	"calco/internal/log"
)

// Drift is a sheet whose cached value disagrees with its contents.
type Drift struct {
	Sheet    core.Sheet
	Expected int64
}

// Difference is what has to be added to the cached value to fix it.
func (d Drift) Difference() int64 {
	return d.Expected - d.Sheet.CachedValue
}

// AuditService recomputes sheet totals from their direct contents and
// compares them with the cached values. It never runs on the write path.
type AuditService struct {
	store  ledger.Store
	repair bool
	logger *log.Logger
}

func NewAuditService(store ledger.Store, repair bool, logger *log.Logger) *AuditService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuditService{store: store, repair: repair, logger: logger.WithComponent(log.ComponentAudit)}
}

// Expected is incomes minus expenses of the sheet plus the cached value of
// every directly inherited sheet.
func Expected(ctx context.Context, tx ledger.Tx, sheetID int64) (int64, error) {
	var total int64
	for _, kind := range core.Kinds() {
		recs, err := tx.ListRecordsBySheet(ctx, kind, sheetID)
		if err != nil {
			return 0, err
		}
		for _, r := range recs {
			total += r.SignedAmount()
		}
	}
	children, err := tx.ListChildSheets(ctx, sheetID)
	if err != nil {
		return 0, err
	}
	for _, c := range children {
		total += c.CachedValue
	}
	return total, nil
}

// CheckSheet returns the drift of one sheet, or nil when it is consistent.
func (s *AuditService) CheckSheet(ctx context.Context, id int64) (*Drift, error) {
	var drift *Drift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		drift, err = s.check(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit sheet %d: %w", id, err)
	}
	return drift, nil
}

func (s *AuditService) check(ctx context.Context, tx ledger.Tx, id int64) (*Drift, error) {
	sh, err := tx.GetSheet(ctx, id)
	if err != nil {
		return nil, err
	}
	want, err := Expected(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if want == sh.CachedValue {
		return nil, nil
	}
	return &Drift{Sheet: sh, Expected: want}, nil
}

// CheckAll audits every sheet from one snapshot.
func (s *AuditService) CheckAll(ctx context.Context) ([]Drift, error) {
	var drifts []Drift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		sheets, err := tx.ListSheets(ctx)
		if err != nil {
			return err
		}
		for _, sh := range sheets {
			d, err := s.check(ctx, tx, sh.ID)
			if err != nil {
				return err
			}
			if d != nil {
				drifts = append(drifts, *d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit sheets: %w", err)
	}
	for _, d := range drifts {
		s.logger.WarnContext(ctx, "Sheet total drift detected",
			log.FieldSheetID, d.Sheet.ID,
			"cached", d.Sheet.CachedValue,
			"expected", d.Expected)
	}
	return drifts, nil
}

// Repair sets the sheet's cached value to the expected one. Only the sheet
// itself is touched; ancestors are audited on their own. It is a no-op
// unless repairs are enabled.
func (s *AuditService) Repair(ctx context.Context, d Drift) error {
	if !s.repair {
		return nil
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		current, err := s.check(ctx, tx, d.Sheet.ID)
		if err != nil || current == nil {
			return err
		}
		return tx.AddToSheetValue(ctx, d.Sheet.ID, current.Difference())
	})
	if err != nil {
		return fmt.Errorf("repair sheet %d: %w", d.Sheet.ID, err)
	}
	s.logger.InfoContext(ctx, "Sheet total repaired", log.FieldSheetID, d.Sheet.ID, "expected", d.Expected)
	return nil
}

// RepairEnabled reports whether Repair writes.
func (s *AuditService) RepairEnabled() bool { return s.repair }
