// Package aggregate keeps sheet totals consistent by pushing deltas up the
// inheritance graph.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"calco/internal/core"
	"calco/internal/ledger"
	"calco/internal/log"
)

// Mode selects how a sheet reachable through several paths is updated.
type Mode int

const (
	// PerPath applies the delta once per path, so a diamond ancestor receives
	// it twice. This keeps cached(S) = own(S) + sum of cached(child) true for
	// every edge.
	PerPath Mode = iota
	// Once applies the delta at most once per sheet per propagation. On a
	// diamond the top sheet then disagrees with the sum of its children.
	Once
)

const DefaultMaxVisits = 10000

var ErrPropagationLimit = errors.New("propagation visit limit exceeded, inheritance graph may contain a cycle")

func (m Mode) String() string {
	if m == Once {
		return "once"
	}
	return "per-path"
}

// ParseMode accepts "per-path" (default when empty) and "once".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-path", "perpath":
		return PerPath, nil
	case "once":
		return Once, nil
	}
	return PerPath, fmt.Errorf("unknown propagation mode %q", s)
}

type Options struct {
	Mode Mode
	// MaxVisits bounds the number of sheet updates of one propagation.
	// Zero means DefaultMaxVisits, negative disables the bound.
	MaxVisits int
}

// Engine applies cached value deltas. It holds no sheet state; every
// propagation reads the graph through the transaction it runs in.
type Engine struct {
	store  ledger.Store
	opts   Options
	logger *log.Logger
	events *log.StructuredLogger
	tracer trace.Tracer
}

func NewEngine(store ledger.Store, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.MaxVisits == 0 {
		opts.MaxVisits = DefaultMaxVisits
	}
	logger = logger.WithComponent(log.ComponentAggregate)
	return &Engine{
		store:  store,
		opts:   opts,
		logger: logger,
		events: log.NewStructuredLogger(logger),
		tracer: otel.Tracer("calco/aggregate"),
	}
}

func (e *Engine) Mode() Mode { return e.opts.Mode }

// ApplyDelta propagates delta from sheetID in its own unit of work.
func (e *Engine) ApplyDelta(ctx context.Context, sheetID, delta int64) error {
	return e.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return e.ApplyDeltaTx(ctx, tx, sheetID, delta)
	})
}

// ApplyDeltaTx adds delta to sheetID and to every ancestor reachable through
// parent edges, breadth first. A missing target sheet is a no-op. Any store
// error aborts the traversal and is returned unchanged in kind.
func (e *Engine) ApplyDeltaTx(ctx context.Context, tx ledger.Tx, sheetID, delta int64) error {
	ctx, span := e.tracer.Start(ctx, "aggregate.ApplyDelta", trace.WithAttributes(
		attribute.Int64("sheet.id", sheetID),
		attribute.Int64("delta", delta),
		attribute.String("mode", e.opts.Mode.String()),
	))
	defer span.End()

	visits, err := e.propagate(ctx, tx, sheetID, delta)
	span.SetAttributes(attribute.Int("visits", visits))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.events.LogPropagation(ctx, sheetID, delta, visits)
	return nil
}

func (e *Engine) propagate(ctx context.Context, tx ledger.Tx, sheetID, delta int64) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	if err := tx.AddToSheetValue(ctx, sheetID, delta); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			e.logger.DebugContext(ctx, "Delta target missing, nothing to propagate", log.FieldSheetID, sheetID)
			return 0, nil
		}
		return 0, fmt.Errorf("apply delta to sheet %d: %w", sheetID, err)
	}

	visited := map[int64]bool{sheetID: true}
	queue, err := tx.ListParentSheets(ctx, sheetID)
	if err != nil {
		return 1, fmt.Errorf("list parents of sheet %d: %w", sheetID, err)
	}

	visits := 1
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return visits, err
		}
		parent := queue[0]
		queue = queue[1:]

		if e.opts.Mode == Once {
			if visited[parent.ID] {
				continue
			}
			visited[parent.ID] = true
		}

		visits++
		if e.opts.MaxVisits > 0 && visits > e.opts.MaxVisits {
			return visits, fmt.Errorf("propagate from sheet %d: %w", sheetID, ErrPropagationLimit)
		}
		if err := tx.AddToSheetValue(ctx, parent.ID, delta); err != nil {
			return visits, fmt.Errorf("apply delta to sheet %d: %w", parent.ID, err)
		}

		grandparents, err := tx.ListParentSheets(ctx, parent.ID)
		if err != nil {
			return visits, fmt.Errorf("list parents of sheet %d: %w", parent.ID, err)
		}
		queue = append(queue, grandparents...)
	}
	return visits, nil
}

// Reaches reports whether target is from itself or one of from's transitive
// ancestors.
// Linking child into parent closes a cycle exactly when Reaches(parent, child).
func (e *Engine) Reaches(ctx context.Context, tx ledger.Tx, from, target int64) (bool, error) {
	if from == target {
		return true, nil
	}
	seen := map[int64]bool{from: true}
	queue := []int64{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		parents, err := tx.ListParentSheets(ctx, id)
		if err != nil {
			return false, fmt.Errorf("list parents of sheet %d: %w", id, err)
		}
		for _, p := range parents {
			if p.ID == target {
				return true, nil
			}
			if !seen[p.ID] {
				seen[p.ID] = true
				queue = append(queue, p.ID)
			}
		}
	}
	return false, nil
}
