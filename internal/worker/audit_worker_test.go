package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calco/internal/aggregate"
	"calco/internal/amqp"
	"calco/internal/core"
	"calco/internal/ledger/memory"
	"calco/internal/services"
)

type recordingMirror struct {
	calls int
	last  []core.Sheet
}

func (m *recordingMirror) SyncTotals(_ context.Context, sheets []core.Sheet) (bool, error) {
	m.calls++
	m.last = sheets
	return true, nil
}

func setup(t *testing.T, repair bool) (*memory.Store, *services.LedgerService, *AuditWorker, *recordingMirror) {
	t.Helper()
	store := memory.New()
	engine := aggregate.NewEngine(store, aggregate.Options{}, nil)
	ledgerSvc := services.NewLedgerService(store, engine, nil, services.LedgerOptions{}, nil)
	mirror := &recordingMirror{}
	w := NewAuditWorker(store, services.NewAuditService(store, repair, nil), mirror, 0, nil)
	return store, ledgerSvc, w, mirror
}

func TestHandleEventRepairsAncestors(t *testing.T) {
	ctx := context.Background()
	store, svc, w, mirror := setup(t, true)

	parent, err := svc.CreateSheet(ctx, "P")
	require.NoError(t, err)
	child, err := svc.CreateSheet(ctx, "C")
	require.NoError(t, err)
	require.NoError(t, svc.LinkSheet(ctx, parent.ID, child.ID, core.NewDate(2024, 1, 1)))

	require.NoError(t, store.AddToSheetValue(ctx, parent.ID, 99))

	msg := amqp.NewLedgerEventMessage(core.LedgerEvent{Type: core.EventRecordCreated, SheetID: child.ID})
	require.NoError(t, w.HandleEvent(ctx, msg))

	got, err := store.GetSheet(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CachedValue)
	assert.Equal(t, 1, mirror.calls)
	assert.Len(t, mirror.last, 2)
}

func TestHandleEventDeletedSheetOnlyMirrors(t *testing.T) {
	ctx := context.Background()
	_, _, w, mirror := setup(t, true)

	msg := amqp.NewLedgerEventMessage(core.LedgerEvent{Type: core.EventSheetDeleted, SheetID: 42})
	require.NoError(t, w.HandleEvent(ctx, msg))
	assert.Equal(t, 1, mirror.calls)
	assert.Empty(t, mirror.last)
}

func TestSweepWithoutRepairOnlyReports(t *testing.T) {
	ctx := context.Background()
	store, svc, w, _ := setup(t, false)

	sh, err := svc.CreateSheet(ctx, "S")
	require.NoError(t, err)
	require.NoError(t, store.AddToSheetValue(ctx, sh.ID, 5))

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetSheet(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.CachedValue)
}

func TestRunStopsOnCancel(t *testing.T) {
	_, _, w, mirror := setup(t, false)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, mirror.calls, 1)
}
