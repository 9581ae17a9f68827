package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calco/internal/aggregate"
	"calco/internal/core"
	"calco/internal/ledger"
	"calco/internal/services"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "calco.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calco.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestSheetsAndRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	march, err := s.CreateSheet(ctx, "March")
	require.NoError(t, err)

	rec, err := s.CreateRecord(ctx, core.Record{
		Kind: core.KindIncome, Name: "salary", Amount: core.Money{Cents: 200000},
		Date: core.NewDate(2024, 3, 1), SheetID: march.ID,
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)

	got, err := s.GetRecord(ctx, core.KindIncome, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", got.Date.String())
	assert.Equal(t, int64(200000), got.Amount.Cents)

	_, err = s.GetRecord(ctx, core.KindExpense, rec.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	rec.Amount = core.Money{Cents: 150000}
	require.NoError(t, s.UpdateRecord(ctx, rec))
	list, err := s.ListRecordsBySheet(ctx, core.KindIncome, march.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(150000), list[0].Amount.Cents)

	require.NoError(t, s.AddToSheetValue(ctx, march.ID, 150000))
	require.NoError(t, s.AddToSheetValue(ctx, march.ID, -50000))
	sh, err := s.GetSheet(ctx, march.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), sh.CachedValue)

	assert.ErrorIs(t, s.AddToSheetValue(ctx, 4242, 1), core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteRecord(ctx, core.KindIncome, 4242), core.ErrNotFound)
}

func TestEdgesAndCascade(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	q1, _ := s.CreateSheet(ctx, "Q1")
	march, _ := s.CreateSheet(ctx, "March")
	week, _ := s.CreateSheet(ctx, "Week 1")

	edge := core.InheritedSheet{ParentSheetID: q1.ID, InheritedSheetID: march.ID, Date: core.NewDate(2024, 3, 1)}
	require.NoError(t, s.CreateEdge(ctx, edge))
	require.NoError(t, s.CreateEdge(ctx, core.InheritedSheet{ParentSheetID: march.ID, InheritedSheetID: week.ID, Date: core.NewDate(2024, 3, 1)}))

	err := s.CreateEdge(ctx, edge)
	assert.ErrorIs(t, err, core.ErrConflict)

	parents, err := s.ListParentSheets(ctx, march.ID)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, q1.ID, parents[0].ID)

	children, err := s.ListChildSheets(ctx, q1.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, march.ID, children[0].ID)

	_, err = s.CreateRecord(ctx, core.Record{
		Kind: core.KindExpense, Name: "rent", Amount: core.Money{Cents: 80000},
		Date: core.NewDate(2024, 3, 2), SheetID: march.ID,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSheet(ctx, march.ID))

	edges, err := s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
	expenses, err := s.ListRecordsBySheet(ctx, core.KindExpense, march.ID)
	require.NoError(t, err)
	assert.Empty(t, expenses)
	assert.ErrorIs(t, s.DeleteSheet(ctx, march.ID), core.ErrNotFound)
}

func TestWithinTxRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sh, _ := s.CreateSheet(ctx, "March")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.AddToSheetValue(ctx, sh.ID, 999); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetSheet(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CachedValue)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	u, err := s.CreateUser(ctx, core.User{Handle: "Alice", PasswordHash: "hash", Role: core.RoleAdmin})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, core.User{Handle: "alice", PasswordHash: "x"})
	assert.ErrorIs(t, err, core.ErrConflict)

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetUserToken(ctx, u.ID, "tok", expires))
	byToken, err := s.GetUserByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, byToken.Role)
	assert.True(t, byToken.TokenExpiresAt.Equal(expires))

	inv, err := s.CreateInvitation(ctx, core.Invitation{Handle: "bob", Hash: "h1", ExpiresAt: expires, Role: core.RoleGuest})
	require.NoError(t, err)
	require.NoError(t, s.RefreshInvitation(ctx, inv.ID, expires.Add(time.Hour)))
	got, err := s.GetInvitationByHandle(ctx, "BOB")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(expires.Add(time.Hour)))

	require.NoError(t, s.DeleteInvitation(ctx, inv.ID))
	_, err = s.GetInvitationByHash(ctx, "h1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRebind(t *testing.T) {
	q := `UPDATE sheets SET cached_value = cached_value + ? WHERE id = ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE sheets SET cached_value = cached_value + $1 WHERE id = $2`, DialectPostgres.rebind(q))
}

func TestQuarterRollupOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	svc := services.NewLedgerService(s, aggregate.NewEngine(s, aggregate.Options{}, nil), nil, services.LedgerOptions{}, nil)

	march, err := svc.CreateSheet(ctx, "March")
	require.NoError(t, err)
	q1, err := svc.CreateSheet(ctx, "Q1")
	require.NoError(t, err)
	year, err := svc.CreateSheet(ctx, "2024")
	require.NoError(t, err)

	require.NoError(t, svc.LinkSheet(ctx, year.ID, q1.ID, core.NewDate(2024, 12, 31)))
	require.NoError(t, svc.LinkSheet(ctx, q1.ID, march.ID, core.NewDate(2024, 3, 31)))

	_, err = svc.CreateRecord(ctx, core.Record{
		Kind: core.KindIncome, Name: "salary", Amount: core.Money{Cents: 2000},
		Date: core.NewDate(2024, 3, 1), SheetID: march.ID,
	})
	require.NoError(t, err)
	rent, err := svc.CreateRecord(ctx, core.Record{
		Kind: core.KindExpense, Name: "rent", Amount: core.Money{Cents: 800},
		Date: core.NewDate(2024, 3, 2), SheetID: march.ID,
	})
	require.NoError(t, err)

	totals := func() (int64, int64, int64) {
		m, err := svc.GetSheet(ctx, march.ID)
		require.NoError(t, err)
		q, err := svc.GetSheet(ctx, q1.ID)
		require.NoError(t, err)
		y, err := svc.GetSheet(ctx, year.ID)
		require.NoError(t, err)
		return m.CachedValue, q.CachedValue, y.CachedValue
	}
	m, q, y := totals()
	assert.Equal(t, []int64{1200, 1200, 1200}, []int64{m, q, y})

	rent.Amount = core.Money{Cents: 300}
	_, found, err := svc.UpdateRecord(ctx, rent)
	require.NoError(t, err)
	require.True(t, found)
	m, q, y = totals()
	assert.Equal(t, []int64{1700, 1700, 1700}, []int64{m, q, y})

	_, err = svc.UnlinkSheet(ctx, q1.ID, march.ID)
	require.NoError(t, err)
	m, q, y = totals()
	assert.Equal(t, []int64{1700, 0, 0}, []int64{m, q, y})

	err = svc.LinkSheet(ctx, march.ID, year.ID, core.NewDate(2024, 3, 31))
	require.NoError(t, err)
	err = svc.LinkSheet(ctx, q1.ID, year.ID, core.NewDate(2024, 3, 31))
	assert.ErrorIs(t, err, core.ErrCycle)
}
