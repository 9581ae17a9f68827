package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"calco/internal/core"
	"calco/internal/ledger"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries implements ledger.Tx on top of a connection or a transaction.
type Queries struct {
	db      DBTX
	dialect Dialect
}

var _ ledger.Tx = (*Queries)(nil)

func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// execOne runs a write that must touch exactly one row.
func (q *Queries) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}

// insertID runs an INSERT ... RETURNING id.
func (q *Queries) insertID(ctx context.Context, what string, query string, args ...any) (int64, error) {
	var id int64
	if err := q.queryRow(ctx, query, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", what, core.ErrConflict)
		}
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return id, nil
}

func scanErr(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Sheets

const sheetColumns = `id, name, cached_value`

const (
	getSheet       = `SELECT ` + sheetColumns + ` FROM sheets WHERE id = ?`
	getSheetByName = `SELECT ` + sheetColumns + ` FROM sheets WHERE name = ? ORDER BY id LIMIT 1`
	listSheets     = `SELECT ` + sheetColumns + ` FROM sheets ORDER BY id`

	listChildSheets = `SELECT s.id, s.name, s.cached_value
FROM inherited_sheets e
JOIN sheets s ON s.id = e.inherited_sheet_id
WHERE e.parent_sheet_id = ?
ORDER BY e.id`

	listParentSheets = `SELECT s.id, s.name, s.cached_value
FROM inherited_sheets e
JOIN sheets s ON s.id = e.parent_sheet_id
WHERE e.inherited_sheet_id = ?
ORDER BY e.id`

	createSheet     = `INSERT INTO sheets (name, cached_value) VALUES (?, 0) RETURNING id`
	renameSheet     = `UPDATE sheets SET name = ? WHERE id = ?`
	addToSheetValue = `UPDATE sheets SET cached_value = cached_value + ? WHERE id = ?`

	deleteSheetExpenses = `DELETE FROM expenses WHERE sheet_id = ?`
	deleteSheetIncomes  = `DELETE FROM incomes WHERE sheet_id = ?`
	deleteSheetEdges    = `DELETE FROM inherited_sheets WHERE parent_sheet_id = ? OR inherited_sheet_id = ?`
	deleteSheet         = `DELETE FROM sheets WHERE id = ?`
)

func (q *Queries) scanSheets(ctx context.Context, what string, query string, args ...any) ([]core.Sheet, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	out := []core.Sheet{}
	for rows.Next() {
		var sh core.Sheet
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.CachedValue); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", what, err)
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func (q *Queries) GetSheet(ctx context.Context, id int64) (core.Sheet, error) {
	var sh core.Sheet
	if err := q.queryRow(ctx, getSheet, id).Scan(&sh.ID, &sh.Name, &sh.CachedValue); err != nil {
		return core.Sheet{}, scanErr(fmt.Sprintf("get sheet %d", id), err)
	}
	return sh, nil
}

func (q *Queries) GetSheetByName(ctx context.Context, name string) (core.Sheet, error) {
	var sh core.Sheet
	if err := q.queryRow(ctx, getSheetByName, name).Scan(&sh.ID, &sh.Name, &sh.CachedValue); err != nil {
		return core.Sheet{}, scanErr("get sheet by name", err)
	}
	return sh, nil
}

func (q *Queries) ListSheets(ctx context.Context) ([]core.Sheet, error) {
	return q.scanSheets(ctx, "list sheets", listSheets)
}

func (q *Queries) ListChildSheets(ctx context.Context, parentID int64) ([]core.Sheet, error) {
	return q.scanSheets(ctx, "list child sheets", listChildSheets, parentID)
}

func (q *Queries) ListParentSheets(ctx context.Context, childID int64) ([]core.Sheet, error) {
	return q.scanSheets(ctx, "list parent sheets", listParentSheets, childID)
}

func (q *Queries) CreateSheet(ctx context.Context, name string) (core.Sheet, error) {
	id, err := q.insertID(ctx, "create sheet", createSheet, name)
	if err != nil {
		return core.Sheet{}, err
	}
	return core.Sheet{ID: id, Name: name}, nil
}

func (q *Queries) RenameSheet(ctx context.Context, id int64, name string) error {
	return q.execOne(ctx, fmt.Sprintf("rename sheet %d", id), renameSheet, name, id)
}

func (q *Queries) AddToSheetValue(ctx context.Context, id int64, delta int64) error {
	return q.execOne(ctx, fmt.Sprintf("add to sheet %d", id), addToSheetValue, delta, id)
}

// DeleteSheet removes dependents explicitly before the sheet itself, so the
// schema does not need ON DELETE CASCADE.
func (q *Queries) DeleteSheet(ctx context.Context, id int64) error {
	steps := []struct {
		what  string
		query string
		args  []any
	}{
		{"delete sheet expenses", deleteSheetExpenses, []any{id}},
		{"delete sheet incomes", deleteSheetIncomes, []any{id}},
		{"delete sheet edges", deleteSheetEdges, []any{id, id}},
	}
	for _, st := range steps {
		if _, err := q.exec(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("%s %d: %w", st.what, id, err)
		}
	}
	return q.execOne(ctx, fmt.Sprintf("delete sheet %d", id), deleteSheet, id)
}

// Records

func recordTable(kind core.RecordKind) (string, error) {
	switch kind {
	case core.KindExpense:
		return "expenses", nil
	case core.KindIncome:
		return "incomes", nil
	}
	return "", core.ErrInvalidKind
}

const recordColumns = `id, name, amount, date, sheet_id`

func (q *Queries) scanRecord(kind core.RecordKind, scan func(...any) error) (core.Record, error) {
	var (
		r      core.Record
		amount int64
		date   int64
	)
	if err := scan(&r.ID, &r.Name, &amount, &date, &r.SheetID); err != nil {
		return core.Record{}, err
	}
	r.Kind = kind
	r.Amount = core.Money{Cents: amount}
	r.Date = core.DateFromUnix(date)
	return r, nil
}

func (q *Queries) GetRecord(ctx context.Context, kind core.RecordKind, id int64) (core.Record, error) {
	table, err := recordTable(kind)
	if err != nil {
		return core.Record{}, err
	}
	row := q.queryRow(ctx, `SELECT `+recordColumns+` FROM `+table+` WHERE id = ?`, id)
	r, err := q.scanRecord(kind, row.Scan)
	if err != nil {
		return core.Record{}, scanErr(fmt.Sprintf("get %s %d", kind, id), err)
	}
	return r, nil
}

func (q *Queries) ListRecordsBySheet(ctx context.Context, kind core.RecordKind, sheetID int64) ([]core.Record, error) {
	table, err := recordTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := q.query(ctx, `SELECT `+recordColumns+` FROM `+table+` WHERE sheet_id = ? ORDER BY date, id`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := []core.Record{}
	for rows.Next() {
		r, err := q.scanRecord(kind, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return out, nil
}

func (q *Queries) CreateRecord(ctx context.Context, r core.Record) (core.Record, error) {
	table, err := recordTable(r.Kind)
	if err != nil {
		return core.Record{}, err
	}
	id, err := q.insertID(ctx, "create "+r.Kind.String(),
		`INSERT INTO `+table+` (name, amount, date, sheet_id) VALUES (?, ?, ?, ?) RETURNING id`,
		r.Name, r.Amount.Cents, r.Date.Unix(), r.SheetID)
	if err != nil {
		return core.Record{}, err
	}
	r.ID = id
	return r, nil
}

func (q *Queries) UpdateRecord(ctx context.Context, r core.Record) error {
	table, err := recordTable(r.Kind)
	if err != nil {
		return err
	}
	return q.execOne(ctx, fmt.Sprintf("update %s %d", r.Kind, r.ID),
		`UPDATE `+table+` SET name = ?, amount = ?, date = ? WHERE id = ?`,
		r.Name, r.Amount.Cents, r.Date.Unix(), r.ID)
}

func (q *Queries) DeleteRecord(ctx context.Context, kind core.RecordKind, id int64) error {
	table, err := recordTable(kind)
	if err != nil {
		return err
	}
	return q.execOne(ctx, fmt.Sprintf("delete %s %d", kind, id), `DELETE FROM `+table+` WHERE id = ?`, id)
}

// Edges

const (
	edgeColumns = `parent_sheet_id, inherited_sheet_id, date`
	getEdge     = `SELECT ` + edgeColumns + ` FROM inherited_sheets WHERE parent_sheet_id = ? AND inherited_sheet_id = ?`
	listEdges   = `SELECT ` + edgeColumns + ` FROM inherited_sheets ORDER BY id`
	createEdge  = `INSERT INTO inherited_sheets (parent_sheet_id, inherited_sheet_id, date) VALUES (?, ?, ?) RETURNING id`
	deleteEdge  = `DELETE FROM inherited_sheets WHERE parent_sheet_id = ? AND inherited_sheet_id = ?`
)

func (q *Queries) GetEdge(ctx context.Context, parentID, childID int64) (core.InheritedSheet, error) {
	var (
		e    core.InheritedSheet
		date int64
	)
	if err := q.queryRow(ctx, getEdge, parentID, childID).Scan(&e.ParentSheetID, &e.InheritedSheetID, &date); err != nil {
		return core.InheritedSheet{}, scanErr(fmt.Sprintf("get inherited sheet %d->%d", childID, parentID), err)
	}
	e.Date = core.DateFromUnix(date)
	return e, nil
}

func (q *Queries) ListEdges(ctx context.Context) ([]core.InheritedSheet, error) {
	rows, err := q.query(ctx, listEdges)
	if err != nil {
		return nil, fmt.Errorf("list inherited sheets: %w", err)
	}
	defer rows.Close()

	out := []core.InheritedSheet{}
	for rows.Next() {
		var (
			e    core.InheritedSheet
			date int64
		)
		if err := rows.Scan(&e.ParentSheetID, &e.InheritedSheetID, &date); err != nil {
			return nil, fmt.Errorf("list inherited sheets: scan: %w", err)
		}
		e.Date = core.DateFromUnix(date)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list inherited sheets: %w", err)
	}
	return out, nil
}

func (q *Queries) CreateEdge(ctx context.Context, e core.InheritedSheet) error {
	_, err := q.insertID(ctx, fmt.Sprintf("create inherited sheet %d->%d", e.InheritedSheetID, e.ParentSheetID),
		createEdge, e.ParentSheetID, e.InheritedSheetID, e.Date.Unix())
	return err
}

func (q *Queries) DeleteEdge(ctx context.Context, parentID, childID int64) error {
	return q.execOne(ctx, fmt.Sprintf("delete inherited sheet %d->%d", childID, parentID), deleteEdge, parentID, childID)
}

// Accounts

const (
	userColumns       = `id, handle, password, token, token_expire_date, role`
	getUser           = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	getUserByHandle   = `SELECT ` + userColumns + ` FROM users WHERE lower(handle) = lower(?)`
	getUserByToken    = `SELECT ` + userColumns + ` FROM users WHERE token = ? AND token <> ''`
	listUsers         = `SELECT ` + userColumns + ` FROM users ORDER BY id`
	createUser        = `INSERT INTO users (handle, password, token, token_expire_date, role) VALUES (?, ?, ?, ?, ?) RETURNING id`
	setUserToken      = `UPDATE users SET token = ?, token_expire_date = ? WHERE id = ?`
	deleteUser        = `DELETE FROM users WHERE id = ?`
	invitationColumns = `id, handle, hash, expire_date, user_role`
	getInviteByHandle = `SELECT ` + invitationColumns + ` FROM invitations WHERE lower(handle) = lower(?) ORDER BY id LIMIT 1`
	getInviteByHash   = `SELECT ` + invitationColumns + ` FROM invitations WHERE hash = ?`
	listInvitations   = `SELECT ` + invitationColumns + ` FROM invitations ORDER BY id`
	createInvitation  = `INSERT INTO invitations (handle, hash, expire_date, user_role) VALUES (?, ?, ?, ?) RETURNING id`
	refreshInvitation = `UPDATE invitations SET expire_date = ? WHERE id = ?`
	deleteInvitation  = `DELETE FROM invitations WHERE id = ?`
)

func scanUser(scan func(...any) error) (core.User, error) {
	var (
		u       core.User
		expires int64
		role    int
	)
	if err := scan(&u.ID, &u.Handle, &u.PasswordHash, &u.Token, &expires, &role); err != nil {
		return core.User{}, err
	}
	u.TokenExpiresAt = fromUnix(expires)
	u.Role = core.ParseUserRole(role)
	return u, nil
}

func scanInvitation(scan func(...any) error) (core.Invitation, error) {
	var (
		inv     core.Invitation
		expires int64
		role    int
	)
	if err := scan(&inv.ID, &inv.Handle, &inv.Hash, &expires, &role); err != nil {
		return core.Invitation{}, err
	}
	inv.ExpiresAt = fromUnix(expires)
	inv.Role = core.ParseUserRole(role)
	return inv, nil
}

func (q *Queries) getUserWhere(ctx context.Context, what, query string, arg any) (core.User, error) {
	u, err := scanUser(q.queryRow(ctx, query, arg).Scan)
	if err != nil {
		return core.User{}, scanErr(what, err)
	}
	return u, nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (core.User, error) {
	return q.getUserWhere(ctx, fmt.Sprintf("get user %d", id), getUser, id)
}

func (q *Queries) GetUserByHandle(ctx context.Context, handle string) (core.User, error) {
	return q.getUserWhere(ctx, "get user by handle", getUserByHandle, handle)
}

func (q *Queries) GetUserByToken(ctx context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, fmt.Errorf("get user by token: %w", core.ErrNotFound)
	}
	return q.getUserWhere(ctx, "get user by token", getUserByToken, token)
}

func (q *Queries) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := q.query(ctx, listUsers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []core.User{}
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list users: scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (q *Queries) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	id, err := q.insertID(ctx, "create user", createUser,
		u.Handle, u.PasswordHash, u.Token, toUnix(u.TokenExpiresAt), int(u.Role))
	if err != nil {
		return core.User{}, err
	}
	u.ID = id
	return u, nil
}

func (q *Queries) SetUserToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	return q.execOne(ctx, fmt.Sprintf("set token for user %d", id), setUserToken, token, toUnix(expiresAt), id)
}

func (q *Queries) DeleteUser(ctx context.Context, id int64) error {
	return q.execOne(ctx, fmt.Sprintf("delete user %d", id), deleteUser, id)
}

func (q *Queries) GetInvitationByHandle(ctx context.Context, handle string) (core.Invitation, error) {
	inv, err := scanInvitation(q.queryRow(ctx, getInviteByHandle, handle).Scan)
	if err != nil {
		return core.Invitation{}, scanErr("get invitation by handle", err)
	}
	return inv, nil
}

func (q *Queries) GetInvitationByHash(ctx context.Context, hash string) (core.Invitation, error) {
	inv, err := scanInvitation(q.queryRow(ctx, getInviteByHash, hash).Scan)
	if err != nil {
		return core.Invitation{}, scanErr("get invitation by hash", err)
	}
	return inv, nil
}

func (q *Queries) ListInvitations(ctx context.Context) ([]core.Invitation, error) {
	rows, err := q.query(ctx, listInvitations)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	out := []core.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list invitations: scan: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (q *Queries) CreateInvitation(ctx context.Context, inv core.Invitation) (core.Invitation, error) {
	id, err := q.insertID(ctx, "create invitation", createInvitation,
		inv.Handle, inv.Hash, toUnix(inv.ExpiresAt), int(inv.Role))
	if err != nil {
		return core.Invitation{}, err
	}
	inv.ID = id
	return inv, nil
}

func (q *Queries) RefreshInvitation(ctx context.Context, id int64, expiresAt time.Time) error {
	return q.execOne(ctx, fmt.Sprintf("refresh invitation %d", id), refreshInvitation, toUnix(expiresAt), id)
}

func (q *Queries) DeleteInvitation(ctx context.Context, id int64) error {
	return q.execOne(ctx, fmt.Sprintf("delete invitation %d", id), deleteInvitation, id)
}
