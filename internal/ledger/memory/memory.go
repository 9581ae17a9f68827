// Package memory is an in-process ledger.Store used by tests and the
// "memory" backend. Transactions work on a copy of the state that replaces
// the live state on success.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"calco/internal/core"
	"calco/internal/ledger"
)

type state struct {
	seq         int64
	sheets      map[int64]core.Sheet
	records     map[core.RecordKind]map[int64]core.Record
	edges       []core.InheritedSheet
	users       map[int64]core.User
	invitations map[int64]core.Invitation
}

func newState() *state {
	return &state{
		sheets: map[int64]core.Sheet{},
		records: map[core.RecordKind]map[int64]core.Record{
			core.KindExpense: {},
			core.KindIncome:  {},
		},
		users:       map[int64]core.User{},
		invitations: map[int64]core.Invitation{},
	}
}

func (st *state) clone() *state {
	c := &state{
		seq:         st.seq,
		sheets:      maps.Clone(st.sheets),
		records:     make(map[core.RecordKind]map[int64]core.Record, len(st.records)),
		edges:       slices.Clone(st.edges),
		users:       maps.Clone(st.users),
		invitations: maps.Clone(st.invitations),
	}
	for k, m := range st.records {
		c.records[k] = maps.Clone(m)
	}
	return c
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

// Store is safe for concurrent use. Writers are serialized.
type Store struct {
	view
	mu sync.Mutex

	// FailAfter makes the n-th AddToSheetValue call fail when > 0. Tests use
	// it to exercise rollback.
	FailAfter int
	adds      int
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	s.view = view{mu: &s.mu, st: newState(), store: s}
	return s
}

// WithinTx runs fn against a private copy of the state.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &view{st: work, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	*s.st = *work
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

// view implements ledger.Tx over one state. The store's own view locks the
// mutex per call; transaction views run with it already held.
type view struct {
	mu    *sync.Mutex
	st    *state
	store *Store
}

func (v *view) lock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.Lock()
	return v.mu.Unlock
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, core.ErrNotFound)
}

func sortedValues[K cmp.Ordered, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}

// Sheets

func (v *view) GetSheet(_ context.Context, id int64) (core.Sheet, error) {
	defer v.lock()()
	sh, ok := v.st.sheets[id]
	if !ok {
		return core.Sheet{}, notFound("sheet", id)
	}
	return sh, nil
}

func (v *view) GetSheetByName(_ context.Context, name string) (core.Sheet, error) {
	defer v.lock()()
	for _, sh := range sortedValues(v.st.sheets) {
		if sh.Name == name {
			return sh, nil
		}
	}
	return core.Sheet{}, notFound("sheet", name)
}

func (v *view) ListSheets(_ context.Context) ([]core.Sheet, error) {
	defer v.lock()()
	return sortedValues(v.st.sheets), nil
}

func (v *view) ListChildSheets(_ context.Context, parentID int64) ([]core.Sheet, error) {
	defer v.lock()()
	var out []core.Sheet
	for _, e := range v.st.edges {
		if e.ParentSheetID != parentID {
			continue
		}
		if sh, ok := v.st.sheets[e.InheritedSheetID]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (v *view) ListParentSheets(_ context.Context, childID int64) ([]core.Sheet, error) {
	defer v.lock()()
	var out []core.Sheet
	for _, e := range v.st.edges {
		if e.InheritedSheetID != childID {
			continue
		}
		if sh, ok := v.st.sheets[e.ParentSheetID]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (v *view) CreateSheet(_ context.Context, name string) (core.Sheet, error) {
	defer v.lock()()
	sh := core.Sheet{ID: v.st.nextID(), Name: name}
	v.st.sheets[sh.ID] = sh
	return sh, nil
}

func (v *view) RenameSheet(_ context.Context, id int64, name string) error {
	defer v.lock()()
	sh, ok := v.st.sheets[id]
	if !ok {
		return notFound("sheet", id)
	}
	sh.Name = name
	v.st.sheets[id] = sh
	return nil
}

func (v *view) AddToSheetValue(_ context.Context, id int64, delta int64) error {
	defer v.lock()()
	if s := v.store; s != nil && s.FailAfter > 0 {
		s.adds++
		if s.adds >= s.FailAfter {
			s.adds = 0
			return fmt.Errorf("add to sheet %d: injected failure", id)
		}
	}
	sh, ok := v.st.sheets[id]
	if !ok {
		return notFound("sheet", id)
	}
	sh.CachedValue += delta
	v.st.sheets[id] = sh
	return nil
}

func (v *view) DeleteSheet(_ context.Context, id int64) error {
	defer v.lock()()
	if _, ok := v.st.sheets[id]; !ok {
		return notFound("sheet", id)
	}
	for _, recs := range v.st.records {
		maps.DeleteFunc(recs, func(_ int64, r core.Record) bool { return r.SheetID == id })
	}
	v.st.edges = slices.DeleteFunc(v.st.edges, func(e core.InheritedSheet) bool {
		return e.ParentSheetID == id || e.InheritedSheetID == id
	})
	delete(v.st.sheets, id)
	return nil
}

// Records

func (v *view) recordsOf(kind core.RecordKind) (map[int64]core.Record, error) {
	recs, ok := v.st.records[kind]
	if !ok {
		return nil, core.ErrInvalidKind
	}
	return recs, nil
}

func (v *view) GetRecord(_ context.Context, kind core.RecordKind, id int64) (core.Record, error) {
	defer v.lock()()
	recs, err := v.recordsOf(kind)
	if err != nil {
		return core.Record{}, err
	}
	r, ok := recs[id]
	if !ok {
		return core.Record{}, notFound(kind.String(), id)
	}
	return r, nil
}

func (v *view) ListRecordsBySheet(_ context.Context, kind core.RecordKind, sheetID int64) ([]core.Record, error) {
	defer v.lock()()
	recs, err := v.recordsOf(kind)
	if err != nil {
		return nil, err
	}
	out := []core.Record{}
	for _, r := range sortedValues(recs) {
		if r.SheetID == sheetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (v *view) CreateRecord(_ context.Context, r core.Record) (core.Record, error) {
	defer v.lock()()
	recs, err := v.recordsOf(r.Kind)
	if err != nil {
		return core.Record{}, err
	}
	if _, ok := v.st.sheets[r.SheetID]; !ok {
		return core.Record{}, notFound("sheet", r.SheetID)
	}
	r.ID = v.st.nextID()
	recs[r.ID] = r
	return r, nil
}

func (v *view) UpdateRecord(_ context.Context, r core.Record) error {
	defer v.lock()()
	recs, err := v.recordsOf(r.Kind)
	if err != nil {
		return err
	}
	cur, ok := recs[r.ID]
	if !ok {
		return notFound(r.Kind.String(), r.ID)
	}
	cur.Name, cur.Amount, cur.Date = r.Name, r.Amount, r.Date
	recs[r.ID] = cur
	return nil
}

func (v *view) DeleteRecord(_ context.Context, kind core.RecordKind, id int64) error {
	defer v.lock()()
	recs, err := v.recordsOf(kind)
	if err != nil {
		return err
	}
	if _, ok := recs[id]; !ok {
		return notFound(kind.String(), id)
	}
	delete(recs, id)
	return nil
}

// Edges

func (v *view) edgeIndex(parentID, childID int64) int {
	return slices.IndexFunc(v.st.edges, func(e core.InheritedSheet) bool {
		return e.ParentSheetID == parentID && e.InheritedSheetID == childID
	})
}

func (v *view) GetEdge(_ context.Context, parentID, childID int64) (core.InheritedSheet, error) {
	defer v.lock()()
	i := v.edgeIndex(parentID, childID)
	if i < 0 {
		return core.InheritedSheet{}, notFound("inherited sheet", fmt.Sprintf("%d->%d", childID, parentID))
	}
	return v.st.edges[i], nil
}

func (v *view) ListEdges(_ context.Context) ([]core.InheritedSheet, error) {
	defer v.lock()()
	return slices.Clone(v.st.edges), nil
}

func (v *view) CreateEdge(_ context.Context, e core.InheritedSheet) error {
	defer v.lock()()
	if v.edgeIndex(e.ParentSheetID, e.InheritedSheetID) >= 0 {
		return fmt.Errorf("inherited sheet %d->%d: %w", e.InheritedSheetID, e.ParentSheetID, core.ErrConflict)
	}
	for _, id := range []int64{e.ParentSheetID, e.InheritedSheetID} {
		if _, ok := v.st.sheets[id]; !ok {
			return notFound("sheet", id)
		}
	}
	v.st.edges = append(v.st.edges, e)
	return nil
}

func (v *view) DeleteEdge(_ context.Context, parentID, childID int64) error {
	defer v.lock()()
	i := v.edgeIndex(parentID, childID)
	if i < 0 {
		return notFound("inherited sheet", fmt.Sprintf("%d->%d", childID, parentID))
	}
	v.st.edges = slices.Delete(v.st.edges, i, i+1)
	return nil
}

// Accounts

func (v *view) GetUser(_ context.Context, id int64) (core.User, error) {
	defer v.lock()()
	u, ok := v.st.users[id]
	if !ok {
		return core.User{}, notFound("user", id)
	}
	return u, nil
}

func (v *view) findUser(match func(core.User) bool, key string) (core.User, error) {
	for _, u := range sortedValues(v.st.users) {
		if match(u) {
			return u, nil
		}
	}
	return core.User{}, notFound("user", key)
}

func (v *view) GetUserByHandle(_ context.Context, handle string) (core.User, error) {
	defer v.lock()()
	return v.findUser(func(u core.User) bool { return strings.EqualFold(u.Handle, handle) }, handle)
}

func (v *view) GetUserByToken(_ context.Context, token string) (core.User, error) {
	defer v.lock()()
	if token == "" {
		return core.User{}, notFound("user", "token")
	}
	return v.findUser(func(u core.User) bool { return u.Token == token }, "token")
}

func (v *view) ListUsers(_ context.Context) ([]core.User, error) {
	defer v.lock()()
	return sortedValues(v.st.users), nil
}

func (v *view) CreateUser(_ context.Context, u core.User) (core.User, error) {
	defer v.lock()()
	if _, err := v.findUser(func(x core.User) bool { return strings.EqualFold(x.Handle, u.Handle) }, u.Handle); err == nil {
		return core.User{}, fmt.Errorf("user %s: %w", u.Handle, core.ErrConflict)
	}
	u.ID = v.st.nextID()
	v.st.users[u.ID] = u
	return u, nil
}

func (v *view) SetUserToken(_ context.Context, id int64, token string, expiresAt time.Time) error {
	defer v.lock()()
	u, ok := v.st.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.Token, u.TokenExpiresAt = token, expiresAt
	v.st.users[id] = u
	return nil
}

func (v *view) DeleteUser(_ context.Context, id int64) error {
	defer v.lock()()
	if _, ok := v.st.users[id]; !ok {
		return notFound("user", id)
	}
	delete(v.st.users, id)
	return nil
}

func (v *view) findInvitation(match func(core.Invitation) bool, key string) (core.Invitation, error) {
	for _, inv := range sortedValues(v.st.invitations) {
		if match(inv) {
			return inv, nil
		}
	}
	return core.Invitation{}, notFound("invitation", key)
}

func (v *view) GetInvitationByHandle(_ context.Context, handle string) (core.Invitation, error) {
	defer v.lock()()
	return v.findInvitation(func(i core.Invitation) bool { return strings.EqualFold(i.Handle, handle) }, handle)
}

func (v *view) GetInvitationByHash(_ context.Context, hash string) (core.Invitation, error) {
	defer v.lock()()
	return v.findInvitation(func(i core.Invitation) bool { return i.Hash == hash }, "hash")
}

func (v *view) ListInvitations(_ context.Context) ([]core.Invitation, error) {
	defer v.lock()()
	return sortedValues(v.st.invitations), nil
}

func (v *view) CreateInvitation(_ context.Context, inv core.Invitation) (core.Invitation, error) {
	defer v.lock()()
	inv.ID = v.st.nextID()
	v.st.invitations[inv.ID] = inv
	return inv, nil
}

func (v *view) RefreshInvitation(_ context.Context, id int64, expiresAt time.Time) error {
	defer v.lock()()
	inv, ok := v.st.invitations[id]
	if !ok {
		return notFound("invitation", id)
	}
	inv.ExpiresAt = expiresAt
	v.st.invitations[id] = inv
	return nil
}

func (v *view) DeleteInvitation(_ context.Context, id int64) error {
	defer v.lock()()
	if _, ok := v.st.invitations[id]; !ok {
		return notFound("invitation", id)
	}
	delete(v.st.invitations, id)
	return nil
}
