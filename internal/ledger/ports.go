// Package ledger defines the persistence ports of the budgeting ledger.
//
// Every method takes a context and reports missing rows as core.ErrNotFound.
// Implementations live in ledger/memory and storage.
package ledger

import (
	"context"
	"time"

	"calco/internal/core"
)

type (
	// SheetStore persists sheets and their cached totals.
	SheetStore interface {
		GetSheet(ctx context.Context, id int64) (core.Sheet, error)
		GetSheetByName(ctx context.Context, name string) (core.Sheet, error)
		ListSheets(ctx context.Context) ([]core.Sheet, error)
		// ListChildSheets returns the sheets directly inherited by parentID.
		ListChildSheets(ctx context.Context, parentID int64) ([]core.Sheet, error)
		// ListParentSheets returns one entry per edge whose child is childID.
		// Edges pointing at a missing parent are skipped.
		ListParentSheets(ctx context.Context, childID int64) ([]core.Sheet, error)
		CreateSheet(ctx context.Context, name string) (core.Sheet, error)
		RenameSheet(ctx context.Context, id int64, name string) error
		// AddToSheetValue atomically adds delta to the sheet's cached value.
		AddToSheetValue(ctx context.Context, id int64, delta int64) error
		// DeleteSheet removes the sheet, its records and every edge touching it.
		DeleteSheet(ctx context.Context, id int64) error
	}

	// RecordStore persists expenses and incomes.
	RecordStore interface {
		GetRecord(ctx context.Context, kind core.RecordKind, id int64) (core.Record, error)
		ListRecordsBySheet(ctx context.Context, kind core.RecordKind, sheetID int64) ([]core.Record, error)
		CreateRecord(ctx context.Context, r core.Record) (core.Record, error)
		// UpdateRecord overwrites name, amount and date. The owning sheet never changes.
		UpdateRecord(ctx context.Context, r core.Record) error
		DeleteRecord(ctx context.Context, kind core.RecordKind, id int64) error
	}

	// EdgeStore persists inheritance edges. A (parent, child) pair is unique.
	EdgeStore interface {
		GetEdge(ctx context.Context, parentID, childID int64) (core.InheritedSheet, error)
		ListEdges(ctx context.Context) ([]core.InheritedSheet, error)
		CreateEdge(ctx context.Context, e core.InheritedSheet) error
		DeleteEdge(ctx context.Context, parentID, childID int64) error
	}

	// AccountStore persists users and invitations.
	AccountStore interface {
		GetUser(ctx context.Context, id int64) (core.User, error)
		GetUserByHandle(ctx context.Context, handle string) (core.User, error)
		GetUserByToken(ctx context.Context, token string) (core.User, error)
		ListUsers(ctx context.Context) ([]core.User, error)
		CreateUser(ctx context.Context, u core.User) (core.User, error)
		SetUserToken(ctx context.Context, id int64, token string, expiresAt time.Time) error
		DeleteUser(ctx context.Context, id int64) error

		GetInvitationByHandle(ctx context.Context, handle string) (core.Invitation, error)
		GetInvitationByHash(ctx context.Context, hash string) (core.Invitation, error)
		ListInvitations(ctx context.Context) ([]core.Invitation, error)
		CreateInvitation(ctx context.Context, inv core.Invitation) (core.Invitation, error)
		RefreshInvitation(ctx context.Context, id int64, expiresAt time.Time) error
		DeleteInvitation(ctx context.Context, id int64) error
	}

	// Tx is everything that can run inside a unit of work.
	Tx interface {
		SheetStore
		RecordStore
		EdgeStore
		AccountStore
	}

	// Store is a Tx bound to the underlying connection plus transaction control.
	Store interface {
		Tx
		// WithinTx runs fn in a unit of work. All writes made through the
		// given Tx commit together when fn returns nil and roll back otherwise.
		WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
		Ping(ctx context.Context) error
		Close() error
	}
)
