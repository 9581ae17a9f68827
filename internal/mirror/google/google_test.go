package google

import (
	"context"
	"errors"
	"strings"
	"testing"

	"calco/internal/core"
	"calco/internal/log"
)

type fakeValues struct {
	rows    [][]any
	getErr  error
	updates int
	clears  int
	lastRng string
}

func (f *fakeValues) Get(_ context.Context, _, _ string) ([][]any, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rows, nil
}

func (f *fakeValues) Update(_ context.Context, _, rng string, rows [][]any) error {
	f.updates++
	f.lastRng = rng
	f.rows = rows
	return nil
}

func (f *fakeValues) Clear(_ context.Context, _, _ string) error {
	f.clears++
	f.rows = nil
	return nil
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	if err == nil || !strings.Contains(err.Error(), "spreadsheet id") {
		t.Fatalf("expected missing spreadsheet id error, got %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet"}, nil)
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestWriteTotals(t *testing.T) {
	values := &fakeValues{}
	c := newClient(values, Config{SpreadsheetID: "id", SheetName: "Mirror"}, log.Discard())

	err := c.WriteTotals(context.Background(), []core.Sheet{{ID: 1, Name: "A", CachedValue: 100}})
	if err != nil {
		t.Fatalf("WriteTotals: %v", err)
	}
	if values.clears != 1 || values.updates != 1 {
		t.Errorf("clears=%d updates=%d", values.clears, values.updates)
	}
	if values.lastRng != "Mirror!A1:C2" {
		t.Errorf("range = %q", values.lastRng)
	}
}

func TestSyncTotals_SkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	values := &fakeValues{}
	c := newClient(values, Config{SpreadsheetID: "id"}, log.Discard())
	sheets := []core.Sheet{{ID: 1, Name: "A", CachedValue: 100}, {ID: 2, Name: "B", CachedValue: -5}}

	wrote, err := c.SyncTotals(ctx, sheets)
	if err != nil || !wrote {
		t.Fatalf("first sync: wrote=%v err=%v", wrote, err)
	}
	wrote, err = c.SyncTotals(ctx, sheets)
	if err != nil || wrote {
		t.Fatalf("second sync: wrote=%v err=%v", wrote, err)
	}

	sheets[1].CachedValue = 10
	wrote, err = c.SyncTotals(ctx, sheets)
	if err != nil || !wrote {
		t.Fatalf("changed sync: wrote=%v err=%v", wrote, err)
	}
	if values.updates != 2 {
		t.Errorf("updates = %d, want 2", values.updates)
	}
}

func TestSyncTotals_RewritesUnreadableMirror(t *testing.T) {
	values := &fakeValues{getErr: errors.New("boom")}
	c := newClient(values, Config{SpreadsheetID: "id"}, log.Discard())

	wrote, err := c.SyncTotals(context.Background(), []core.Sheet{{ID: 1, Name: "A"}})
	if err != nil || !wrote {
		t.Fatalf("wrote=%v err=%v", wrote, err)
	}
}
