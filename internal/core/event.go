package core

import "time"

// LedgerEventType names a committed ledger mutation.
type LedgerEventType string

const (
	EventRecordCreated LedgerEventType = "record.created"
	EventRecordUpdated LedgerEventType = "record.updated"
	EventRecordDeleted LedgerEventType = "record.deleted"
	EventEdgeCreated   LedgerEventType = "edge.created"
	EventEdgeDeleted   LedgerEventType = "edge.deleted"
	EventSheetCreated  LedgerEventType = "sheet.created"
	EventSheetRenamed  LedgerEventType = "sheet.renamed"
	EventSheetDeleted  LedgerEventType = "sheet.deleted"
)

// LedgerEvent describes a mutation after it committed. SheetID is the sheet
// the delta was applied to first; Delta is zero for structural changes.
type LedgerEvent struct {
	Type       LedgerEventType `json:"type"`
	SheetID    int64           `json:"sheet_id"`
	RecordID   int64           `json:"record_id,omitempty"`
	RecordKind RecordKind      `json:"record_kind,omitempty"`
	Delta      int64           `json:"delta"`
	OccurredAt time.Time       `json:"occurred_at"`
}
