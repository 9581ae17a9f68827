package core

import (
	"strings"
	"time"
)

const (
	KindExpense RecordKind = "expense"
	KindIncome  RecordKind = "income"
)

const dateLayout = "2006-01-02"

const maxNameLength = 200

type (
	// RecordKind distinguishes the two line item flavours a sheet owns.
	RecordKind string

	Date struct {
		time.Time
	}

	// Sheet is a bucket of line items. CachedValue is the running total in
	// cents, including every inherited sheet's total.
	Sheet struct {
		ID          int64
		Name        string
		CachedValue int64
	}

	// Record is an expense or an income owned by exactly one sheet.
	Record struct {
		ID      int64
		Kind    RecordKind
		Name    string
		Amount  Money
		Date    Date
		SheetID int64
	}

	// InheritedSheet is a directed edge: the parent aggregates the child's total.
	InheritedSheet struct {
		ParentSheetID    int64
		InheritedSheetID int64
		Date             Date
	}

	// SheetView bundles everything the sheet page renders.
	SheetView struct {
		Sheet    Sheet
		Expenses []Record
		Incomes  []Record
		Children []Sheet
		Parents  []Sheet
	}
)

// Kinds lists every record kind.
func Kinds() []RecordKind {
	return []RecordKind{KindExpense, KindIncome}
}

// Sign is -1 for expenses and +1 for incomes.
func (k RecordKind) Sign() int64 {
	if k == KindIncome {
		return 1
	}
	return -1
}

func (k RecordKind) Valid() bool {
	return k == KindExpense || k == KindIncome
}

func (k RecordKind) String() string {
	return string(k)
}

// ParseRecordKind accepts the singular or plural form used in URLs.
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expense", "expenses":
		return KindExpense, nil
	case "income", "incomes":
		return KindIncome, nil
	}
	return "", ErrInvalidKind
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateFromUnix converts stored unix seconds back to a Date.
func DateFromUnix(sec int64) Date {
	return Date{Time: time.Unix(sec, 0).UTC()}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// Today returns the current UTC date.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String formats the date as YYYY-MM-DD, the format used by forms.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// Total returns the cached value as Money for display.
func (s Sheet) Total() Money {
	return Money{Cents: s.CachedValue}
}

func (s Sheet) Validate() error {
	return validateName(s.Name)
}

// SignedAmount is the contribution of r to its sheet's total.
func (r Record) SignedAmount() int64 {
	return r.Kind.Sign() * r.Amount.Cents
}

func (r Record) Validate() error {
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if r.SheetID <= 0 {
		return ErrInvalidSheetID
	}
	return nil
}

func (e InheritedSheet) Validate() error {
	if e.ParentSheetID <= 0 || e.InheritedSheetID <= 0 {
		return ErrInvalidSheetID
	}
	if e.ParentSheetID == e.InheritedSheetID {
		return ErrSelfInheritance
	}
	return nil
}
