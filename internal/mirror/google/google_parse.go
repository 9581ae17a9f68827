package google

import (
	"fmt"
	"strconv"
	"strings"

	"calco/internal/core"
)

var totalsHeader = []any{"ID", "Name", "Total"}

// MirroredTotal is one data row of the mirror tab.
type MirroredTotal struct {
	SheetID int64
	Name    string
	Cents   int64
}

func totalsRows(sheets []core.Sheet) [][]any {
	rows := make([][]any, 0, len(sheets)+1)
	rows = append(rows, totalsHeader)
	for _, sh := range sheets {
		rows = append(rows, []any{sh.ID, sh.Name, sh.Total().String()})
	}
	return rows
}

// parseTotals reads rows in the layout written by totalsRows. Blank rows are
// skipped; anything else that does not parse is an error.
func parseTotals(values [][]any) ([]MirroredTotal, error) {
	if len(values) == 0 {
		return nil, nil
	}
	header := toStrings(values[0])
	for i, want := range totalsHeader {
		if !strings.EqualFold(safeGet(header, i), want.(string)) {
			return nil, fmt.Errorf("unexpected header: got %v", header)
		}
	}

	var out []MirroredTotal
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(safeGet(row, 0)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad id %q", i+1, safeGet(row, 0))
		}
		cents, ok := parseEurosToCents(safeGet(row, 2))
		if !ok {
			return nil, fmt.Errorf("row %d: bad total %q", i+1, safeGet(row, 2))
		}
		out = append(out, MirroredTotal{SheetID: id, Name: safeGet(row, 1), Cents: cents})
	}
	return out, nil
}

func sameTotals(current []MirroredTotal, sheets []core.Sheet) bool {
	if len(current) != len(sheets) {
		return false
	}
	for i, sh := range sheets {
		m := current[i]
		if m.SheetID != sh.ID || m.Name != sh.Name || m.Cents != sh.CachedValue {
			return false
		}
	}
	return true
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// parseEurosToCents accepts what a spreadsheet may render for a total:
// "12.50", "-3,20", "1.234,56" or a leading currency sign.
func parseEurosToCents(s string) (int64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "€"))
	if s == "" {
		return 0, false
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	m, err := core.ParseMoney(s)
	if err != nil {
		if strings.Trim(s, "0.") == "" {
			return 0, true
		}
		return 0, false
	}
	if neg {
		return -m.Cents, true
	}
	return m.Cents, true
}
