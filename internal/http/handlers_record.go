package http

import (
	"net/http"

	"calco/internal/core"
)

// recordForm feeds record_form.html for both creating and editing.
type recordForm struct {
	Kind   core.RecordKind
	Sheet  core.Sheet
	Record core.Record
	Action string
	Edit   bool
	Today  string
}

func kindTitle(kind core.RecordKind) string {
	if kind == core.KindIncome {
		return "income"
	}
	return "expense"
}

// apiPath is the collection route of kind, e.g. /api/expenses.
func apiPath(kind core.RecordKind) string {
	return "/api/" + kindTitle(kind) + "s"
}

func (s *Server) handleNewRecordPage(kind core.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.renderError(w, r, core.ErrNotFound)
			return
		}
		sheet, err := s.ledger.GetSheet(r.Context(), id)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "record_form.html", s.newPage(r, "New "+kindTitle(kind), recordForm{
			Kind:   kind,
			Sheet:  sheet,
			Action: apiPath(kind),
			Today:  core.Today().String(),
		}))
	}
}

func (s *Server) handleEditRecordPage(kind core.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.renderError(w, r, core.ErrNotFound)
			return
		}
		rec, err := s.ledger.GetRecord(r.Context(), kind, id)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		sheet, err := s.ledger.GetSheet(r.Context(), rec.SheetID)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "record_form.html", s.newPage(r, "Edit "+kindTitle(kind), recordForm{
			Kind:   kind,
			Sheet:  sheet,
			Record: rec,
			Action: apiPath(kind) + "/update-by-id",
			Edit:   true,
			Today:  rec.Date.String(),
		}))
	}
}

func (s *Server) handleCreateRecord(kind core.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := NewRequestBodyParser(r)
		if err := p.Parse(); err != nil {
			BadRequestError("invalid request body").Write(w)
			return
		}
		rec, err := recordFromForm(p, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rec.SheetID, err = p.ID("sheet_id"); err != nil {
			writeError(w, r, err)
			return
		}
		created, err := s.ledger.CreateRecord(r.Context(), rec)
		if err != nil {
			writeError(w, r, err)
			return
		}
		RedirectTo(sheetPath(created.SheetID)).Write(w)
	}
}

// handleUpdateRecord edits a record. A record that no longer exists is
// nothing to do: the client goes back to the sheet it came from.
func (s *Server) handleUpdateRecord(kind core.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := NewRequestBodyParser(r)
		if err := p.Parse(); err != nil {
			BadRequestError("invalid request body").Write(w)
			return
		}
		rec, err := recordFromForm(p, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rec.ID, err = p.ID("id"); err != nil {
			writeError(w, r, err)
			return
		}
		fallbackSheet, err := p.OptionalID("sheet_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		updated, found, err := s.ledger.UpdateRecord(r.Context(), rec)
		if err != nil {
			writeError(w, r, err)
			return
		}
		RedirectTo(afterRecordChange(updated, found, fallbackSheet)).Write(w)
	}
}

func (s *Server) handleDeleteRecord(kind core.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := NewRequestBodyParser(r)
		if err := p.Parse(); err != nil {
			BadRequestError("invalid request body").Write(w)
			return
		}
		id, err := p.ID("id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		fallbackSheet, err := p.OptionalID("sheet_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		deleted, found, err := s.ledger.DeleteRecord(r.Context(), kind, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		RedirectTo(afterRecordChange(deleted, found, fallbackSheet)).Write(w)
	}
}

func recordFromForm(p *RequestBodyParser, kind core.RecordKind) (core.Record, error) {
	amount, err := p.Money("amount")
	if err != nil {
		return core.Record{}, err
	}
	date, err := p.Date("date", core.Date{})
	if err != nil {
		return core.Record{}, err
	}
	return core.Record{Kind: kind, Name: p.Get("name"), Amount: amount, Date: date}, nil
}

func afterRecordChange(rec core.Record, found bool, fallbackSheet int64) string {
	switch {
	case found:
		return sheetPath(rec.SheetID)
	case fallbackSheet > 0:
		return sheetPath(fallbackSheet)
	}
	return "/sheets"
}
