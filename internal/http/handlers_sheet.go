package http

import (
	"net/http"

	"calco/internal/core"
)

func (s *Server) handleSheetsPage(w http.ResponseWriter, r *http.Request) {
	sheets, err := s.ledger.ListSheets(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "sheets.html", s.newPage(r, "Sheets", sheets))
}

func (s *Server) handleNewSheetPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "new_sheet.html", s.newPage(r, "New sheet", nil))
}

func (s *Server) handleSheetPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.renderError(w, r, core.ErrNotFound)
		return
	}
	view, err := s.ledger.SheetView(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "sheet.html", s.newPage(r, view.Sheet.Name, view))
}

func (s *Server) handleRenameSheetPage(w http.ResponseWriter, r *http.Request) {
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
	s.render(w, r, http.StatusOK, "rename_sheet.html", s.newPage(r, "Rename "+sheet.Name, sheet))
}

// handleNewInheritedSheetPage offers every other sheet as a candidate child.
// Cycles are rejected on submit, not filtered here.
func (s *Server) handleNewInheritedSheetPage(w http.ResponseWriter, r *http.Request) {
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
	all, err := s.ledger.ListSheets(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	candidates := make([]core.Sheet, 0, len(all))
	for _, c := range all {
		if c.ID != sheet.ID {
			candidates = append(candidates, c)
		}
	}
	s.render(w, r, http.StatusOK, "new_inherited_sheet.html", s.newPage(r, "Inherit a sheet", struct {
		Sheet      core.Sheet
		Candidates []core.Sheet
		Today      string
	}{Sheet: sheet, Candidates: candidates, Today: core.Today().String()}))
}

func (s *Server) handleCreateSheet(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	sheet, err := s.ledger.CreateSheet(r.Context(), p.Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo(sheetPath(sheet.ID)).Write(w)
}

func (s *Server) handleRenameSheet(w http.ResponseWriter, r *http.Request) {
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
	if err := s.ledger.RenameSheet(r.Context(), id, p.Get("name")); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo(sheetPath(id)).Write(w)
}

// handleDeleteSheet removes the sheet; deleting a missing sheet is a no-op.
func (s *Server) handleDeleteSheet(w http.ResponseWriter, r *http.Request) {
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
	if _, err := s.ledger.DeleteSheet(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo("/sheets").Write(w)
}

func (s *Server) handleCreateInheritedSheet(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	parentID, err := p.ID("sheet_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	childID, err := p.ID("inherited_sheet_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, err := p.Date("date", core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.LinkSheet(r.Context(), parentID, childID, date); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo(sheetPath(parentID)).Write(w)
}

func (s *Server) handleDeleteInheritedSheet(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	parentID, err := p.ID("sheet_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	childID, err := p.ID("inherited_sheet_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.ledger.UnlinkSheet(r.Context(), parentID, childID); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo(sheetPath(parentID)).Write(w)
}
