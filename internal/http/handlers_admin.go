package http

import (
	"net/http"
	"strconv"

	"calco/internal/core"
)

func (s *Server) handleInvitationsPage(w http.ResponseWriter, r *http.Request) {
	actor, _ := currentUser(r.Context())
	users, err := s.accounts.ListUsers(r.Context(), actor)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	invitations, err := s.accounts.ListInvitations(r.Context(), actor)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "invitations.html", s.newPage(r, "Invitations", struct {
		Users       []core.User
		Invitations []core.Invitation
	}{Users: users, Invitations: invitations}))
}

// handleCreateInvitation issues or refreshes an invitation; the signup link
// is listed on the invitations page.
func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}
	role := core.RoleGuest
	if raw := p.Get("role"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, core.NewValidationError("role", "must be a number"))
			return
		}
		role = core.ParseUserRole(n)
	}
	actor, _ := currentUser(r.Context())
	if _, err := s.accounts.CreateInvitation(r.Context(), actor, p.Get("handle"), role); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo("/invitations").Write(w)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
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
	actor, _ := currentUser(r.Context())
	if _, err := s.accounts.DeleteUser(r.Context(), actor, id); err != nil {
		writeError(w, r, err)
		return
	}
	RedirectTo("/invitations").Write(w)
}
