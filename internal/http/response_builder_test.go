package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"calco/internal/core"
)

func TestResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Status(http.StatusOK).
		BodyString("test").
		Write(w)

	if w.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "test" {
		t.Errorf("Body = %q, want %q", w.Body.String(), "test")
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestResponseBuilder_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Header("X-Custom", "value").
		Status(http.StatusCreated).
		Write(w)

	if w.Header().Get("X-Custom") != "value" {
		t.Errorf("Custom header not set")
	}
	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestResponseBuilder_Redirect(t *testing.T) {
	w := httptest.NewRecorder()
	RedirectTo("/sheet/7").Write(w)

	if w.Code != http.StatusFound {
		t.Errorf("Status code = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/sheet/7" {
		t.Errorf("Location = %q", loc)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		builder    *ResponseBuilder
		wantStatus int
		wantBody   string
	}{
		{"bad request", BadRequestError("Invalid input"), http.StatusBadRequest, "Invalid input"},
		{"unprocessable entity", UnprocessableEntityError("name: is required"), http.StatusUnprocessableEntity, "name: is required"},
		{"conflict", ConflictError("already exists"), http.StatusConflict, "already exists"},
		{"unauthorized", UnauthorizedError("nope"), http.StatusUnauthorized, "nope"},
		{"internal server error", InternalServerError(), http.StatusInternalServerError, "Internal server error"},
		{"not found", NotFoundError(), http.StatusNotFound, "HTTP 404: Not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestErrorPage_EscapesHTML(t *testing.T) {
	w := httptest.NewRecorder()

	ErrorPage(http.StatusBadRequest, "<script>alert('xss')</script>").Write(w)

	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("Error page did not escape HTML")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("Error page did not properly escape HTML entities")
	}
}

func TestAPIErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", core.ErrInvalidAmount, http.StatusUnprocessableEntity, "amount: must be a positive amount up to 100000000000.00"},
		{"wrapped cycle", errors.Join(errors.New("link"), core.ErrCycle), http.StatusUnprocessableEntity, ""},
		{"conflict", core.ErrConflict, http.StatusConflict, "already exists"},
		{"bad credentials", core.ErrUnauthorized, http.StatusUnauthorized, ""},
		{"not found", core.ErrNotFound, http.StatusNotFound, "HTTP 404: Not found"},
		{"forbidden hides route", core.ErrForbidden, http.StatusNotFound, "HTTP 404: Not found"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodPost, "/api/x", nil), tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
