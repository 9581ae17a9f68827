package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"calco/internal/core"
)

func TestRequestBodyParser_JSON(t *testing.T) {
	body := `{"id": 123, "name": "test", "amount": "42.5"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !parser.IsJSON() {
		t.Error("Expected IsJSON() to be true")
	}
	if id, err := parser.ID("id"); err != nil || id != 123 {
		t.Errorf("ID('id') = %d, %v; want 123", id, err)
	}
	if name := parser.Get("name"); name != "test" {
		t.Errorf("Get('name') = %q, want 'test'", name)
	}
	if m, err := parser.Money("amount"); err != nil || m.Cents != 4250 {
		t.Errorf("Money('amount') = %v, %v; want 4250 cents", m, err)
	}
}

func TestRequestBodyParser_FormData(t *testing.T) {
	body := "id=456&name=+form+test%01+&password=+secret+&date=2024-03-01"
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if parser.IsJSON() {
		t.Error("Expected IsJSON() to be false for form data")
	}
	if name := parser.Get("name"); name != "form test" {
		t.Errorf("Get('name') = %q, want 'form test'", name)
	}
	if pw := parser.GetRaw("password"); pw != " secret " {
		t.Errorf("GetRaw('password') = %q, passwords are not trimmed", pw)
	}
	d, err := parser.Date("date", core.Date{})
	if err != nil || d.String() != "2024-03-01" {
		t.Errorf("Date('date') = %v, %v", d, err)
	}
}

func TestRequestBodyParser_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(""))

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if val := parser.Get("nonexistent"); val != "" {
		t.Errorf("Get('nonexistent') = %q, want empty string", val)
	}
	if id, err := parser.OptionalID("sheet_id"); err != nil || id != 0 {
		t.Errorf("OptionalID() = %d, %v; want 0, nil", id, err)
	}
	fallback := core.NewDate(2024, 1, 2)
	if d, err := parser.Date("date", fallback); err != nil || d != fallback {
		t.Errorf("Date() = %v, %v; want fallback", d, err)
	}
	if _, err := parser.Date("date", core.Date{}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Date() without fallback error = %v", err)
	}
}

func TestRequestBodyParser_InvalidValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("id=-3&sheet_id=abc&amount=ten&date=01/03/2024"))
	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"negative id", func() error { _, err := parser.ID("id"); return err }},
		{"non numeric id", func() error { _, err := parser.OptionalID("sheet_id"); return err }},
		{"amount", func() error { _, err := parser.Money("amount"); return err }},
		{"date", func() error { _, err := parser.Date("date", core.Today()); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, core.ErrValidation) {
				t.Errorf("error = %v, want a validation error", err)
			}
		})
	}
}

func TestRequestBodyParser_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"id":`))
	if err := NewRequestBodyParser(req).Parse(); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestPathID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/sheet/42", nil)
	req.SetPathValue("id", "42")
	if id, err := pathID(req); err != nil || id != 42 {
		t.Errorf("pathID() = %d, %v", id, err)
	}
	req.SetPathValue("id", "x")
	if _, err := pathID(req); err == nil {
		t.Error("expected error for non numeric id")
	}
}

func TestFormatEuros(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "€0,00"},
		{1234, "€12,34"},
		{-505, "-€5,05"},
		{100000, "€1000,00"},
	}
	for _, tt := range tests {
		if got := formatEuros(tt.cents); got != tt.want {
			t.Errorf("formatEuros(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
