// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Handlers read form-encoded posts; JSON bodies with the same field names
// are accepted too.

package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"calco/internal/core"
)

// maxBodyBytes bounds what a single form post may carry.
const maxBodyBytes = 1 << 20

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads the body once and stores it for subsequent
// parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetRaw returns the value without sanitizing, for passwords.
func (p *RequestBodyParser) GetRaw(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return stringValue(val)
		}
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// ID parses a positive identifier field.
func (p *RequestBodyParser) ID(key string) (int64, error) {
	return parseID(key, p.Get(key))
}

// OptionalID is ID that returns 0 when the field is absent.
func (p *RequestBodyParser) OptionalID(key string) (int64, error) {
	if p.Get(key) == "" {
		return 0, nil
	}
	return p.ID(key)
}

// Money parses an amount field such as "12.50".
func (p *RequestBodyParser) Money(key string) (core.Money, error) {
	return core.ParseMoney(p.Get(key))
}

// Date parses a YYYY-MM-DD field. An empty field yields fallback.
func (p *RequestBodyParser) Date(key string, fallback core.Date) (core.Date, error) {
	v := p.Get(key)
	if v == "" {
		if fallback.IsZero() {
			return core.Date{}, core.ErrInvalidDate
		}
		return fallback, nil
	}
	return core.ParseDate(v)
}

// ContentType returns the Content-Type header value.
func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func parseID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewValidationError(field, "must be a positive integer")
	}
	return id, nil
}

// pathID reads the {id} wildcard of the matched route.
func pathID(r *http.Request) (int64, error) {
	return parseID("id", r.PathValue("id"))
}
