// Package http exposes the ledger services as a JSON API.
//
// This file implements utilities for decoding request bodies and query
// parameters into service inputs.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

const maxBodyBytes = 1 << 20

const dateLayout = "2006-01-02"

// decodeJSON reads a single JSON object into dst. Malformed bodies and
// unknown fields are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, core.ErrInvalidInput):
			return err
		case errors.Is(err, io.EOF):
			return core.Invalid("request body is empty")
		case errors.As(err, &maxErr):
			return core.Invalid("request body exceeds %d bytes", maxErr.Limit)
		default:
			return core.Invalid("malformed JSON body")
		}
	}
	if dec.More() {
		return core.Invalid("request body must contain a single JSON object")
	}
	return nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC midnight).
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, core.Invalid("date %q must be RFC 3339 or YYYY-MM-DD", s)
}

// parseEndDate reads the exclusive upper bound of a range. A plain date
// covers that whole day, so "2025-03-31" becomes 2025-04-01T00:00:00Z.
func parseEndDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, strings.TrimSpace(s)); err == nil {
		return t.AddDate(0, 0, 1), nil
	}
	return parseDate(s)
}

// parseOptionalDate returns nil for an empty or absent value.
func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.Invalid("%s must be a non-negative integer", key)
	}
	return n, nil
}

// parseTransactionFilter reads limit, offset, from, to, type and tag_id.
// from is inclusive. to is exclusive for timestamps and inclusive for plain dates.
// Defaults and caps are applied by the service.
func parseTransactionFilter(q url.Values) (ledger.TransactionFilter, error) {
	var f ledger.TransactionFilter
	var err error

	if f.Limit, err = queryInt(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(q, "offset"); err != nil {
		return f, err
	}
	if v := q.Get("from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseEndDate(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.To = &t
	}
	if v := q.Get("type"); v != "" {
		typ, err := core.ParseTransactionType(v)
		if err != nil {
			return f, err
		}
		f.Type = typ
	}
	f.TagID = sanitizeInput(q.Get("tag_id"))
	return f, nil
}

// sanitizeInput drops control characters other than tab and newlines and trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}
