package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Message("created").
		Field("count", 2).
		Header("Location", "/things/1").
		Write(w)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "/things/1", w.Header().Get("Location"))
	assert.JSONEq(t, `{"message":"created","count":2}`, w.Body.String())
}

func TestJSONResponseBuilder_DefaultsToOKEmptyObject(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Write(w)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		code    int
		body    string
	}{
		{"bad request", BadRequestError("bad"), http.StatusBadRequest, `{"message":"bad"}`},
		{"not found", NotFoundError("gone"), http.StatusNotFound, `{"message":"gone"}`},
		{"internal", InternalServerError(), http.StatusInternalServerError, `{"message":"internal server error"}`},
		{"custom", ErrorResponse(http.StatusTeapot, "<b>tea</b>"), http.StatusTeapot, `{"message":"<b>tea</b>"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)
			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"amount", fmt.Errorf("create transaction: %w", core.ErrInvalidAmount), http.StatusBadRequest, "amount must be a positive number with at most two decimals"},
		{"type", core.ErrInvalidType, http.StatusBadRequest, "type must be INCOME or EXPENSE"},
		{"custom validation", core.Invalid("from must be before to"), http.StatusBadRequest, "from must be before to"},
		{"unauthorized", fmt.Errorf("owner x: %w", core.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", fmt.Errorf("transaction 1: %w", core.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"not found", fmt.Errorf("delete transaction: transaction 1: %w", core.ErrNotFound), http.StatusNotFound, "not found"},
		{"conflict", fmt.Errorf("create tag: tag %q already exists: %w", "Food", core.ErrConflict), http.StatusConflict, `tag "Food" already exists`},
		{"store failure", errors.New("create transaction: database is locked"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := statusFor(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestFailHidesInternalErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/transactions", nil)

	srv.fail(w, r, "list", errors.New("pq: password authentication failed for user admin"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"message":"internal server error"}`, w.Body.String())
}
