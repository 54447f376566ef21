package google

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/sheets"
)

func headerRow() []any {
	out := make([]any, len(sheets.Header))
	for i, h := range sheets.Header {
		out[i] = h
	}
	return out
}

func TestParseRows(t *testing.T) {
	values := [][]any{
		headerRow(),
		{"2025-07-01T08:00:00Z", "ev-1", "transaction.created", "u1", "t1", "INCOME", 1200.5, "", "", "1200.50", "2025-07-01"},
		{},
		{"2025-07-02T08:00:00Z", "ev-2", "transaction.updated", "u1", "t1", "EXPENSE", "99,90", "INCOME", "1200.50", "-99.90", "2025-07-01"},
	}

	rows, err := parseRows(values)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, core.Money{Cents: 120050}, rows[0].Amount)
	assert.Nil(t, rows[0].PreviousAmount)
	assert.Equal(t, time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC), rows[0].OccurredAt)

	assert.Equal(t, core.Money{Cents: 9990}, rows[1].Amount)
	assert.Equal(t, core.Income, rows[1].PreviousType)
	require.NotNil(t, rows[1].PreviousAmount)
	assert.Equal(t, int64(120050), rows[1].PreviousAmount.Cents)
	assert.Equal(t, int64(-9990), rows[1].Balance.Cents)
}

func TestParseRows_ReorderedColumns(t *testing.T) {
	header := headerRow()
	header[0], header[1] = header[1], header[0]
	values := [][]any{
		header,
		{"ev-1", "2025-07-01T08:00:00Z", "transaction.deleted", "u1", "t1", "EXPENSE", "10.00", "", "", "0.00", "2025-07-01"},
	}

	rows, err := parseRows(values)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ev-1", rows[0].EventID)
}

func TestParseRows_Errors(t *testing.T) {
	rows, err := parseRows(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = parseRows([][]any{{"Event ID", "Amount"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected mirror header")
	assert.Contains(t, err.Error(), "Occurred At")

	_, err = parseRows([][]any{
		headerRow(),
		{"2025-07-01T08:00:00Z", "ev-1", "transaction.created", "u1", "t1", "INCOME", "lots", "", "", "0", "2025-07-01"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Contains(t, err.Error(), "row 2")
}

func TestRowValuesRoundTrip(t *testing.T) {
	ev := testEvent("ev-9")
	row := sheets.RowFromEvent(ev)

	rows, err := parseRows([][]any{headerRow(), row.Values()})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row, rows[0])
}
