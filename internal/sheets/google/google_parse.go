package google

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/sheets"
)

// parseRows converts a values matrix (as returned by Sheets API) into mirror
// rows. The first row must be the header; columns are located by name so a
// reordered sheet still parses. Blank rows are skipped.
func parseRows(values [][]any) ([]sheets.Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := toStrings(values[0])
	cols := make(map[string]int, len(sheets.Header))
	var missing []string
	for _, h := range sheets.Header {
		i := indexOf(headers, h)
		if i == -1 {
			missing = append(missing, h)
		}
		cols[h] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unexpected mirror header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}

	out := make([]sheets.Row, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		get := func(h string) string { return safeGet(row, cols[h]) }
		if get("Event ID") == "" {
			continue
		}

		r, err := parseRow(get)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRow(get func(string) string) (sheets.Row, error) {
	occurred, err := time.Parse(time.RFC3339, get("Occurred At"))
	if err != nil {
		return sheets.Row{}, fmt.Errorf("occurred at: %w", err)
	}
	date, err := time.Parse("2006-01-02", get("Date"))
	if err != nil {
		return sheets.Row{}, fmt.Errorf("date: %w", err)
	}
	amount, err := parseMoney(get("Amount"))
	if err != nil {
		return sheets.Row{}, fmt.Errorf("amount: %w", err)
	}
	balance, err := parseMoney(get("Balance"))
	if err != nil {
		return sheets.Row{}, fmt.Errorf("balance: %w", err)
	}

	r := sheets.Row{
		OccurredAt:    occurred.UTC(),
		EventID:       get("Event ID"),
		Kind:          amqp.EventKind(get("Kind")),
		UserID:        get("User ID"),
		TransactionID: get("Transaction ID"),
		Type:          core.TransactionType(get("Type")),
		Amount:        amount,
		PreviousType:  core.TransactionType(get("Previous Type")),
		Balance:       balance,
		Date:          date,
	}
	if raw := get("Previous Amount"); raw != "" {
		prev, err := parseMoney(raw)
		if err != nil {
			return sheets.Row{}, fmt.Errorf("previous amount: %w", err)
		}
		r.PreviousAmount = &prev
	}
	return r, nil
}

// parseMoney accepts signed amounts since balances can be negative. A comma
// decimal separator is tolerated for hand-edited cells.
func parseMoney(s string) (core.Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("parse %q: %w", s, core.ErrInvalidAmount)
	}
	return core.MoneyFromDecimal(d)
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(list []string, target string) int {
	for i, v := range list {
		if strings.EqualFold(v, target) {
			return i
		}
	}
	return -1
}

func safeGet(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
