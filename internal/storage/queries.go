package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

var _ ledger.Tx = (*Queries)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// Users

const userColumns = `id, email, password_hash, full_name, balance_cents, created_at, updated_at`

func scanUser(row rowScanner) (core.User, error) {
	var (
		u                core.User
		created, updated string
		balance          int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &balance, &created, &updated); err != nil {
		return core.User{}, err
	}
	u.Balance = core.Money{Cents: balance}
	var err error
	if u.CreatedAt, err = parseTime(created); err != nil {
		return core.User{}, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	return u, mapError(err, "user", id)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	return u, mapError(err, "user", email)
}

func (q *Queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) InsertUser(ctx context.Context, u core.User) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, balance_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Balance.Cents, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	return mapError(err, "user", u.Email)
}

func (q *Queries) UpdateUser(ctx context.Context, u core.User) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET email = ?, full_name = ?, updated_at = ? WHERE id = ?`,
		u.Email, u.FullName, formatTime(u.UpdatedAt), u.ID)
	if err != nil {
		return mapError(err, "user", u.ID)
	}
	return requireAffected(res, "user", u.ID)
}

// DeleteUser relies on ON DELETE CASCADE for everything the user owns.
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "user", id)
	}
	return requireAffected(res, "user", id)
}

func (q *Queries) AdjustBalance(ctx context.Context, userID string, delta core.Money) (core.Money, error) {
	var balance int64
	err := q.db.QueryRowContext(ctx,
		`UPDATE users SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? RETURNING balance_cents`,
		delta.Cents, formatTime(time.Now()), userID).Scan(&balance)
	if err != nil {
		return core.Money{}, mapError(err, "user", userID)
	}
	return core.Money{Cents: balance}, nil
}

func (q *Queries) SetBalance(ctx context.Context, userID string, balance core.Money) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET balance_cents = ?, updated_at = ? WHERE id = ?`,
		balance.Cents, formatTime(time.Now()), userID)
	if err != nil {
		return mapError(err, "user", userID)
	}
	return requireAffected(res, "user", userID)
}

// Transactions

const transactionColumns = `id, user_id, tag_id, geopoint_id, amount_cents, type, description, date, created_at`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t             core.Transaction
		tagID, geoID  sql.NullString
		amount        int64
		typ           string
		date, created string
	)
	if err := row.Scan(&t.ID, &t.UserID, &tagID, &geoID, &amount, &typ, &t.Description, &date, &created); err != nil {
		return core.Transaction{}, err
	}
	t.TagID = stringPtr(tagID)
	t.GeopointID = stringPtr(geoID)
	t.Amount = core.Money{Cents: amount}
	t.Type = core.TransactionType(typ)
	var err error
	if t.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	return t, mapError(err, "transaction", id)
}

// GetTransactionForUpdate needs no row lock: the pool has a single connection,
// so an open transaction already excludes every other writer.
func (q *Queries) GetTransactionForUpdate(ctx context.Context, id string) (core.Transaction, error) {
	return q.GetTransaction(ctx, id)
}

func transactionWhere(f ledger.TransactionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.From != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "date < ?")
		args = append(args, formatTime(*f.To))
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.TagID != "" {
		clauses = append(clauses, "tag_id = ?")
		args = append(args, f.TagID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q *Queries) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, int, error) {
	f = f.Normalize()
	where, args := transactionWhere(f)

	var total int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		` ORDER BY date DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := q.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (q *Queries) SumByType(ctx context.Context, userID string, from, to time.Time) (core.Money, core.Money, error) {
	var income, expenses int64
	err := q.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN type = 'INCOME' THEN amount_cents END), 0),
		   COALESCE(SUM(CASE WHEN type = 'EXPENSE' THEN amount_cents END), 0)
		 FROM transactions
		 WHERE user_id = ? AND date >= ? AND date < ?`,
		userID, formatTime(from), formatTime(to)).Scan(&income, &expenses)
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("sum transactions: %w", err)
	}
	return core.Money{Cents: income}, core.Money{Cents: expenses}, nil
}

func (q *Queries) LedgerTotal(ctx context.Context, userID string) (core.Money, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'INCOME' THEN amount_cents ELSE -amount_cents END), 0)
		 FROM transactions WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("ledger total: %w", err)
	}
	return core.Money{Cents: total}, nil
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullString(t.TagID), nullString(t.GeopointID), t.Amount.Cents, string(t.Type),
		t.Description, formatTime(t.Date), formatTime(t.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("transaction %s references a missing row: %w", t.ID, core.ErrNotFound)
	}
	return mapError(err, "transaction", t.ID)
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions
		 SET tag_id = ?, geopoint_id = ?, amount_cents = ?, type = ?, description = ?, date = ?
		 WHERE id = ?`,
		nullString(t.TagID), nullString(t.GeopointID), t.Amount.Cents, string(t.Type), t.Description,
		formatTime(t.Date), t.ID)
	if err != nil {
		return mapError(err, "transaction", t.ID)
	}
	return requireAffected(res, "transaction", t.ID)
}

func (q *Queries) DeleteTransaction(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "transaction", id)
	}
	return requireAffected(res, "transaction", id)
}

// Tags

const tagColumns = `id, user_id, name, color, icon, created_at`

func scanTag(row rowScanner) (core.Tag, error) {
	var (
		t       core.Tag
		created string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.Icon, &created); err != nil {
		return core.Tag{}, err
	}
	var err error
	t.CreatedAt, err = parseTime(created)
	return t, err
}

func (q *Queries) GetTag(ctx context.Context, id string) (core.Tag, error) {
	t, err := scanTag(q.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = ?`, id))
	return t, mapError(err, "tag", id)
}

func (q *Queries) FindTagByName(ctx context.Context, userID, name string) (core.Tag, error) {
	t, err := scanTag(q.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = ? AND name = ? COLLATE NOCASE`, userID, name))
	return t, mapError(err, "tag", name)
}

func (q *Queries) ListTags(ctx context.Context, userID string) ([]core.Tag, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	out := []core.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) InsertTag(ctx context.Context, t core.Tag) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tags (`+tagColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, t.Color, t.Icon, formatTime(t.CreatedAt))
	return mapError(err, "tag", t.Name)
}

func (q *Queries) UpdateTag(ctx context.Context, t core.Tag) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE tags SET name = ?, color = ?, icon = ? WHERE id = ?`, t.Name, t.Color, t.Icon, t.ID)
	if err != nil {
		return mapError(err, "tag", t.Name)
	}
	return requireAffected(res, "tag", t.ID)
}

func (q *Queries) DeleteTag(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE transactions SET tag_id = NULL WHERE tag_id = ?`, id); err != nil {
		return fmt.Errorf("detach tag from transactions: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `UPDATE periodic_transactions SET tag_id = NULL WHERE tag_id = ?`, id); err != nil {
		return fmt.Errorf("detach tag from periodic transactions: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "tag", id)
	}
	return requireAffected(res, "tag", id)
}

// Geopoints

const geopointColumns = `id, user_id, name, type, latitude, longitude, address, created_at`

func scanGeopoint(row rowScanner) (core.Geopoint, error) {
	var (
		g       core.Geopoint
		typ     string
		created string
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &typ, &g.Latitude, &g.Longitude, &g.Address, &created); err != nil {
		return core.Geopoint{}, err
	}
	g.Type = core.TransactionType(typ)
	var err error
	g.CreatedAt, err = parseTime(created)
	return g, err
}

func (q *Queries) GetGeopoint(ctx context.Context, id string) (core.Geopoint, error) {
	g, err := scanGeopoint(q.db.QueryRowContext(ctx, `SELECT `+geopointColumns+` FROM geopoints WHERE id = ?`, id))
	return g, mapError(err, "geopoint", id)
}

func (q *Queries) ListGeopoints(ctx context.Context, userID string) ([]core.Geopoint, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+geopointColumns+` FROM geopoints WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list geopoints: %w", err)
	}
	defer rows.Close()

	out := []core.Geopoint{}
	for rows.Next() {
		g, err := scanGeopoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan geopoint: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *Queries) InsertGeopoint(ctx context.Context, g core.Geopoint) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO geopoints (`+geopointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Name, string(g.Type), g.Latitude, g.Longitude, g.Address, formatTime(g.CreatedAt))
	return mapError(err, "geopoint", g.ID)
}

// Budgets

const budgetColumns = `id, user_id, name, amount_cents, period, start_date, end_date, is_main, description, created_at, updated_at`

func scanBudget(row rowScanner) (core.Budget, error) {
	var (
		b                core.Budget
		amount, isMain   int64
		start, end       sql.NullString
		created, updated string
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.Name, &amount, &b.Period, &start, &end, &isMain,
		&b.Description, &created, &updated); err != nil {
		return core.Budget{}, err
	}
	b.Amount = core.Money{Cents: amount}
	b.IsMain = isMain == 1
	var err error
	if b.StartDate, err = parseTimePtr(start); err != nil {
		return core.Budget{}, err
	}
	if b.EndDate, err = parseTimePtr(end); err != nil {
		return core.Budget{}, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return core.Budget{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func (q *Queries) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	b, err := scanBudget(q.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id))
	return b, mapError(err, "budget", id)
}

func (q *Queries) GetMainBudget(ctx context.Context, userID string) (core.Budget, error) {
	b, err := scanBudget(q.db.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = ? AND is_main = 1`, userID))
	return b, mapError(err, "main budget for user", userID)
}

func (q *Queries) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	out := []core.Budget{}
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) InsertBudget(ctx context.Context, b core.Budget) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, b.Amount.Cents, b.Period, formatTimePtr(b.StartDate), formatTimePtr(b.EndDate),
		boolToInt(b.IsMain), b.Description, formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return mapError(err, "budget", b.ID)
}

func (q *Queries) UpdateBudget(ctx context.Context, b core.Budget) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE budgets
		 SET name = ?, amount_cents = ?, period = ?, start_date = ?, end_date = ?, is_main = ?, description = ?, updated_at = ?
		 WHERE id = ?`,
		b.Name, b.Amount.Cents, b.Period, formatTimePtr(b.StartDate), formatTimePtr(b.EndDate),
		boolToInt(b.IsMain), b.Description, formatTime(b.UpdatedAt), b.ID)
	if err != nil {
		return mapError(err, "budget", b.ID)
	}
	return requireAffected(res, "budget", b.ID)
}

func (q *Queries) DeleteBudget(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "budget", id)
	}
	return requireAffected(res, "budget", id)
}

func (q *Queries) ClearMainBudget(ctx context.Context, userID, exceptID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE budgets SET is_main = 0 WHERE user_id = ? AND is_main = 1 AND id <> ?`, userID, exceptID)
	if err != nil {
		return fmt.Errorf("clear main budget: %w", err)
	}
	return nil
}

// Periodic transactions

const periodicColumns = `id, user_id, tag_id, amount_cents, type, description, frequency, start_date, end_date, last_processed_date, created_at`

func scanPeriodic(row rowScanner) (core.PeriodicTransaction, error) {
	var (
		p                core.PeriodicTransaction
		tagID, end, last sql.NullString
		amount           int64
		typ, freq        string
		start, created   string
	)
	if err := row.Scan(&p.ID, &p.UserID, &tagID, &amount, &typ, &p.Description, &freq, &start, &end, &last, &created); err != nil {
		return core.PeriodicTransaction{}, err
	}
	p.TagID = stringPtr(tagID)
	p.Amount = core.Money{Cents: amount}
	p.Type = core.TransactionType(typ)
	p.Frequency = core.Frequency(freq)
	var err error
	if p.StartDate, err = parseTime(start); err != nil {
		return core.PeriodicTransaction{}, err
	}
	if p.EndDate, err = parseTimePtr(end); err != nil {
		return core.PeriodicTransaction{}, err
	}
	if p.LastProcessedDate, err = parseTimePtr(last); err != nil {
		return core.PeriodicTransaction{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return core.PeriodicTransaction{}, err
	}
	return p, nil
}

func (q *Queries) queryPeriodic(ctx context.Context, query string, args ...any) ([]core.PeriodicTransaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list periodic transactions: %w", err)
	}
	defer rows.Close()

	out := []core.PeriodicTransaction{}
	for rows.Next() {
		p, err := scanPeriodic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan periodic transaction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) GetPeriodic(ctx context.Context, id string) (core.PeriodicTransaction, error) {
	p, err := scanPeriodic(q.db.QueryRowContext(ctx,
		`SELECT `+periodicColumns+` FROM periodic_transactions WHERE id = ?`, id))
	return p, mapError(err, "periodic transaction", id)
}

func (q *Queries) ListPeriodic(ctx context.Context, userID string) ([]core.PeriodicTransaction, error) {
	return q.queryPeriodic(ctx,
		`SELECT `+periodicColumns+` FROM periodic_transactions WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

func (q *Queries) ListActivePeriodic(ctx context.Context, now time.Time) ([]core.PeriodicTransaction, error) {
	ts := formatTime(now)
	return q.queryPeriodic(ctx,
		`SELECT `+periodicColumns+` FROM periodic_transactions
		 WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY start_date`, ts, ts)
}

func (q *Queries) InsertPeriodic(ctx context.Context, p core.PeriodicTransaction) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO periodic_transactions (`+periodicColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, nullString(p.TagID), p.Amount.Cents, string(p.Type), p.Description, string(p.Frequency),
		formatTime(p.StartDate), formatTimePtr(p.EndDate), formatTimePtr(p.LastProcessedDate), formatTime(p.CreatedAt))
	return mapError(err, "periodic transaction", p.ID)
}

func (q *Queries) DeletePeriodic(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM periodic_transactions WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "periodic transaction", id)
	}
	return requireAffected(res, "periodic transaction", id)
}

func (q *Queries) MarkPeriodicProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE periodic_transactions SET last_processed_date = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return mapError(err, "periodic transaction", id)
	}
	return requireAffected(res, "periodic transaction", id)
}
