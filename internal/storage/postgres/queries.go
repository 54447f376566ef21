package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

var _ ledger.Tx = (*Queries)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const userColumns = `id::text, email, password_hash, full_name, balance_cents, created_at, updated_at`

func scanUser(row rowScanner) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Balance.Cents, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1::uuid`, id))
	return u, mapError(err, "user", id)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	return u, mapError(err, "user", email)
}

func (q *Queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT id::text FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collect(rows, func(r rowScanner) (string, error) {
		var id string
		return id, r.Scan(&id)
	})
}

func (q *Queries) InsertUser(ctx context.Context, u core.User) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, balance_cents, created_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Balance.Cents, u.CreatedAt, u.UpdatedAt)
	return mapError(err, "user", u.Email)
}

func (q *Queries) UpdateUser(ctx context.Context, u core.User) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET email = $1, full_name = $2, updated_at = $3 WHERE id = $4::uuid`,
		u.Email, u.FullName, u.UpdatedAt, u.ID)
	if err != nil {
		return mapError(err, "user", u.ID)
	}
	return requireAffected(tag, "user", u.ID)
}

// DeleteUser relies on ON DELETE CASCADE for everything the user owns.
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1::uuid`, id)
	if err != nil {
		return mapError(err, "user", id)
	}
	return requireAffected(tag, "user", id)
}

func (q *Queries) AdjustBalance(ctx context.Context, userID string, delta core.Money) (core.Money, error) {
	var balance core.Money
	err := q.db.QueryRow(ctx,
		`UPDATE users SET balance_cents = balance_cents + $1, updated_at = now()
		 WHERE id = $2::uuid RETURNING balance_cents`,
		delta.Cents, userID).Scan(&balance.Cents)
	return balance, mapError(err, "user", userID)
}

func (q *Queries) SetBalance(ctx context.Context, userID string, balance core.Money) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET balance_cents = $1, updated_at = now() WHERE id = $2::uuid`, balance.Cents, userID)
	if err != nil {
		return mapError(err, "user", userID)
	}
	return requireAffected(tag, "user", userID)
}

const transactionColumns = `id::text, user_id::text, tag_id::text, geopoint_id::text, amount_cents, type, description, date, created_at`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t   core.Transaction
		typ string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TagID, &t.GeopointID, &t.Amount.Cents, &typ, &t.Description, &t.Date, &t.CreatedAt)
	t.Type = core.TransactionType(typ)
	return t, err
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1::uuid`, id))
	return t, mapError(err, "transaction", id)
}

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1::uuid FOR UPDATE`, id))
	return t, mapError(err, "transaction", id)
}

func transactionWhere(f ledger.TransactionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d::uuid", f.UserID)
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date < $%d", *f.To)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.TagID != "" {
		add("tag_id = $%d::uuid", f.TagID)
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
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY date DESC, created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)+1, len(args)+2)
	rows, err := q.db.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	out, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, 0, fmt.Errorf("scan transactions: %w", err)
	}
	return out, total, nil
}

func (q *Queries) SumByType(ctx context.Context, userID string, from, to time.Time) (core.Money, core.Money, error) {
	var income, expenses core.Money
	err := q.db.QueryRow(ctx,
		`SELECT
		   COALESCE(SUM(amount_cents) FILTER (WHERE type = 'INCOME'), 0)::bigint,
		   COALESCE(SUM(amount_cents) FILTER (WHERE type = 'EXPENSE'), 0)::bigint
		 FROM transactions
		 WHERE user_id = $1::uuid AND date >= $2 AND date < $3`,
		userID, from, to).Scan(&income.Cents, &expenses.Cents)
	if err != nil {
		return core.Money{}, core.Money{}, mapError(err, "sums for user", userID)
	}
	return income, expenses, nil
}

func (q *Queries) LedgerTotal(ctx context.Context, userID string) (core.Money, error) {
	var total core.Money
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'INCOME' THEN amount_cents ELSE -amount_cents END), 0)::bigint
		 FROM transactions WHERE user_id = $1::uuid`, userID).Scan(&total.Cents)
	if err != nil {
		return core.Money{}, mapError(err, "ledger total for user", userID)
	}
	return total, nil
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, tag_id, geopoint_id, amount_cents, type, description, date, created_at)
		 VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5, $6, $7, $8, $9)`,
		t.ID, t.UserID, emptyToNil(t.TagID), emptyToNil(t.GeopointID), t.Amount.Cents, string(t.Type),
		t.Description, t.Date, t.CreatedAt)
	return mapError(err, "transaction", t.ID)
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions
		 SET tag_id = $1::uuid, geopoint_id = $2::uuid, amount_cents = $3, type = $4, description = $5, date = $6
		 WHERE id = $7::uuid`,
		emptyToNil(t.TagID), emptyToNil(t.GeopointID), t.Amount.Cents, string(t.Type), t.Description, t.Date, t.ID)
	if err != nil {
		return mapError(err, "transaction", t.ID)
	}
	return requireAffected(tag, "transaction", t.ID)
}

func (q *Queries) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1::uuid`, id)
	if err != nil {
		return mapError(err, "transaction", id)
	}
	return requireAffected(tag, "transaction", id)
}

const tagColumns = `id::text, user_id::text, name, color, icon, created_at`

func scanTag(row rowScanner) (core.Tag, error) {
	var t core.Tag
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.Icon, &t.CreatedAt)
	return t, err
}

func (q *Queries) GetTag(ctx context.Context, id string) (core.Tag, error) {
	t, err := scanTag(q.db.QueryRow(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = $1::uuid`, id))
	return t, mapError(err, "tag", id)
}

func (q *Queries) FindTagByName(ctx context.Context, userID, name string) (core.Tag, error) {
	t, err := scanTag(q.db.QueryRow(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = $1::uuid AND lower(name) = lower($2)`, userID, name))
	return t, mapError(err, "tag", name)
}

func (q *Queries) ListTags(ctx context.Context, userID string) ([]core.Tag, error) {
	rows, err := q.db.Query(ctx, `SELECT `+tagColumns+` FROM tags WHERE user_id = $1::uuid ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return collect(rows, scanTag)
}

func (q *Queries) InsertTag(ctx context.Context, t core.Tag) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO tags (id, user_id, name, color, icon, created_at) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.Name, t.Color, t.Icon, t.CreatedAt)
	return mapError(err, "tag", t.Name)
}

func (q *Queries) UpdateTag(ctx context.Context, t core.Tag) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE tags SET name = $1, color = $2, icon = $3 WHERE id = $4::uuid`, t.Name, t.Color, t.Icon, t.ID)
	if err != nil {
		return mapError(err, "tag", t.Name)
	}
	return requireAffected(tag, "tag", t.ID)
}

// DeleteTag relies on ON DELETE SET NULL to detach transactions and schedules.
func (q *Queries) DeleteTag(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM tags WHERE id = $1::uuid`, id)
	if err != nil {
		return mapError(err, "tag", id)
	}
	return requireAffected(tag, "tag", id)
}

const geopointColumns = `id::text, user_id::text, name, type, latitude, longitude, address, created_at`

func scanGeopoint(row rowScanner) (core.Geopoint, error) {
	var (
		g   core.Geopoint
		typ string
	)
	err := row.Scan(&g.ID, &g.UserID, &g.Name, &typ, &g.Latitude, &g.Longitude, &g.Address, &g.CreatedAt)
	g.Type = core.TransactionType(typ)
	return g, err
}

func (q *Queries) GetGeopoint(ctx context.Context, id string) (core.Geopoint, error) {
	g, err := scanGeopoint(q.db.QueryRow(ctx, `SELECT `+geopointColumns+` FROM geopoints WHERE id = $1::uuid`, id))
	return g, mapError(err, "geopoint", id)
}

func (q *Queries) ListGeopoints(ctx context.Context, userID string) ([]core.Geopoint, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+geopointColumns+` FROM geopoints WHERE user_id = $1::uuid ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list geopoints: %w", err)
	}
	return collect(rows, scanGeopoint)
}

func (q *Queries) InsertGeopoint(ctx context.Context, g core.Geopoint) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO geopoints (id, user_id, name, type, latitude, longitude, address, created_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.UserID, g.Name, string(g.Type), g.Latitude, g.Longitude, g.Address, g.CreatedAt)
	return mapError(err, "geopoint", g.ID)
}

const budgetColumns = `id::text, user_id::text, name, amount_cents, period, start_date, end_date, is_main, description, created_at, updated_at`

func scanBudget(row rowScanner) (core.Budget, error) {
	var b core.Budget
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.Amount.Cents, &b.Period, &b.StartDate, &b.EndDate, &b.IsMain,
		&b.Description, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (q *Queries) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	b, err := scanBudget(q.db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = $1::uuid`, id))
	return b, mapError(err, "budget", id)
}

func (q *Queries) GetMainBudget(ctx context.Context, userID string) (core.Budget, error) {
	b, err := scanBudget(q.db.QueryRow(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = $1::uuid AND is_main`, userID))
	return b, mapError(err, "main budget for user", userID)
}

func (q *Queries) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = $1::uuid ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return collect(rows, scanBudget)
}

func (q *Queries) InsertBudget(ctx context.Context, b core.Budget) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO budgets (id, user_id, name, amount_cents, period, start_date, end_date, is_main, description, created_at, updated_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.UserID, b.Name, b.Amount.Cents, b.Period, b.StartDate, b.EndDate, b.IsMain, b.Description,
		b.CreatedAt, b.UpdatedAt)
	return mapError(err, "budget", b.ID)
}

func (q *Queries) UpdateBudget(ctx context.Context, b core.Budget) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE budgets
		 SET name = $1, amount_cents = $2, period = $3, start_date = $4, end_date = $5, is_main = $6,
		     description = $7, updated_at = $8
		 WHERE id = $9::uuid`,
		b.Name, b.Amount.Cents, b.Period, b.StartDate, b.EndDate, b.IsMain, b.Description, b.UpdatedAt, b.ID)
	if err != nil {
		return mapError(err, "budget", b.ID)
	}
	return requireAffected(tag, "budget", b.ID)
}

func (q *Queries) DeleteBudget(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM budgets WHERE id = $1::uuid`, id)
	if err != nil {
		return mapError(err, "budget", id)
	}
	return requireAffected(tag, "budget", id)
}

func (q *Queries) ClearMainBudget(ctx context.Context, userID, exceptID string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE budgets SET is_main = FALSE WHERE user_id = $1::uuid AND is_main AND id::text <> $2`, userID, exceptID)
	if err != nil {
		return fmt.Errorf("clear main budget: %w", err)
	}
	return nil
}

const periodicColumns = `id::text, user_id::text, tag_id::text, amount_cents, type, description, frequency, start_date, end_date, last_processed_date, created_at`

func scanPeriodic(row rowScanner) (core.PeriodicTransaction, error) {
	var (
		p         core.PeriodicTransaction
		typ, freq string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.TagID, &p.Amount.Cents, &typ, &p.Description, &freq, &p.StartDate,
		&p.EndDate, &p.LastProcessedDate, &p.CreatedAt)
	p.Type = core.TransactionType(typ)
	p.Frequency = core.Frequency(freq)
	return p, err
}

func (q *Queries) GetPeriodic(ctx context.Context, id string) (core.PeriodicTransaction, error) {
	p, err := scanPeriodic(q.db.QueryRow(ctx,
		`SELECT `+periodicColumns+` FROM periodic_transactions WHERE id = $1::uuid`, id))
	return p, mapError(err, "periodic transaction", id)
}

func (q *Queries) ListPeriodic(ctx context.Context, userID string) ([]core.PeriodicTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+periodicColumns+` FROM periodic_transactions WHERE user_id = $1::uuid ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list periodic transactions: %w", err)
	}
	return collect(rows, scanPeriodic)
}

func (q *Queries) ListActivePeriodic(ctx context.Context, now time.Time) ([]core.PeriodicTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+periodicColumns+` FROM periodic_transactions
		 WHERE start_date <= $1 AND (end_date IS NULL OR end_date >= $1)
		 ORDER BY start_date`, now)
	if err != nil {
		return nil, fmt.Errorf("list active periodic transactions: %w", err)
	}
	return collect(rows, scanPeriodic)
}

func (q *Queries) InsertPeriodic(ctx context.Context, p core.PeriodicTransaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO periodic_transactions
		   (id, user_id, tag_id, amount_cents, type, description, frequency, start_date, end_date, last_processed_date, created_at)
		 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, emptyToNil(p.TagID), p.Amount.Cents, string(p.Type), p.Description, string(p.Frequency),
		p.StartDate, p.EndDate, p.LastProcessedDate, p.CreatedAt)
	return mapError(err, "periodic transaction", p.ID)
}

func (q *Queries) DeletePeriodic(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM periodic_transactions WHERE id = $1::uuid`, id)
	if err != nil {
		return mapError(err, "periodic transaction", id)
	}
	return requireAffected(tag, "periodic transaction", id)
}

func (q *Queries) MarkPeriodicProcessed(ctx context.Context, id string, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE periodic_transactions SET last_processed_date = $1 WHERE id = $2::uuid`, at, id)
	if err != nil {
		return mapError(err, "periodic transaction", id)
	}
	return requireAffected(tag, "periodic transaction", id)
}
