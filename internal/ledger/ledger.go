// Package ledger defines the persistence contract for users, transactions and
// the records that hang off them.
//
// Every balance mutation happens inside Store.WithinTx so that the ledger row
// and the cached balance commit or roll back together.
package ledger

import (
	"context"
	"time"

	"fintrack/internal/core"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	UserID string
	From   *time.Time // inclusive
	To     *time.Time // exclusive
	Type   core.TransactionType
	TagID  string
	Limit  int
	Offset int
}

// Normalize applies pagination defaults and bounds.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Reader exposes queries that need no unit of work.
type Reader interface {
	GetUser(ctx context.Context, id string) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	// ListTransactions returns the requested page, newest date first, plus the unpaged total.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, int, error)
	// SumByType aggregates the owner's ledger over [from, to).
	SumByType(ctx context.Context, userID string, from, to time.Time) (income, expenses core.Money, err error)
	// LedgerTotal is the signed sum of every transaction the owner has.
	LedgerTotal(ctx context.Context, userID string) (core.Money, error)

	GetTag(ctx context.Context, id string) (core.Tag, error)
	FindTagByName(ctx context.Context, userID, name string) (core.Tag, error)
	ListTags(ctx context.Context, userID string) ([]core.Tag, error)

	GetGeopoint(ctx context.Context, id string) (core.Geopoint, error)
	ListGeopoints(ctx context.Context, userID string) ([]core.Geopoint, error)

	GetBudget(ctx context.Context, id string) (core.Budget, error)
	ListBudgets(ctx context.Context, userID string) ([]core.Budget, error)
	GetMainBudget(ctx context.Context, userID string) (core.Budget, error)

	GetPeriodic(ctx context.Context, id string) (core.PeriodicTransaction, error)
	ListPeriodic(ctx context.Context, userID string) ([]core.PeriodicTransaction, error)
	ListActivePeriodic(ctx context.Context, now time.Time) ([]core.PeriodicTransaction, error)
}

// Tx is a unit of work. Reads through a Tx observe its own uncommitted writes.
type Tx interface {
	Reader

	// GetTransactionForUpdate reads the row and locks it until the unit of work ends
	// where the engine supports row locks.
	GetTransactionForUpdate(ctx context.Context, id string) (core.Transaction, error)

	InsertUser(ctx context.Context, u core.User) error
	// UpdateUser rewrites email and full name. A taken email yields ErrConflict.
	UpdateUser(ctx context.Context, u core.User) error
	// DeleteUser removes the user with every transaction, tag, geopoint, budget
	// and periodic transaction they own.
	DeleteUser(ctx context.Context, id string) error

	InsertTransaction(ctx context.Context, t core.Transaction) error
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	// AdjustBalance performs balance = balance + delta atomically and returns the new balance.
	AdjustBalance(ctx context.Context, userID string, delta core.Money) (core.Money, error)
	// SetBalance overwrites the cached balance. Reserved for repairs.
	SetBalance(ctx context.Context, userID string, balance core.Money) error

	InsertTag(ctx context.Context, t core.Tag) error
	UpdateTag(ctx context.Context, t core.Tag) error
	// DeleteTag removes the tag and detaches it from transactions and schedules.
	DeleteTag(ctx context.Context, id string) error

	InsertGeopoint(ctx context.Context, g core.Geopoint) error

	InsertBudget(ctx context.Context, b core.Budget) error
	UpdateBudget(ctx context.Context, b core.Budget) error
	DeleteBudget(ctx context.Context, id string) error
	// ClearMainBudget unsets is_main on every budget of the user except exceptID.
	ClearMainBudget(ctx context.Context, userID, exceptID string) error

	InsertPeriodic(ctx context.Context, p core.PeriodicTransaction) error
	DeletePeriodic(ctx context.Context, id string) error
	MarkPeriodicProcessed(ctx context.Context, id string, at time.Time) error
}

// Store is implemented by the memory, SQLite and Postgres backends.
type Store interface {
	Reader

	// WithinTx runs fn in one atomic unit of work. An error or panic from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
