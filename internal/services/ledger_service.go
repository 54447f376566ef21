package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// EventPublisher receives ledger events after commit.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// TransactionInput carries the caller-controlled fields of a transaction.
// A nil Date means "now" on create and "unchanged" on update.
type TransactionInput struct {
	Amount      core.Money
	Type        core.TransactionType
	TagID       *string
	GeopointID  *string
	Description string
	Date        *time.Time
}

type TransactionResult struct {
	Transaction core.Transaction `json:"transaction"`
	Balance     core.Money       `json:"balance"`
}

type TransactionPage struct {
	Transactions []core.Transaction
	Total        int
	Limit        int
	Offset       int
}

// BalanceAudit compares the cached balance with the ledger it summarises.
type BalanceAudit struct {
	UserID string     `json:"user_id"`
	Cached core.Money `json:"cached"`
	Ledger core.Money `json:"ledger"`
	Drift  core.Money `json:"drift"`
}

func (a BalanceAudit) Consistent() bool { return a.Drift.IsZero() }

// LedgerService is the only writer of user balances. Every ledger mutation and
// its balance delta commit in one unit of work.
type LedgerService struct {
	store     ledger.Store
	publisher EventPublisher
	stats     cache.StatsCache
	now       func() time.Time
	newID     func() string
}

// NewLedgerService accepts nil publisher and stats cache.
func NewLedgerService(store ledger.Store, publisher EventPublisher, stats cache.StatsCache) *LedgerService {
	return &LedgerService{
		store:     store,
		publisher: publisher,
		stats:     stats,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *LedgerService) CreateTransaction(ctx context.Context, ownerID string, in TransactionInput) (TransactionResult, error) {
	return s.create(ctx, ownerID, in, nil)
}

// create runs extra inside the same unit of work, after the balance moved.
func (s *LedgerService) create(ctx context.Context, ownerID string, in TransactionInput, extra func(ledger.Tx) error) (TransactionResult, error) {
	now := s.now()
	t := core.Transaction{
		ID:          s.newID(),
		UserID:      ownerID,
		TagID:       normalizeRef(in.TagID),
		GeopointID:  normalizeRef(in.GeopointID),
		Amount:      in.Amount,
		Type:        in.Type,
		Description: in.Description,
		Date:        now,
		CreatedAt:   now,
	}
	if in.Date != nil {
		t.Date = *in.Date
	}
	if err := t.Validate(); err != nil {
		return TransactionResult{}, err
	}

	var res TransactionResult
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.GetUser(ctx, ownerID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("owner %s: %w", ownerID, core.ErrUnauthorized)
			}
			return err
		}
		if err := checkRefs(ctx, tx, ownerID, t.TagID, t.GeopointID); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		balance, err := tx.AdjustBalance(ctx, ownerID, core.Delta(t.Amount, t.Type))
		if err != nil {
			return err
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		res = TransactionResult{Transaction: t, Balance: balance}
		return nil
	})
	if err != nil {
		return TransactionResult{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", t.ID,
		"user_id", ownerID,
		"type", t.Type,
		"amount", t.Amount.String(),
		"balance", res.Balance.String())

	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.TransactionCreated, t, res.Balance))
	return res, nil
}

// UpdateTransaction replaces the caller-controlled fields and moves the
// balance by delta(new) - delta(old), old being the row locked in this unit of work.
func (s *LedgerService) UpdateTransaction(ctx context.Context, transactionID, ownerID string, in TransactionInput) (TransactionResult, error) {
	var (
		res  TransactionResult
		prev core.Transaction
	)
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		old, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if old.UserID != ownerID {
			return fmt.Errorf("transaction %s: %w", transactionID, core.ErrForbidden)
		}

		updated := old
		updated.Amount = in.Amount
		updated.Type = in.Type
		updated.TagID = normalizeRef(in.TagID)
		updated.GeopointID = normalizeRef(in.GeopointID)
		updated.Description = in.Description
		if in.Date != nil {
			updated.Date = *in.Date
		}
		if err := updated.Validate(); err != nil {
			return err
		}
		if err := checkRefs(ctx, tx, ownerID, updated.TagID, updated.GeopointID); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return err
		}

		adjustment := core.Delta(updated.Amount, updated.Type).Sub(core.Delta(old.Amount, old.Type))
		balance, err := tx.AdjustBalance(ctx, ownerID, adjustment)
		if err != nil {
			return err
		}
		prev = old
		res = TransactionResult{Transaction: updated, Balance: balance}
		return nil
	})
	if err != nil {
		return TransactionResult{}, fmt.Errorf("update transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction updated",
		"transaction_id", transactionID,
		"user_id", ownerID,
		"previous_amount", prev.Amount.String(),
		"amount", res.Transaction.Amount.String(),
		"balance", res.Balance.String())

	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.TransactionUpdated, res.Transaction, res.Balance).WithPrevious(prev))
	return res, nil
}

// DeleteTransaction reports ErrNotFound both for missing rows and rows of
// another user.
func (s *LedgerService) DeleteTransaction(ctx context.Context, transactionID, ownerID string) (core.Money, error) {
	var (
		balance core.Money
		removed core.Transaction
	)
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		old, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if old.UserID != ownerID {
			return fmt.Errorf("transaction %s: %w", transactionID, core.ErrNotFound)
		}
		if err := tx.DeleteTransaction(ctx, transactionID); err != nil {
			return err
		}
		balance, err = tx.AdjustBalance(ctx, ownerID, core.Delta(old.Amount, old.Type).Neg())
		if err != nil {
			return err
		}
		removed = old
		return nil
	})
	if err != nil {
		return core.Money{}, fmt.Errorf("delete transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", transactionID,
		"user_id", ownerID,
		"balance", balance.String())

	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.TransactionDeleted, removed, balance))
	return balance, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, transactionID, ownerID string) (core.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if t.UserID != ownerID {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", transactionID, core.ErrForbidden)
	}
	return t, nil
}

// ListTransactions always scopes the filter to ownerID.
func (s *LedgerService) ListTransactions(ctx context.Context, ownerID string, f ledger.TransactionFilter) (TransactionPage, error) {
	f.UserID = ownerID
	f = f.Normalize()
	if f.Type != "" && !f.Type.Valid() {
		return TransactionPage{}, core.ErrInvalidType
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return TransactionPage{}, core.Invalid("from must be before to")
	}

	rows, total, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return TransactionPage{}, fmt.Errorf("list transactions: %w", err)
	}
	return TransactionPage{Transactions: rows, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// MonthlyStatistics compares the month containing ref with the month before,
// both computed in ref's location.
func (s *LedgerService) MonthlyStatistics(ctx context.Context, ownerID string, ref time.Time) (core.MonthlyStatistics, error) {
	current := core.MonthOf(ref)
	previous := current.Previous()
	key := current.Start.Format(time.RFC3339)

	// The generation is read before summing so a write committed while we sum
	// makes the fill below a no-op instead of caching pre-write figures.
	var gen uint64
	cacheable := false
	if s.stats != nil {
		gen, cacheable = s.stats.Generation(ctx, ownerID)
	}
	if cacheable {
		if cached, ok := s.stats.GetStats(ctx, ownerID, gen, key); ok {
			return cached, nil
		}
	}

	var cur, prev core.PeriodTotals
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		income, expenses, err := s.store.SumByType(gctx, ownerID, current.Start, current.End)
		if err != nil {
			return fmt.Errorf("current month: %w", err)
		}
		cur = core.NewPeriodTotals(income, expenses)
		return nil
	})
	g.Go(func() error {
		income, expenses, err := s.store.SumByType(gctx, ownerID, previous.Start, previous.End)
		if err != nil {
			return fmt.Errorf("previous month: %w", err)
		}
		prev = core.NewPeriodTotals(income, expenses)
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.MonthlyStatistics{}, fmt.Errorf("monthly statistics: %w", err)
	}

	stats := core.NewMonthlyStatistics(cur, prev)
	if cacheable {
		s.stats.SetStats(ctx, ownerID, gen, key, stats)
	}
	return stats, nil
}

func (s *LedgerService) AuditBalance(ctx context.Context, ownerID string) (BalanceAudit, error) {
	u, err := s.store.GetUser(ctx, ownerID)
	if err != nil {
		return BalanceAudit{}, fmt.Errorf("audit balance: %w", err)
	}
	total, err := s.store.LedgerTotal(ctx, ownerID)
	if err != nil {
		return BalanceAudit{}, fmt.Errorf("audit balance: %w", err)
	}
	return BalanceAudit{UserID: ownerID, Cached: u.Balance, Ledger: total, Drift: u.Balance.Sub(total)}, nil
}

// AuditAll audits every user, a few at a time.
func (s *LedgerService) AuditAll(ctx context.Context) ([]BalanceAudit, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	audits := make([]BalanceAudit, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			a, err := s.AuditBalance(gctx, id)
			if err != nil {
				return err
			}
			audits[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return audits, nil
}

// RepairBalance overwrites the cached balance with the ledger sum. It is the
// only write that does not go through a delta.
func (s *LedgerService) RepairBalance(ctx context.Context, ownerID string) (BalanceAudit, error) {
	var audit BalanceAudit
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, ownerID)
		if err != nil {
			return err
		}
		total, err := tx.LedgerTotal(ctx, ownerID)
		if err != nil {
			return err
		}
		audit = BalanceAudit{UserID: ownerID, Cached: u.Balance, Ledger: total, Drift: u.Balance.Sub(total)}
		if audit.Consistent() {
			return nil
		}
		return tx.SetBalance(ctx, ownerID, total)
	})
	if err != nil {
		return BalanceAudit{}, fmt.Errorf("repair balance: %w", err)
	}

	if !audit.Consistent() {
		slog.WarnContext(ctx, "Balance repaired",
			"user_id", ownerID,
			"cached", audit.Cached.String(),
			"ledger", audit.Ledger.String())
		s.invalidate(ctx, ownerID)
	}
	return audit, nil
}

func (s *LedgerService) afterCommit(ctx context.Context, ev *amqp.LedgerEvent) {
	s.invalidate(ctx, ev.UserID)

	if s.publisher == nil {
		slog.WarnContext(ctx, "Event publisher not available, skipping ledger event", "kind", ev.Kind)
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"event_id", ev.EventID,
			"kind", ev.Kind,
			"transaction_id", ev.TransactionID,
			"error", err)
	}
}

// ForgetUser drops cached statistics of a deleted account.
func (s *LedgerService) ForgetUser(ctx context.Context, userID string) {
	s.invalidate(ctx, userID)
}

func (s *LedgerService) invalidate(ctx context.Context, userID string) {
	if s.stats != nil {
		s.stats.InvalidateUser(ctx, userID)
	}
}

func normalizeRef(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	v := *id
	return &v
}

// checkRefs verifies that tag and geopoint exist and belong to the owner.
func checkRefs(ctx context.Context, tx ledger.Reader, ownerID string, tagID, geopointID *string) error {
	if tagID != nil {
		tag, err := tx.GetTag(ctx, *tagID)
		if errors.Is(err, core.ErrNotFound) || (err == nil && tag.UserID != ownerID) {
			return core.Invalid("tag %s does not exist", *tagID)
		}
		if err != nil {
			return err
		}
	}
	if geopointID != nil {
		g, err := tx.GetGeopoint(ctx, *geopointID)
		if errors.Is(err, core.ErrNotFound) || (err == nil && g.UserID != ownerID) {
			return core.Invalid("geopoint %s does not exist", *geopointID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
