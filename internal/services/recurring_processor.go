package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// errAlreadyProcessed aborts a run that lost the race against another processor.
var errAlreadyProcessed = errors.New("periodic transaction already processed")

type PeriodicInput struct {
	Amount      core.Money
	Type        core.TransactionType
	TagID       *string
	Description string
	Frequency   core.Frequency
	StartDate   time.Time
	EndDate     *time.Time
}

// RecurringProcessor manages periodic transaction schedules and materialises
// the due ones through the ledger service.
type RecurringProcessor struct {
	store  ledger.Store
	ledger *LedgerService
	now    func() time.Time
	newID  func() string
}

func NewRecurringProcessor(store ledger.Store, ledgerService *LedgerService) *RecurringProcessor {
	return &RecurringProcessor{
		store:  store,
		ledger: ledgerService,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (p *RecurringProcessor) CreatePeriodic(ctx context.Context, ownerID string, in PeriodicInput) (core.PeriodicTransaction, error) {
	pt := core.PeriodicTransaction{
		ID:          p.newID(),
		UserID:      ownerID,
		TagID:       normalizeRef(in.TagID),
		Amount:      in.Amount,
		Type:        in.Type,
		Description: in.Description,
		Frequency:   in.Frequency,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CreatedAt:   p.now(),
	}
	if pt.StartDate.IsZero() {
		pt.StartDate = pt.CreatedAt
	}
	if err := pt.Validate(); err != nil {
		return core.PeriodicTransaction{}, err
	}

	err := p.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := checkRefs(ctx, tx, ownerID, pt.TagID, nil); err != nil {
			return err
		}
		return tx.InsertPeriodic(ctx, pt)
	})
	if err != nil {
		return core.PeriodicTransaction{}, fmt.Errorf("create periodic transaction: %w", err)
	}

	slog.InfoContext(ctx, "Periodic transaction created",
		"periodic_id", pt.ID,
		"user_id", ownerID,
		"frequency", pt.Frequency)
	return pt, nil
}

func (p *RecurringProcessor) ListPeriodic(ctx context.Context, ownerID string) ([]core.PeriodicTransaction, error) {
	items, err := p.store.ListPeriodic(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list periodic transactions: %w", err)
	}
	return items, nil
}

func (p *RecurringProcessor) DeletePeriodic(ctx context.Context, periodicID, ownerID string) error {
	err := p.store.WithinTx(ctx, func(tx ledger.Tx) error {
		pt, err := tx.GetPeriodic(ctx, periodicID)
		if err != nil {
			return err
		}
		if pt.UserID != ownerID {
			return fmt.Errorf("periodic transaction %s: %w", periodicID, core.ErrNotFound)
		}
		return tx.DeletePeriodic(ctx, periodicID)
	})
	if err != nil {
		return fmt.Errorf("delete periodic transaction: %w", err)
	}
	return nil
}

// ProcessDue creates one transaction for every active schedule that is due at
// now and returns how many were created. A failing item is logged and skipped.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil || p.ledger == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	active, err := p.store.ListActivePeriodic(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active periodic transactions: %w", err)
	}

	slog.InfoContext(ctx, "Processing periodic transactions",
		"total_active", len(active),
		"processing_date", now.Format("2006-01-02"))

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, pt := range active {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ok, err := p.processOne(gctx, pt, now)
			if err != nil {
				slog.ErrorContext(gctx, "Failed to materialise periodic transaction",
					"periodic_id", pt.ID,
					"user_id", pt.UserID,
					"error", err)
				return nil
			}
			if ok {
				processed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(processed.Load()), err
	}

	slog.InfoContext(ctx, "Periodic transaction processing complete",
		"processed", processed.Load(),
		"total_checked", len(active))
	return int(processed.Load()), nil
}

func (p *RecurringProcessor) processOne(ctx context.Context, pt core.PeriodicTransaction, now time.Time) (bool, error) {
	checker, err := GetDuenessChecker(pt.Frequency)
	if err != nil {
		return false, err
	}
	var last time.Time
	if pt.LastProcessedDate != nil {
		last = *pt.LastProcessedDate
	}
	if !checker.IsDue(last, now, pt.StartDate) {
		return false, nil
	}

	date := now
	_, err = p.ledger.create(ctx, pt.UserID, TransactionInput{
		Amount:      pt.Amount,
		Type:        pt.Type,
		TagID:       pt.TagID,
		Description: pt.Description,
		Date:        &date,
	}, func(tx ledger.Tx) error {
		cur, err := tx.GetPeriodic(ctx, pt.ID)
		if err != nil {
			return err
		}
		if !sameInstant(cur.LastProcessedDate, pt.LastProcessedDate) {
			return errAlreadyProcessed
		}
		return tx.MarkPeriodicProcessed(ctx, pt.ID, now)
	})
	if errors.Is(err, errAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "Created transaction from periodic schedule",
		"periodic_id", pt.ID,
		"amount", pt.Amount.String(),
		"frequency", pt.Frequency)
	return true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
