package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type BudgetInput struct {
	Name        string
	Amount      core.Money
	Period      string
	StartDate   *time.Time
	EndDate     *time.Time
	IsMain      bool
	Description string
}

// BudgetPatch updates only the non-nil fields.
type BudgetPatch struct {
	Name        *string
	Amount      *core.Money
	Period      *string
	StartDate   *time.Time
	EndDate     *time.Time
	IsMain      *bool
	Description *string
}

// BudgetUsage reports how much of the main budget the month's expenses consumed.
type BudgetUsage struct {
	Budget      core.Budget `json:"budget"`
	Month       string      `json:"month"`
	Spent       core.Money  `json:"spent"`
	Remaining   core.Money  `json:"remaining"`
	PercentUsed float64     `json:"percentUsed"`
}

type BudgetService struct {
	store ledger.Store
	now   func() time.Time
	newID func() string
}

func NewBudgetService(store ledger.Store) *BudgetService {
	return &BudgetService{store: store, now: time.Now, newID: uuid.NewString}
}

func (s *BudgetService) CreateBudget(ctx context.Context, ownerID string, in BudgetInput) (core.Budget, error) {
	now := s.now()
	b := core.Budget{
		ID:          s.newID(),
		UserID:      ownerID,
		Name:        strings.TrimSpace(in.Name),
		Amount:      in.Amount,
		Period:      strings.ToUpper(strings.TrimSpace(in.Period)),
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		IsMain:      in.IsMain,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if b.IsMain {
			if err := tx.ClearMainBudget(ctx, ownerID, b.ID); err != nil {
				return err
			}
		}
		return tx.InsertBudget(ctx, b)
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget created", "budget_id", b.ID, "user_id", ownerID, "is_main", b.IsMain)
	return b, nil
}

func (s *BudgetService) UpdateBudget(ctx context.Context, budgetID, ownerID string, p BudgetPatch) (core.Budget, error) {
	var updated core.Budget
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		b, err := tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.UserID != ownerID {
			return fmt.Errorf("budget %s: %w", budgetID, core.ErrForbidden)
		}

		if p.Name != nil {
			b.Name = strings.TrimSpace(*p.Name)
		}
		if p.Amount != nil {
			b.Amount = *p.Amount
		}
		if p.Period != nil {
			b.Period = strings.ToUpper(strings.TrimSpace(*p.Period))
		}
		if p.StartDate != nil {
			b.StartDate = p.StartDate
		}
		if p.EndDate != nil {
			b.EndDate = p.EndDate
		}
		if p.Description != nil {
			b.Description = *p.Description
		}
		if p.IsMain != nil {
			b.IsMain = *p.IsMain
		}
		b.UpdatedAt = s.now()
		if err := b.Validate(); err != nil {
			return err
		}

		if b.IsMain {
			if err := tx.ClearMainBudget(ctx, ownerID, b.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget: %w", err)
	}
	return updated, nil
}

func (s *BudgetService) DeleteBudget(ctx context.Context, budgetID, ownerID string) error {
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		b, err := tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.UserID != ownerID {
			return fmt.Errorf("budget %s: %w", budgetID, core.ErrNotFound)
		}
		return tx.DeleteBudget(ctx, budgetID)
	})
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	return nil
}

func (s *BudgetService) GetBudget(ctx context.Context, budgetID, ownerID string) (core.Budget, error) {
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	if b.UserID != ownerID {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", budgetID, core.ErrForbidden)
	}
	return b, nil
}

func (s *BudgetService) ListBudgets(ctx context.Context, ownerID string) ([]core.Budget, error) {
	budgets, err := s.store.ListBudgets(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

func (s *BudgetService) GetMainBudget(ctx context.Context, ownerID string) (core.Budget, error) {
	b, err := s.store.GetMainBudget(ctx, ownerID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get main budget: %w", err)
	}
	return b, nil
}

// MainBudgetUsage measures the expenses of the month containing ref against
// the main budget.
func (s *BudgetService) MainBudgetUsage(ctx context.Context, ownerID string, ref time.Time) (BudgetUsage, error) {
	b, err := s.store.GetMainBudget(ctx, ownerID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return BudgetUsage{}, fmt.Errorf("no main budget: %w", err)
		}
		return BudgetUsage{}, fmt.Errorf("main budget usage: %w", err)
	}

	month := core.MonthOf(ref)
	_, spent, err := s.store.SumByType(ctx, ownerID, month.Start, month.End)
	if err != nil {
		return BudgetUsage{}, fmt.Errorf("main budget usage: %w", err)
	}

	return BudgetUsage{
		Budget:      b,
		Month:       month.Key(),
		Spent:       spent,
		Remaining:   b.Amount.Sub(spent),
		PercentUsed: core.Ratio(spent, b.Amount),
	}, nil
}
