package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/services"
)

const (
	// One alert per user, budget, month and level. Entries outlive the month.
	alertMemoryTTL  = 40 * 24 * time.Hour
	alertMemorySize = 10000
)

// Alert says a main budget's monthly usage crossed Level percent.
type Alert struct {
	UserID      string
	BudgetID    string
	BudgetName  string
	Month       string
	Level       float64
	PercentUsed float64
	Spent       core.Money
	Limit       core.Money
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// UsageReader is satisfied by services.BudgetService.
type UsageReader interface {
	MainBudgetUsage(ctx context.Context, ownerID string, ref time.Time) (services.BudgetUsage, error)
}

// BudgetAlerter notifies when an expense pushes main budget usage across the
// configured threshold or across 100%.
type BudgetAlerter struct {
	usage    UsageReader
	notifier Notifier
	levels   []float64
	sent     *cache.LRUCache[bool]
}

func NewBudgetAlerter(usage UsageReader, notifier Notifier, threshold float64) *BudgetAlerter {
	levels := []float64{100}
	if threshold > 0 && threshold < 100 {
		levels = []float64{threshold, 100}
	}
	return &BudgetAlerter{
		usage:    usage,
		notifier: notifier,
		levels:   levels,
		sent:     cache.NewLRUCache[bool](alertMemorySize, alertMemoryTTL),
	}
}

func (a *BudgetAlerter) Name() string { return "budget_alert" }

func (a *BudgetAlerter) Handle(ctx context.Context, ev *amqp.LedgerEvent) error {
	delta := ev.ExpenseDelta()
	if delta.Cents <= 0 {
		return nil
	}

	usage, err := a.usage.MainBudgetUsage(ctx, ev.UserID, ev.Date)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("budget usage for %s: %w", ev.UserID, err)
	}

	before := core.Ratio(usage.Spent.Sub(delta), usage.Budget.Amount)
	after := usage.PercentUsed

	var errs []error
	for _, level := range a.levels {
		if before >= level || after < level {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s|%g", ev.UserID, usage.Budget.ID, usage.Month, level)
		if _, done := a.sent.Get(key); done {
			continue
		}

		alert := Alert{
			UserID:      ev.UserID,
			BudgetID:    usage.Budget.ID,
			BudgetName:  usage.Budget.Name,
			Month:       usage.Month,
			Level:       level,
			PercentUsed: after,
			Spent:       usage.Spent,
			Limit:       usage.Budget.Amount,
		}
		if err := a.notifier.Notify(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("notify %g%%: %w", level, err))
			continue
		}
		a.sent.Set(key, true)
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	msg := "Main budget threshold reached"
	if a.Level >= 100 {
		msg = "Main budget exceeded"
	}
	n.logger.WarnContext(ctx, msg,
		"user_id", a.UserID,
		"budget_id", a.BudgetID,
		"budget", a.BudgetName,
		"month", a.Month,
		"level", a.Level,
		"percent_used", a.PercentUsed,
		"spent", a.Spent.String(),
		"limit", a.Limit.String())
	return nil
}
