// Package memory is an in-process ledger.Store used by tests and the memory backend.
//
// A unit of work holds the store lock, mutates a cloned snapshot and swaps it
// in on success; rollback simply discards the clone.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type Store struct {
	mu    sync.RWMutex
	state *snapshot
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newSnapshot()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{snapshot: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

func (s *Store) view() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Committed snapshots are never mutated, so readers can use them without the lock.

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	return s.view().GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return s.view().GetUserByEmail(ctx, email)
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.view().ListUserIDs(ctx)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return s.view().GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, int, error) {
	return s.view().ListTransactions(ctx, f)
}

func (s *Store) SumByType(ctx context.Context, userID string, from, to time.Time) (core.Money, core.Money, error) {
	return s.view().SumByType(ctx, userID, from, to)
}

func (s *Store) LedgerTotal(ctx context.Context, userID string) (core.Money, error) {
	return s.view().LedgerTotal(ctx, userID)
}

func (s *Store) GetTag(ctx context.Context, id string) (core.Tag, error) {
	return s.view().GetTag(ctx, id)
}

func (s *Store) FindTagByName(ctx context.Context, userID, name string) (core.Tag, error) {
	return s.view().FindTagByName(ctx, userID, name)
}

func (s *Store) ListTags(ctx context.Context, userID string) ([]core.Tag, error) {
	return s.view().ListTags(ctx, userID)
}

func (s *Store) GetGeopoint(ctx context.Context, id string) (core.Geopoint, error) {
	return s.view().GetGeopoint(ctx, id)
}

func (s *Store) ListGeopoints(ctx context.Context, userID string) ([]core.Geopoint, error) {
	return s.view().ListGeopoints(ctx, userID)
}

func (s *Store) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	return s.view().GetBudget(ctx, id)
}

func (s *Store) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	return s.view().ListBudgets(ctx, userID)
}

func (s *Store) GetMainBudget(ctx context.Context, userID string) (core.Budget, error) {
	return s.view().GetMainBudget(ctx, userID)
}

func (s *Store) GetPeriodic(ctx context.Context, id string) (core.PeriodicTransaction, error) {
	return s.view().GetPeriodic(ctx, id)
}

func (s *Store) ListPeriodic(ctx context.Context, userID string) ([]core.PeriodicTransaction, error) {
	return s.view().ListPeriodic(ctx, userID)
}

func (s *Store) ListActivePeriodic(ctx context.Context, now time.Time) ([]core.PeriodicTransaction, error) {
	return s.view().ListActivePeriodic(ctx, now)
}

type snapshot struct {
	users        map[string]core.User
	emails       map[string]string
	transactions map[string]core.Transaction
	tags         map[string]core.Tag
	geopoints    map[string]core.Geopoint
	budgets      map[string]core.Budget
	periodic     map[string]core.PeriodicTransaction
}

func newSnapshot() *snapshot {
	return &snapshot{
		users:        make(map[string]core.User),
		emails:       make(map[string]string),
		transactions: make(map[string]core.Transaction),
		tags:         make(map[string]core.Tag),
		geopoints:    make(map[string]core.Geopoint),
		budgets:      make(map[string]core.Budget),
		periodic:     make(map[string]core.PeriodicTransaction),
	}
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		users:        maps.Clone(s.users),
		emails:       maps.Clone(s.emails),
		transactions: maps.Clone(s.transactions),
		tags:         maps.Clone(s.tags),
		geopoints:    maps.Clone(s.geopoints),
		budgets:      maps.Clone(s.budgets),
		periodic:     maps.Clone(s.periodic),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

func (s *snapshot) GetUser(_ context.Context, id string) (core.User, error) {
	u, ok := s.users[id]
	if !ok {
		return core.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *snapshot) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return core.User{}, notFound("user", email)
	}
	return s.GetUser(ctx, id)
}

func (s *snapshot) ListUserIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *snapshot) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, notFound("transaction", id)
	}
	return t, nil
}

func (s *snapshot) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]core.Transaction, int, error) {
	f = f.Normalize()
	var matched []core.Transaction
	for _, t := range s.transactions {
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.From != nil && t.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && !t.Date.Before(*f.To) {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.TagID != "" && (t.TagID == nil || *t.TagID != f.TagID) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	total := len(matched)
	if f.Offset >= total {
		return []core.Transaction{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (s *snapshot) SumByType(_ context.Context, userID string, from, to time.Time) (core.Money, core.Money, error) {
	var income, expenses core.Money
	for _, t := range s.transactions {
		if t.UserID != userID || t.Date.Before(from) || !t.Date.Before(to) {
			continue
		}
		if t.Type == core.Income {
			income = income.Add(t.Amount)
		} else {
			expenses = expenses.Add(t.Amount)
		}
	}
	return income, expenses, nil
}

func (s *snapshot) LedgerTotal(_ context.Context, userID string) (core.Money, error) {
	var total core.Money
	for _, t := range s.transactions {
		if t.UserID == userID {
			total = total.Add(core.Delta(t.Amount, t.Type))
		}
	}
	return total, nil
}

func (s *snapshot) GetTag(_ context.Context, id string) (core.Tag, error) {
	t, ok := s.tags[id]
	if !ok {
		return core.Tag{}, notFound("tag", id)
	}
	return t, nil
}

func (s *snapshot) FindTagByName(_ context.Context, userID, name string) (core.Tag, error) {
	for _, t := range s.tags {
		if t.UserID == userID && strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return core.Tag{}, notFound("tag", name)
}

func (s *snapshot) ListTags(_ context.Context, userID string) ([]core.Tag, error) {
	out := []core.Tag{}
	for _, t := range s.tags {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *snapshot) GetGeopoint(_ context.Context, id string) (core.Geopoint, error) {
	g, ok := s.geopoints[id]
	if !ok {
		return core.Geopoint{}, notFound("geopoint", id)
	}
	return g, nil
}

func (s *snapshot) ListGeopoints(_ context.Context, userID string) ([]core.Geopoint, error) {
	out := []core.Geopoint{}
	for _, g := range s.geopoints {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *snapshot) GetBudget(_ context.Context, id string) (core.Budget, error) {
	b, ok := s.budgets[id]
	if !ok {
		return core.Budget{}, notFound("budget", id)
	}
	return b, nil
}

func (s *snapshot) ListBudgets(_ context.Context, userID string) ([]core.Budget, error) {
	out := []core.Budget{}
	for _, b := range s.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *snapshot) GetMainBudget(_ context.Context, userID string) (core.Budget, error) {
	for _, b := range s.budgets {
		if b.UserID == userID && b.IsMain {
			return b, nil
		}
	}
	return core.Budget{}, notFound("main budget for user", userID)
}

func (s *snapshot) GetPeriodic(_ context.Context, id string) (core.PeriodicTransaction, error) {
	p, ok := s.periodic[id]
	if !ok {
		return core.PeriodicTransaction{}, notFound("periodic transaction", id)
	}
	return p, nil
}

func (s *snapshot) ListPeriodic(_ context.Context, userID string) ([]core.PeriodicTransaction, error) {
	out := []core.PeriodicTransaction{}
	for _, p := range s.periodic {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *snapshot) ListActivePeriodic(_ context.Context, now time.Time) ([]core.PeriodicTransaction, error) {
	out := []core.PeriodicTransaction{}
	for _, p := range s.periodic {
		if p.ActiveAt(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// memTx mutates a private snapshot owned by one WithinTx call.
type memTx struct {
	*snapshot
}

func (t *memTx) GetTransactionForUpdate(ctx context.Context, id string) (core.Transaction, error) {
	return t.GetTransaction(ctx, id)
}

func (t *memTx) InsertUser(_ context.Context, u core.User) error {
	key := strings.ToLower(u.Email)
	if _, exists := t.emails[key]; exists {
		return fmt.Errorf("email %s: %w", u.Email, core.ErrConflict)
	}
	if _, exists := t.users[u.ID]; exists {
		return fmt.Errorf("user %s: %w", u.ID, core.ErrConflict)
	}
	t.users[u.ID] = u
	t.emails[key] = u.ID
	return nil
}

func (t *memTx) UpdateUser(_ context.Context, u core.User) error {
	current, ok := t.users[u.ID]
	if !ok {
		return notFound("user", u.ID)
	}
	oldKey, newKey := strings.ToLower(current.Email), strings.ToLower(u.Email)
	if newKey != oldKey {
		if _, taken := t.emails[newKey]; taken {
			return fmt.Errorf("email %s: %w", u.Email, core.ErrConflict)
		}
		delete(t.emails, oldKey)
		t.emails[newKey] = u.ID
	}
	current.Email = u.Email
	current.FullName = u.FullName
	current.UpdatedAt = u.UpdatedAt
	t.users[u.ID] = current
	return nil
}

// DeleteUser cascades the way the SQL schemas do.
func (t *memTx) DeleteUser(_ context.Context, id string) error {
	u, ok := t.users[id]
	if !ok {
		return notFound("user", id)
	}
	delete(t.users, id)
	delete(t.emails, strings.ToLower(u.Email))
	maps.DeleteFunc(t.transactions, func(_ string, tx core.Transaction) bool { return tx.UserID == id })
	maps.DeleteFunc(t.tags, func(_ string, tag core.Tag) bool { return tag.UserID == id })
	maps.DeleteFunc(t.geopoints, func(_ string, g core.Geopoint) bool { return g.UserID == id })
	maps.DeleteFunc(t.budgets, func(_ string, b core.Budget) bool { return b.UserID == id })
	maps.DeleteFunc(t.periodic, func(_ string, p core.PeriodicTransaction) bool { return p.UserID == id })
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx core.Transaction) error {
	if _, ok := t.users[tx.UserID]; !ok {
		return notFound("user", tx.UserID)
	}
	if _, exists := t.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrConflict)
	}
	t.transactions[tx.ID] = tx
	return nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	if _, ok := t.transactions[tx.ID]; !ok {
		return notFound("transaction", tx.ID)
	}
	t.transactions[tx.ID] = tx
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, id string) error {
	if _, ok := t.transactions[id]; !ok {
		return notFound("transaction", id)
	}
	delete(t.transactions, id)
	return nil
}

func (t *memTx) AdjustBalance(_ context.Context, userID string, delta core.Money) (core.Money, error) {
	u, ok := t.users[userID]
	if !ok {
		return core.Money{}, notFound("user", userID)
	}
	u.Balance = u.Balance.Add(delta)
	u.UpdatedAt = time.Now().UTC()
	t.users[userID] = u
	return u.Balance, nil
}

func (t *memTx) SetBalance(_ context.Context, userID string, balance core.Money) error {
	u, ok := t.users[userID]
	if !ok {
		return notFound("user", userID)
	}
	u.Balance = balance
	u.UpdatedAt = time.Now().UTC()
	t.users[userID] = u
	return nil
}

func (t *memTx) InsertTag(_ context.Context, tag core.Tag) error {
	if _, exists := t.tags[tag.ID]; exists {
		return fmt.Errorf("tag %s: %w", tag.ID, core.ErrConflict)
	}
	t.tags[tag.ID] = tag
	return nil
}

func (t *memTx) UpdateTag(_ context.Context, tag core.Tag) error {
	if _, ok := t.tags[tag.ID]; !ok {
		return notFound("tag", tag.ID)
	}
	t.tags[tag.ID] = tag
	return nil
}

func (t *memTx) DeleteTag(_ context.Context, id string) error {
	if _, ok := t.tags[id]; !ok {
		return notFound("tag", id)
	}
	delete(t.tags, id)
	for txID, tx := range t.transactions {
		if tx.TagID != nil && *tx.TagID == id {
			tx.TagID = nil
			t.transactions[txID] = tx
		}
	}
	for pID, p := range t.periodic {
		if p.TagID != nil && *p.TagID == id {
			p.TagID = nil
			t.periodic[pID] = p
		}
	}
	return nil
}

func (t *memTx) InsertGeopoint(_ context.Context, g core.Geopoint) error {
	if _, exists := t.geopoints[g.ID]; exists {
		return fmt.Errorf("geopoint %s: %w", g.ID, core.ErrConflict)
	}
	t.geopoints[g.ID] = g
	return nil
}

func (t *memTx) InsertBudget(_ context.Context, b core.Budget) error {
	if _, exists := t.budgets[b.ID]; exists {
		return fmt.Errorf("budget %s: %w", b.ID, core.ErrConflict)
	}
	t.budgets[b.ID] = b
	return nil
}

func (t *memTx) UpdateBudget(_ context.Context, b core.Budget) error {
	if _, ok := t.budgets[b.ID]; !ok {
		return notFound("budget", b.ID)
	}
	t.budgets[b.ID] = b
	return nil
}

func (t *memTx) DeleteBudget(_ context.Context, id string) error {
	if _, ok := t.budgets[id]; !ok {
		return notFound("budget", id)
	}
	delete(t.budgets, id)
	return nil
}

func (t *memTx) ClearMainBudget(_ context.Context, userID, exceptID string) error {
	for id, b := range t.budgets {
		if b.UserID == userID && b.IsMain && id != exceptID {
			b.IsMain = false
			t.budgets[id] = b
		}
	}
	return nil
}

func (t *memTx) InsertPeriodic(_ context.Context, p core.PeriodicTransaction) error {
	if _, exists := t.periodic[p.ID]; exists {
		return fmt.Errorf("periodic transaction %s: %w", p.ID, core.ErrConflict)
	}
	t.periodic[p.ID] = p
	return nil
}

func (t *memTx) DeletePeriodic(_ context.Context, id string) error {
	if _, ok := t.periodic[id]; !ok {
		return notFound("periodic transaction", id)
	}
	delete(t.periodic, id)
	return nil
}

func (t *memTx) MarkPeriodicProcessed(_ context.Context, id string, at time.Time) error {
	p, ok := t.periodic[id]
	if !ok {
		return notFound("periodic transaction", id)
	}
	p.LastProcessedDate = &at
	t.periodic[id] = p
	return nil
}
