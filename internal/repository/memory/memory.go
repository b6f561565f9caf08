// Package memory is a process-local implementation of the repositories, used
// by tests and by the server when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/repository"
)

type outcomeKey struct {
	transactionID string
	outcome       domain.TrustOutcome
}

// Store keeps every table behind one mutex. Reads return copies so callers
// cannot mutate stored state without going through Update.
type Store struct {
	mu           sync.Mutex
	users        map[string]domain.User
	items        map[string]domain.Item
	transactions map[string]domain.Transaction
	reminders    map[string]domain.Reminder
	outcomes     map[outcomeKey]struct{}
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		items:        make(map[string]domain.Item),
		transactions: make(map[string]domain.Transaction),
		reminders:    make(map[string]domain.Reminder),
		outcomes:     make(map[outcomeKey]struct{}),
		now:          time.Now,
	}
}

func (s *Store) Users() repository.UserRepository               { return userRepo{s} }
func (s *Store) Items() repository.ItemRepository               { return itemRepo{s} }
func (s *Store) Transactions() repository.TransactionRepository { return txRepo{s} }
func (s *Store) Reminders() repository.ReminderRepository       { return reminderRepo{s} }

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Users:        s.Users(),
		Items:        s.Items(),
		Transactions: s.Transactions(),
		Reminders:    s.Reminders(),
	}
}

// SetClock replaces the timestamp source used for UpdatedAt fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds unless ctx is done.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return domain.ErrConflict.With("user_id", u.ID)
	}
	now := r.s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	r.s.users[u.ID] = *u
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) ApplyTrustOutcome(_ context.Context, userID, transactionID string, outcome domain.TrustOutcome, update repository.TrustUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	key := outcomeKey{transactionID, outcome}
	if _, done := r.s.outcomes[key]; done {
		return false, nil
	}
	u.Trust = update(u.Trust)
	u.UpdatedAt = r.s.now()
	r.s.users[userID] = u
	r.s.outcomes[key] = struct{}{}
	return true, nil
}

type itemRepo struct{ s *Store }

func (r itemRepo) Create(_ context.Context, it *domain.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[it.ID]; ok {
		return domain.ErrConflict.With("item_id", it.ID)
	}
	r.s.items[it.ID] = *it
	return nil
}

func (r itemRepo) GetByID(_ context.Context, id string) (*domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &it, nil
}

func (r itemRepo) Update(_ context.Context, it *domain.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.items[it.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Title = it.Title
	cur.Description = it.Description
	cur.Category = it.Category
	cur.Condition = it.Condition
	cur.ValuePaise = it.ValuePaise
	cur.ListedPrice = it.ListedPrice
	cur.Demand = it.Demand
	cur.UpdatedAt = r.s.now()
	r.s.items[it.ID] = cur
	return nil
}

func (r itemRepo) Delist(_ context.Context, id string, at time.Time) error {
	return r.s.mutateItem(id, func(it *domain.Item) error {
		if it.DelistedAt != nil {
			return domain.ErrNotFound
		}
		it.DelistedAt = &at
		it.UpdatedAt = at
		return nil
	})
}

func (r itemRepo) Reserve(_ context.Context, id string) error {
	return r.s.mutateItem(id, func(it *domain.Item) error {
		if !it.IsAvailable || it.DelistedAt != nil {
			return domain.ErrItemUnavailable.With("item_id", id)
		}
		it.IsAvailable = false
		return nil
	})
}

func (r itemRepo) Release(_ context.Context, id string) error {
	return r.s.mutateItem(id, func(it *domain.Item) error {
		it.IsAvailable = true
		return nil
	})
}

func (r itemRepo) IncrementViewCount(_ context.Context, id string) (int64, error) {
	var n int64
	err := r.s.mutateItem(id, func(it *domain.Item) error {
		it.ViewCount++
		n = it.ViewCount
		return nil
	})
	return n, err
}

func (r itemRepo) IncrementRentalCount(_ context.Context, id string) (int64, error) {
	var n int64
	err := r.s.mutateItem(id, func(it *domain.Item) error {
		it.RentalCount++
		n = it.RentalCount
		return nil
	})
	return n, err
}

func (s *Store) mutateItem(id string, fn func(*domain.Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&it); err != nil {
		return err
	}
	s.items[id] = it
	return nil
}

type txRepo struct{ s *Store }

func (r txRepo) Create(_ context.Context, tx *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.transactions[tx.ID]; ok {
		return domain.ErrConflict.With("transaction_id", tx.ID)
	}
	if tx.Version == 0 {
		tx.Version = 1
	}
	r.s.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r txRepo) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneTransaction(tx)
	// Encoded strings are not persisted by the SQL store either.
	out.HandoffToken.Encoded = ""
	out.ReturnToken.Encoded = ""
	return &out, nil
}

func (r txRepo) Update(_ context.Context, tx *domain.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.transactions[tx.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != tx.Version {
		return domain.ErrConflict.With("transaction_id", tx.ID)
	}
	tx.Version++
	tx.UpdatedAt = r.s.now()
	r.s.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r txRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.s.transactions {
		if tx.Status == domain.TransactionStatusPending && !tx.HandoffVerified && tx.HandoffToken.IssuedAt.Before(cutoff) {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HandoffToken.IssuedAt.Before(out[j].HandoffToken.IssuedAt) })
	return truncate(out, limit), nil
}

func (r txRepo) ListReturnedWithoutOutcome(_ context.Context, limit int) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.s.transactions {
		if tx.ReturnedAt == nil || r.s.hasTimelinessOutcome(tx.ID) {
			continue
		}
		out = append(out, cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReturnedAt.Before(*out[j].ReturnedAt) })
	return truncate(out, limit), nil
}

func (r txRepo) ListLateFeesDue(_ context.Context, limit int) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.s.transactions {
		if tx.LateFeeStatus == domain.LateFeePending {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReturnedAt.Before(*out[j].ReturnedAt) })
	return truncate(out, limit), nil
}

func (s *Store) hasTimelinessOutcome(txID string) bool {
	for _, o := range []domain.TrustOutcome{domain.OutcomeOnTime, domain.OutcomeLate, domain.OutcomeVeryLate} {
		if _, ok := s.outcomes[outcomeKey{txID, o}]; ok {
			return true
		}
	}
	return false
}

type reminderRepo struct{ s *Store }

func (r reminderRepo) CreateBatch(_ context.Context, reminders []domain.Reminder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rm := range reminders {
		r.s.reminders[rm.ID] = rm
	}
	return nil
}

func (r reminderRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Reminder
	for _, rm := range r.s.reminders {
		if rm.SentAt == nil && !rm.SendAt.After(now) {
			out = append(out, rm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return truncate(out, limit), nil
}

func (r reminderRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rm, ok := r.s.reminders[id]
	if !ok {
		return domain.ErrNotFound
	}
	rm.SentAt = &at
	r.s.reminders[id] = rm
	return nil
}

func (r reminderRepo) DeleteUnsent(_ context.Context, transactionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, rm := range r.s.reminders {
		if rm.TransactionID == transactionID && rm.SentAt == nil {
			delete(r.s.reminders, id)
		}
	}
	return nil
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// cloneTransaction copies the pointer fields so stored rows never alias a
// caller's struct.
func cloneTransaction(tx domain.Transaction) domain.Transaction {
	tx.CollateralPaise = clonePtr(tx.CollateralPaise)
	tx.HandoffAt = clonePtr(tx.HandoffAt)
	tx.ReturnedAt = clonePtr(tx.ReturnedAt)
	tx.HandoffToken.ConsumedAt = clonePtr(tx.HandoffToken.ConsumedAt)
	tx.ReturnToken.ConsumedAt = clonePtr(tx.ReturnToken.ConsumedAt)
	if tx.Issue != nil {
		issue := *tx.Issue
		tx.Issue = &issue
	}
	if tx.Risk.Factors != nil {
		tx.Risk.Factors = append([]domain.RiskFactor(nil), tx.Risk.Factors...)
	}
	return tx
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
