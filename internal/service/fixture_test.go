package service_test

import (
	"bytes"
	"context"
	"sync"
	"time"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/exchange"
	"peerlend-backend/internal/payment"
	"peerlend-backend/internal/repository"
	"peerlend-backend/internal/repository/memory"
	"peerlend-backend/internal/service"
)

// t0 is a Wednesday afternoon.
var t0 = time.Date(2026, 5, 6, 14, 0, 0, 0, time.UTC)

const (
	lenderID   = "lender-1"
	borrowerID = "borrower-1"
	strangerID = "stranger-1"
	itemID     = "item-1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc    service.CustodyService
	store  *memory.Store
	repos  repository.Repositories
	gw     *payment.InMemoryGateway
	tokens *exchange.Protocol
	clock  *clock
}

func newProtocol() *exchange.Protocol {
	keys, err := exchange.NewKeyring(map[string][]byte{"k1": bytes.Repeat([]byte{7}, exchange.RootKeyBytes)}, "k1")
	if err != nil {
		panic(err)
	}
	return exchange.NewProtocol(keys, 0)
}

// newFixture seeds a lender with a textbook listing, a seasoned borrower and
// an unrelated user.
func newFixture() *fixture {
	f := &fixture{
		store:  memory.NewStore(),
		gw:     payment.NewInMemoryGateway(),
		tokens: newProtocol(),
		clock:  &clock{now: t0},
	}
	f.store.SetClock(f.clock.Now)
	f.repos = f.store.Repositories()
	f.svc = f.newService(f.repos)

	ctx := context.Background()
	seed := []domain.User{
		{ID: lenderID, Email: "lender@example.com", Name: "Lender", Trust: domain.Trust{Score: domain.DefaultTrustScore}, CreatedAt: t0.AddDate(-1, 0, 0)},
		{ID: borrowerID, Email: "borrower@example.com", Name: "Borrower", Trust: domain.Trust{Score: 90, TotalBorrows: 20, OnTimeReturns: 19}, CreatedAt: t0.Add(-200 * 24 * time.Hour)},
		{ID: strangerID, Email: "stranger@example.com", Name: "Stranger", Trust: domain.Trust{Score: domain.DefaultTrustScore}, CreatedAt: t0.AddDate(0, -6, 0)},
	}
	for i := range seed {
		if err := f.repos.Users.Create(ctx, &seed[i]); err != nil {
			panic(err)
		}
	}
	f.addItem(itemID, domain.CategoryTextbook, domain.ToPaise(500))
	return f
}

func (f *fixture) newService(repos repository.Repositories) service.CustodyService {
	return service.NewCustodyService(service.CustodyDeps{
		Repos:    repos,
		Payments: f.gw,
		Tokens:   f.tokens,
		Fees:     service.DefaultFeeSchedule(),
		Now:      f.clock.Now,
	})
}

func (f *fixture) addItem(id string, category domain.ItemCategory, valuePaise int64) {
	err := f.repos.Items.Create(context.Background(), &domain.Item{
		ID:          id,
		OwnerID:     lenderID,
		Title:       "Engineering Mathematics",
		Category:    category,
		Condition:   domain.ConditionGood,
		ValuePaise:  valuePaise,
		ListedPrice: 40,
		Demand:      domain.DemandMedium,
		IsAvailable: true,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	})
	if err != nil {
		panic(err)
	}
}

func (f *fixture) input() service.CreateTransactionInput {
	return service.CreateTransactionInput{
		ItemID:         itemID,
		BorrowerID:     borrowerID,
		LenderID:       lenderID,
		BorrowStart:    t0,
		ExpectedReturn: t0.Add(48 * time.Hour),
		DeliveryMethod: domain.DeliverySelf,
		Payment:        domain.UPIDetails{UPIID: "borrower@okbank"},
	}
}

func (f *fixture) item(id string) *domain.Item {
	it, err := f.repos.Items.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return it
}

func (f *fixture) user(id string) *domain.User {
	u, err := f.repos.Users.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return u
}

func (f *fixture) stored(id string) *domain.Transaction {
	tx, err := f.repos.Transactions.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return tx
}

// lenderPayouts lists the amounts transferred to the lender, in order.
func (f *fixture) lenderPayouts() []int64 {
	var out []int64
	for _, m := range f.movements("transfer") {
		if m.Destination == lenderID {
			out = append(out, m.Amount)
		}
	}
	return out
}

// movements returns the recorded money events of one kind.
func (f *fixture) movements(op string) []payment.Movement {
	var out []payment.Movement
	for _, m := range f.gw.Movements() {
		if m.Operation == op {
			out = append(out, m)
		}
	}
	return out
}
