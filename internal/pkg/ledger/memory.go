package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/draftmint/creditledger/app/models"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
)

// memoryStore backs the in-memory repository. A single mutex stands in for
// the database row locks: WithinTransaction holds it for the whole
// read-modify-write, which satisfies the same serialization contract.
type memoryStore struct {
	mu       sync.Mutex
	nextID   uint
	balances map[balanceKey]models.CreditBalance
	subs     map[uint]models.Subscription
	txns     []models.CreditTransaction
}

type balanceKey struct {
	userID   uint
	category string
}

// memoryRepository is a Repository over process memory. It is used by tests
// and by embedded deployments that have no external database.
type memoryRepository struct {
	store *memoryStore
	inTx  bool
}

// NewMemoryRepository creates an empty in-memory ledger repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		store: &memoryStore{
			nextID:   1,
			balances: make(map[balanceKey]models.CreditBalance),
			subs:     make(map[uint]models.Subscription),
		},
	}
}

func (r *memoryRepository) WithinTransaction(ctx context.Context, fn func(Repository) error) error {
	_ = ctx
	if r.inTx {
		return fn(r)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(&memoryRepository{store: r.store, inTx: true})
}

func (r *memoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *memoryRepository) GetBalance(userID uint, category tiers.Category) (*models.CreditBalance, error) {
	defer r.lock()()
	b, ok := r.store.balances[balanceKey{userID, string(category)}]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	copied := b
	return &copied, nil
}

func (r *memoryRepository) GetBalanceForUpdate(userID uint, category tiers.Category) (*models.CreditBalance, error) {
	return r.GetBalance(userID, category)
}

func (r *memoryRepository) SaveBalance(balance *models.CreditBalance) error {
	defer r.lock()()
	balance.UpdatedAt = time.Now()
	r.store.balances[balanceKey{balance.UserID, balance.CreditCategory}] = *balance
	return nil
}

func (r *memoryRepository) UpsertBalance(balance *models.CreditBalance) error {
	defer r.lock()()
	key := balanceKey{balance.UserID, balance.CreditCategory}
	if existing, ok := r.store.balances[key]; ok {
		balance.ID = existing.ID
		balance.CreatedAt = existing.CreatedAt
	} else {
		balance.ID = r.store.nextID
		r.store.nextID++
		balance.CreatedAt = time.Now()
	}
	balance.UpdatedAt = time.Now()
	r.store.balances[key] = *balance
	return nil
}

func (r *memoryRepository) CreateTransaction(txn *models.CreditTransaction) error {
	defer r.lock()()
	txn.ID = r.store.nextID
	r.store.nextID++
	txn.CreatedAt = time.Now()
	r.store.txns = append(r.store.txns, *txn)
	return nil
}

func (r *memoryRepository) ListTransactions(userID uint, category tiers.Category) ([]models.CreditTransaction, error) {
	defer r.lock()()
	var out []models.CreditTransaction
	for _, txn := range r.store.txns {
		if txn.UserID == userID && txn.CreditCategory == string(category) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (r *memoryRepository) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	defer r.lock()()
	sub, ok := r.store.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := sub
	return &copied, nil
}

func (r *memoryRepository) GetSubscriptionForUpdate(userID uint) (*models.Subscription, error) {
	return r.GetSubscriptionByUser(userID)
}

func (r *memoryRepository) UpsertSubscription(sub *models.Subscription) error {
	defer r.lock()()
	if existing, ok := r.store.subs[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = r.store.nextID
		r.store.nextID++
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()
	r.store.subs[sub.UserID] = *sub
	return nil
}

func (r *memoryRepository) SaveSubscription(sub *models.Subscription) error {
	defer r.lock()()
	sub.UpdatedAt = time.Now()
	r.store.subs[sub.UserID] = *sub
	return nil
}
