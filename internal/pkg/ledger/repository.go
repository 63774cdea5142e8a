package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftmint/creditledger/app/models"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
)

// ErrBalanceNotFound is returned when an operation targets a (user, category)
// pair that was never allocated.
var ErrBalanceNotFound = errors.New("credit balance not found")

// ErrSubscriptionNotFound is returned when a user has no subscription row.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Repository provides the storage operations used by the ledger service and
// the reconciliation handlers. GetBalanceForUpdate/GetSubscriptionForUpdate
// must only be called inside WithinTransaction; they take an exclusive row
// lock that serializes concurrent mutation of the same key.
type Repository interface {
	// WithinTransaction runs fn against a transaction-scoped repository.
	// Locks taken inside fn are held until fn returns.
	WithinTransaction(ctx context.Context, fn func(Repository) error) error

	GetBalance(userID uint, category tiers.Category) (*models.CreditBalance, error)
	GetBalanceForUpdate(userID uint, category tiers.Category) (*models.CreditBalance, error)
	SaveBalance(balance *models.CreditBalance) error
	UpsertBalance(balance *models.CreditBalance) error

	CreateTransaction(txn *models.CreditTransaction) error
	ListTransactions(userID uint, category tiers.Category) ([]models.CreditTransaction, error)

	GetSubscriptionByUser(userID uint) (*models.Subscription, error)
	GetSubscriptionForUpdate(userID uint) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithinTransaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetBalance(userID uint, category tiers.Category) (*models.CreditBalance, error) {
	var b models.CreditBalance
	err := r.db.Where("user_id = ? AND credit_category = ?", userID, string(category)).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) GetBalanceForUpdate(userID uint, category tiers.Category) (*models.CreditBalance, error) {
	var b models.CreditBalance
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND credit_category = ?", userID, string(category)).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) SaveBalance(balance *models.CreditBalance) error {
	return r.db.Save(balance).Error
}

func (r *gormRepository) UpsertBalance(balance *models.CreditBalance) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "credit_category"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"remaining",
			"used",
			"overage_count",
			"period_start",
			"period_end",
			"last_refill_at",
			"updated_at",
		}),
	}).Create(balance).Error
}

func (r *gormRepository) CreateTransaction(txn *models.CreditTransaction) error {
	return r.db.Create(txn).Error
}

func (r *gormRepository) ListTransactions(userID uint, category tiers.Category) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	err := r.db.Where("user_id = ? AND credit_category = ?", userID, string(category)).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *gormRepository) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionForUpdate(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_subscription_id",
			"tier",
			"status",
			"period_start",
			"period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}
