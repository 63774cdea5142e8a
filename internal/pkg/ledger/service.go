package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftmint/creditledger/app/models"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
)

// Service implements the credit accounting operations. Deduct, Refund,
// Allocate and Refill serialize concurrent mutation of the same
// (user, category) via the repository's row lock; Check never locks.
//
// Storage errors and lock timeouts are surfaced to the caller unchanged.
// This layer never retries: a blind deduct retry under an ambiguous failure
// risks double-charging.
type Service struct {
	repo    Repository
	catalog tiers.Catalog
}

// NewService creates a ledger service from an injected repository and tier catalog.
func NewService(repo Repository, catalog tiers.Catalog) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// Check reports whether a deduct of quantity would currently succeed. It is
// advisory: it reads without locking and the answer may be stale by the time
// the caller deducts.
func (s *Service) Check(ctx context.Context, userID uint, category tiers.Category, quantity int64) (CheckResult, error) {
	_ = ctx
	if quantity <= 0 {
		return CheckResult{}, errors.New("quantity must be positive")
	}

	var remaining int64
	allocated := true
	balance, err := s.repo.GetBalance(userID, category)
	switch {
	case err == nil:
		remaining = balance.Remaining
	case errors.Is(err, ErrBalanceNotFound):
		remaining = 0
		allocated = false
	default:
		return CheckResult{}, err
	}

	overage, err := s.overageAllowed(userID)
	if err != nil {
		return CheckResult{}, err
	}

	return CheckResult{
		Allowed:        remaining >= quantity || (overage && allocated),
		Remaining:      remaining,
		OverageAllowed: overage,
	}, nil
}

// Deduct consumes quantity credits from the user's balance. If the balance
// does not cover the quantity and the user's tier permits overage, the
// balance is drained to zero and the shortfall is tracked as overage.
// Otherwise the call returns Success=false with the unchanged balance and
// writes nothing: insufficient credits is a rejection outcome, not an error.
// A (user, category) that was never allocated rejects the same way, with a
// zero balance; overage requires an allocated row to drain.
func (s *Service) Deduct(ctx context.Context, userID uint, category tiers.Category, quantity int64, opCtx Context) (DeductResult, error) {
	if quantity <= 0 {
		return DeductResult{}, errors.New("quantity must be positive")
	}

	var result DeductResult
	err := s.repo.WithinTransaction(ctx, func(tx Repository) error {
		balance, err := tx.GetBalanceForUpdate(userID, category)
		if errors.Is(err, ErrBalanceNotFound) {
			result = DeductResult{Success: false, BalanceAfter: 0}
			return nil
		}
		if err != nil {
			return err
		}

		if balance.Remaining >= quantity {
			balance.Remaining -= quantity
			balance.Used += quantity
			if err := tx.SaveBalance(balance); err != nil {
				return err
			}
			if err := tx.CreateTransaction(&models.CreditTransaction{
				UserID:         userID,
				CreditCategory: string(category),
				Action:         models.CreditActionDeduct,
				Quantity:       -quantity,
				BalanceAfter:   balance.Remaining,
				Reference:      opCtx.Reference,
				Reason:         opCtx.Reason,
			}); err != nil {
				return err
			}
			result = DeductResult{Success: true, BalanceAfter: balance.Remaining}
			return nil
		}

		overage, err := s.overageAllowedTx(tx, userID)
		if err != nil {
			return err
		}
		if !overage {
			result = DeductResult{Success: false, BalanceAfter: balance.Remaining}
			return nil
		}

		previousRemaining := balance.Remaining
		overageQty := quantity - previousRemaining
		balance.Remaining = 0
		balance.Used += quantity
		balance.OverageCount += overageQty
		if err := tx.SaveBalance(balance); err != nil {
			return err
		}
		// Quantity records only what was drained from the balance so the
		// BalanceAfter chain stays additive; the overage share lives in Reason.
		if err := tx.CreateTransaction(&models.CreditTransaction{
			UserID:         userID,
			CreditCategory: string(category),
			Action:         models.CreditActionOverage,
			Quantity:       -previousRemaining,
			BalanceAfter:   0,
			Reference:      opCtx.Reference,
			Reason:         fmt.Sprintf("requested %d, overage %d", quantity, overageQty),
		}); err != nil {
			return err
		}
		result = DeductResult{Success: true, BalanceAfter: 0, IsOverage: true, OverageQuantity: overageQty}
		return nil
	})
	if err != nil {
		return DeductResult{}, err
	}
	return result, nil
}

// Refund reverses a prior successful deduct: quantity is added back to the
// balance and subtracted from used, floored at zero. Refunds are not
// deduplicated here; callers must issue at most one refund per failed job,
// keyed by their own reference.
func (s *Service) Refund(ctx context.Context, userID uint, category tiers.Category, quantity int64, opCtx Context) (RefundResult, error) {
	if quantity <= 0 {
		return RefundResult{}, errors.New("quantity must be positive")
	}

	var result RefundResult
	err := s.repo.WithinTransaction(ctx, func(tx Repository) error {
		balance, err := tx.GetBalanceForUpdate(userID, category)
		if err != nil {
			return err
		}

		balance.Remaining += quantity
		balance.Used -= quantity
		if balance.Used < 0 {
			balance.Used = 0
		}
		if err := tx.SaveBalance(balance); err != nil {
			return err
		}
		if err := tx.CreateTransaction(&models.CreditTransaction{
			UserID:         userID,
			CreditCategory: string(category),
			Action:         models.CreditActionRefund,
			Quantity:       quantity,
			BalanceAfter:   balance.Remaining,
			Reference:      opCtx.Reference,
			Reason:         opCtx.Reason,
		}); err != nil {
			return err
		}
		result = RefundResult{BalanceAfter: balance.Remaining}
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}
	return result, nil
}

// Allocate writes the full balance rows for every category the tier config
// lists, discarding whatever was there before. Used on first activation and
// on tier changes.
func (s *Service) Allocate(ctx context.Context, userID uint, cfg tiers.Config, period BillingPeriod) error {
	return s.rebaseline(ctx, userID, cfg, period, models.CreditActionAllocate)
}

// Refill is mechanically identical to Allocate but marks the periodic
// renewal of the same tier. Prior remaining credits are discarded, never
// carried over.
func (s *Service) Refill(ctx context.Context, userID uint, cfg tiers.Config, period BillingPeriod) error {
	return s.rebaseline(ctx, userID, cfg, period, models.CreditActionRefill)
}

func (s *Service) rebaseline(ctx context.Context, userID uint, cfg tiers.Config, period BillingPeriod, action string) error {
	return s.repo.WithinTransaction(ctx, func(tx Repository) error {
		now := time.Now()
		for category, allotment := range cfg.CreditAllotments {
			if allotment < 0 {
				return fmt.Errorf("negative allotment %d for category %s", allotment, category)
			}
			balance := &models.CreditBalance{
				UserID:         userID,
				CreditCategory: string(category),
				Remaining:      allotment,
				Used:           0,
				OverageCount:   0,
				PeriodStart:    period.Start,
				PeriodEnd:      period.End,
				LastRefillAt:   &now,
			}
			if err := tx.UpsertBalance(balance); err != nil {
				return err
			}
			if err := tx.CreateTransaction(&models.CreditTransaction{
				UserID:         userID,
				CreditCategory: string(category),
				Action:         action,
				Quantity:       allotment,
				BalanceAfter:   allotment,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTransactions returns the audit trail for one (user, category) in
// creation order.
func (s *Service) ListTransactions(ctx context.Context, userID uint, category tiers.Category) ([]models.CreditTransaction, error) {
	_ = ctx
	return s.repo.ListTransactions(userID, category)
}

func (s *Service) overageAllowed(userID uint) (bool, error) {
	return s.overageAllowedTx(s.repo, userID)
}

func (s *Service) overageAllowedTx(repo Repository, userID uint) (bool, error) {
	sub, err := repo.GetSubscriptionByUser(userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sub.IsLive() {
		return false, nil
	}
	cfg, ok := s.catalog.GetTierConfig(tiers.Tier(sub.Tier))
	if !ok {
		return false, nil
	}
	return cfg.OverageEnabled, nil
}
