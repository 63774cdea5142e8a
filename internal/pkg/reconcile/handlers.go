package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftmint/creditledger/app/models"
	"github.com/draftmint/creditledger/internal/pkg/ledger"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
	"github.com/draftmint/creditledger/internal/pkg/webhook"
)

// handleSubscriptionActivated upserts the subscription from a completed
// checkout and allocates the tier's credits for the event's period.
func (p *Processor) handleSubscriptionActivated(ctx context.Context, ev *webhook.Event) error {
	tier := tiers.NormalizeTier(ev.Tier)
	cfg, err := p.tierConfig(tier)
	if err != nil {
		return err
	}

	if err := p.subs.WithinTransaction(ctx, func(tx ledger.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ev.UserID)
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			return tx.UpsertSubscription(p.subscriptionFromEvent(ev, tier))
		}
		if err != nil {
			return err
		}
		applyEventToSubscription(sub, ev, string(tier))
		sub.Status = statusOrDefault(ev.Status, models.SubscriptionStatusActive)
		return tx.SaveSubscription(sub)
	}); err != nil {
		return err
	}

	return p.ledger.Allocate(ctx, ev.UserID, cfg, ledger.BillingPeriod{Start: ev.PeriodStart, End: ev.PeriodEnd})
}

// handleSubscriptionChanged updates status and period from the event and
// re-baselines credits only when the resolved tier actually differs from the
// stored one. An event without a tier (payment method updates) keeps the
// stored tier. A changed event arriving before the activation event creates
// the subscription, so reordering cannot drop a tier change.
func (p *Processor) handleSubscriptionChanged(ctx context.Context, ev *webhook.Event) error {
	var newTier tiers.Tier
	tierChanged := false
	if err := p.subs.WithinTransaction(ctx, func(tx ledger.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ev.UserID)
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			newTier = tiers.NormalizeTier(ev.Tier)
			tierChanged = true
			return tx.UpsertSubscription(p.subscriptionFromEvent(ev, newTier))
		}
		if err != nil {
			return err
		}

		if ev.Tier == "" {
			newTier = tiers.NormalizeTier(sub.Tier)
		} else {
			newTier = tiers.NormalizeTier(ev.Tier)
		}
		tierChanged = tiers.NormalizeTier(sub.Tier) != newTier
		applyEventToSubscription(sub, ev, string(newTier))
		if ev.Status != "" {
			sub.Status = ev.Status
		}
		return tx.SaveSubscription(sub)
	}); err != nil {
		return err
	}

	if !tierChanged {
		return nil
	}

	cfg, err := p.tierConfig(newTier)
	if err != nil {
		return err
	}
	return p.ledger.Allocate(ctx, ev.UserID, cfg, ledger.BillingPeriod{Start: ev.PeriodStart, End: ev.PeriodEnd})
}

// handleSubscriptionEnded cancels the subscription and downgrades the ledger
// to the free tier's allotments.
func (p *Processor) handleSubscriptionEnded(ctx context.Context, ev *webhook.Event) error {
	if err := p.subs.WithinTransaction(ctx, func(tx ledger.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ev.UserID)
		if err != nil {
			return err
		}
		sub.Status = models.SubscriptionStatusCanceled
		sub.Tier = string(tiers.TierFree)
		sub.PeriodEnd = advancePeriodEnd(sub.PeriodEnd, ev.PeriodEnd)
		return tx.SaveSubscription(sub)
	}); err != nil {
		return err
	}

	cfg, err := p.tierConfig(tiers.TierFree)
	if err != nil {
		return err
	}
	return p.ledger.Allocate(ctx, ev.UserID, cfg, ledger.BillingPeriod{Start: ev.PeriodStart, End: ev.PeriodEnd})
}

// handleInvoicePaid refills the current tier for the renewal period. The
// first invoice of a subscription is skipped: activation already allocated.
func (p *Processor) handleInvoicePaid(ctx context.Context, ev *webhook.Event) error {
	if ev.BillingReason == webhook.BillingReasonSubscriptionCreate {
		return nil
	}

	sub, err := p.subs.GetSubscriptionByUser(ev.UserID)
	if err != nil {
		return fmt.Errorf("invoice.paid for user %d: %w", ev.UserID, err)
	}

	cfg, err := p.tierConfig(tiers.Tier(sub.Tier))
	if err != nil {
		return err
	}

	if err := p.ledger.Refill(ctx, ev.UserID, cfg, ledger.BillingPeriod{Start: ev.PeriodStart, End: ev.PeriodEnd}); err != nil {
		return err
	}

	return p.subs.WithinTransaction(ctx, func(tx ledger.Repository) error {
		locked, err := tx.GetSubscriptionForUpdate(ev.UserID)
		if err != nil {
			return err
		}
		locked.PeriodStart = ev.PeriodStart
		locked.PeriodEnd = advancePeriodEnd(locked.PeriodEnd, ev.PeriodEnd)
		return tx.SaveSubscription(locked)
	})
}

// handleInvoicePaymentFailed marks the subscription past_due. No ledger
// mutation: the user keeps whatever credits remain until the grace period
// resolves one way or the other.
func (p *Processor) handleInvoicePaymentFailed(ctx context.Context, ev *webhook.Event) error {
	return p.subs.WithinTransaction(ctx, func(tx ledger.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ev.UserID)
		if err != nil {
			return err
		}
		sub.Status = models.SubscriptionStatusPastDue
		return tx.SaveSubscription(sub)
	})
}

func (p *Processor) subscriptionFromEvent(ev *webhook.Event, tier tiers.Tier) *models.Subscription {
	sub := &models.Subscription{
		UserID:            ev.UserID,
		Tier:              string(tier),
		Status:            statusOrDefault(ev.Status, models.SubscriptionStatusActive),
		PeriodStart:       ev.PeriodStart,
		PeriodEnd:         ev.PeriodEnd,
		CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
	}
	if ev.ExternalSubscriptionID != "" {
		id := ev.ExternalSubscriptionID
		sub.ExternalSubscriptionID = &id
	}
	return sub
}

// applyEventToSubscription copies the event's authoritative fields onto the
// stored row. The period end only ever moves forward so a stale redelivery
// cannot regress state written by a newer event.
func applyEventToSubscription(sub *models.Subscription, ev *webhook.Event, tier string) {
	sub.Tier = tier
	sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	if ev.ExternalSubscriptionID != "" {
		id := ev.ExternalSubscriptionID
		sub.ExternalSubscriptionID = &id
	}
	if ev.PeriodStart != nil {
		sub.PeriodStart = ev.PeriodStart
	}
	sub.PeriodEnd = advancePeriodEnd(sub.PeriodEnd, ev.PeriodEnd)
}

func advancePeriodEnd(stored, incoming *time.Time) *time.Time {
	if incoming == nil {
		return stored
	}
	if stored == nil || incoming.After(*stored) {
		return incoming
	}
	return stored
}

func statusOrDefault(status, def string) string {
	if status == "" {
		return def
	}
	return status
}
