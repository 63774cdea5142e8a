package reconcile

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/draftmint/creditledger/app/models"
	"github.com/draftmint/creditledger/internal/pkg/ledger"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
	"github.com/draftmint/creditledger/internal/pkg/webhook"
)

type handlerFunc func(ctx context.Context, ev *webhook.Event) error

// Processor consumes queued webhook events and applies the per-event-type
// state transitions against the subscription and ledger state. Handlers are
// idempotent at the event level: an event already marked processed is never
// re-applied, even on manual replay.
type Processor struct {
	events   webhook.Repository
	subs     ledger.Repository
	ledger   *ledger.Service
	catalog  tiers.Catalog
	handlers map[webhook.EventType]handlerFunc
}

// NewProcessor wires the exhaustive handler map. Every member of
// webhook.KnownEventTypes has a handler; construction panics otherwise so a
// missing handler is caught at startup, not at delivery time.
func NewProcessor(events webhook.Repository, subs ledger.Repository, svc *ledger.Service, catalog tiers.Catalog) *Processor {
	p := &Processor{
		events:  events,
		subs:    subs,
		ledger:  svc,
		catalog: catalog,
	}
	p.handlers = map[webhook.EventType]handlerFunc{
		webhook.EventSubscriptionActivated: p.handleSubscriptionActivated,
		webhook.EventSubscriptionChanged:   p.handleSubscriptionChanged,
		webhook.EventSubscriptionEnded:     p.handleSubscriptionEnded,
		webhook.EventInvoicePaid:           p.handleInvoicePaid,
		webhook.EventInvoicePaymentFailed:  p.handleInvoicePaymentFailed,
	}
	for _, et := range webhook.KnownEventTypes() {
		if _, ok := p.handlers[et]; !ok {
			panic(fmt.Sprintf("reconcile: no handler registered for event type %s", et))
		}
	}
	return p
}

// ProcessEvent advances one stored webhook event through
// processing → processed/failed. A handler error marks the event failed and
// is returned to the queue so its retry policy applies.
func (p *Processor) ProcessEvent(ctx context.Context, webhookEventID uint) error {
	event, err := p.events.GetEvent(webhookEventID)
	if err != nil {
		return err
	}

	if event.Status == models.WebhookStatusProcessed {
		log.Infof("[Reconcile] Event %s already processed, skipping", event.ExternalEventID)
		return nil
	}

	if err := p.events.MarkProcessing(event.ID); err != nil {
		return err
	}

	if err := p.applyEvent(ctx, event); err != nil {
		log.Errorf("[Reconcile] Event %s (%s) failed: %v", event.ExternalEventID, event.EventType, err)
		if markErr := p.events.MarkFailed(event.ID, err.Error()); markErr != nil {
			log.Errorf("[Reconcile] Could not mark event %d failed: %v", event.ID, markErr)
		}
		return err
	}

	return p.events.MarkProcessed(event.ID)
}

func (p *Processor) applyEvent(ctx context.Context, event *models.WebhookEvent) error {
	ev, err := webhook.ParseEvent([]byte(event.PayloadJSON))
	if err != nil {
		return err
	}

	handler, ok := p.handlers[ev.EventType]
	if !ok {
		return fmt.Errorf("unhandled event type %s", ev.EventType)
	}
	return handler(ctx, ev)
}

func (p *Processor) tierConfig(tier tiers.Tier) (tiers.Config, error) {
	cfg, ok := p.catalog.GetTierConfig(tier)
	if !ok {
		return tiers.Config{}, fmt.Errorf("no tier config for %q", tier)
	}
	return cfg, nil
}
