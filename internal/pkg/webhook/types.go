package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventType is the closed set of gateway event kinds this engine reconciles.
// The reconcile processor keeps an exhaustive handler map over these; adding
// a type means adding a constant and a handler, checked at construction.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionChanged   EventType = "subscription.changed"
	EventSubscriptionEnded     EventType = "subscription.ended"
	EventInvoicePaid           EventType = "invoice.paid"
	EventInvoicePaymentFailed  EventType = "invoice.payment_failed"
)

// KnownEventTypes lists every event type the engine handles.
func KnownEventTypes() []EventType {
	return []EventType{
		EventSubscriptionActivated,
		EventSubscriptionChanged,
		EventSubscriptionEnded,
		EventInvoicePaid,
		EventInvoicePaymentFailed,
	}
}

// BillingReasonSubscriptionCreate marks the first invoice of a new
// subscription; activation already allocated, so it must not refill.
const BillingReasonSubscriptionCreate = "subscription_create"

// Event is the verified, decoded gateway payload. The event's own tier and
// period fields are authoritative for that event; handlers only ever advance
// the stored period end forward.
type Event struct {
	ExternalEventID        string     `json:"id" validate:"required"`
	EventType              EventType  `json:"type" validate:"required"`
	UserID                 uint       `json:"user_id" validate:"required"`
	ExternalSubscriptionID string     `json:"subscription_id"`
	Tier                   string     `json:"tier"`
	Status                 string     `json:"status"`
	PeriodStart            *time.Time `json:"period_start,omitempty"`
	PeriodEnd              *time.Time `json:"period_end,omitempty"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
	InvoiceID              string     `json:"invoice_id,omitempty"`
	BillingReason          string     `json:"billing_reason,omitempty"`
}

var validate = validator.New()

// ParseEvent decodes and validates a raw gateway payload.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &ev, nil
}

// envelope is the minimal shape the ingestion gate needs before queueing.
type envelope struct {
	ExternalEventID string    `json:"id" validate:"required"`
	EventType       EventType `json:"type" validate:"required"`
}

func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("invalid webhook envelope: %w", err)
	}
	return &env, nil
}
