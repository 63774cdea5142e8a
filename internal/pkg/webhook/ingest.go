package webhook

import (
	"context"

	"github.com/draftmint/creditledger/app/models"
)

// Enqueuer hands accepted events to the durable queue. The queue must
// deliver at least once, retry with backoff and dead-letter after its
// attempt limit; any backend satisfying that contract works.
type Enqueuer interface {
	EnqueueWebhookEvent(webhookEventID uint) error
}

// IngestResult is the gate's answer to the gateway-facing endpoint.
// Duplicate deliveries are reported as accepted so the gateway stops
// retrying an event the engine has already seen.
type IngestResult struct {
	Accepted  bool
	Duplicate bool
	Reason    string
}

// Gate is the webhook ingestion boundary: it authenticates the payload,
// deduplicates it against previously seen event IDs and enqueues accepted
// events. It never reconciles inline, so it stays fast no matter how long
// downstream processing takes.
type Gate struct {
	events Repository
	queue  Enqueuer
	secret string
}

// NewGate creates an ingestion gate.
func NewGate(events Repository, queue Enqueuer, secret string) *Gate {
	return &Gate{events: events, queue: queue, secret: secret}
}

// Ingest runs the gate steps in order: verify signature, extract the event
// envelope, insert the row (unique external_event_id detects duplicates
// before any side effect), enqueue. Signature failures reject with no
// further effect; duplicates return success without enqueueing again unless
// the stored row never made it onto the queue.
func (g *Gate) Ingest(ctx context.Context, rawPayload []byte, signatureHeader string) (IngestResult, error) {
	_ = ctx

	if !VerifySignature(rawPayload, signatureHeader, g.secret) {
		return IngestResult{Accepted: false, Reason: "invalid signature"}, nil
	}

	env, err := parseEnvelope(rawPayload)
	if err != nil {
		return IngestResult{Accepted: false, Reason: err.Error()}, nil
	}

	created, stored, err := g.events.CreateEventIfNotExists(&models.WebhookEvent{
		ExternalEventID: env.ExternalEventID,
		EventType:       string(env.EventType),
		PayloadJSON:     string(rawPayload),
		Status:          models.WebhookStatusReceived,
	})
	if err != nil {
		return IngestResult{}, err
	}
	if !created {
		// A row still in received means the first delivery persisted the
		// event but its enqueue failed (the gateway got a 5xx and retried).
		// Enqueue it now or the event is stranded forever; the worker's
		// replay guard makes an occasional double enqueue harmless.
		if stored.Status == models.WebhookStatusReceived {
			if err := g.enqueue(stored.ID); err != nil {
				return IngestResult{}, err
			}
		}
		return IngestResult{Accepted: true, Duplicate: true}, nil
	}

	if err := g.enqueue(stored.ID); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Accepted: true}, nil
}

// enqueue hands the event to the queue and advances the row to queued so
// later duplicates know the handoff already happened.
func (g *Gate) enqueue(webhookEventID uint) error {
	if err := g.queue.EnqueueWebhookEvent(webhookEventID); err != nil {
		return err
	}
	return g.events.MarkQueued(webhookEventID)
}
