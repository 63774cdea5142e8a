package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/draftmint/creditledger/internal/pkg/database"
	"github.com/draftmint/creditledger/internal/pkg/env"
	"github.com/draftmint/creditledger/internal/pkg/jobqueue"
	"github.com/draftmint/creditledger/internal/pkg/metrics/counter"
	"github.com/draftmint/creditledger/internal/pkg/webhook"
)

// HandleBillingWebhook is the gateway-facing webhook endpoint. It runs the
// ingestion gate and returns quickly: 200 for accepted and duplicate events,
// 401 for signature failures, 400 for payloads the gate cannot read.
// Reconciliation failures never surface here; once an event is durably
// accepted they belong to the worker and the queue.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(webhook.SignatureHeader))
	secret := env.GetEnv("WEBHOOK_SECRET", "")

	gate := webhook.NewGate(
		webhook.NewRepository(database.GetDB()),
		jobqueue.GetManager().GetQueue(),
		secret,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := gate.Ingest(ctx, rawBody, signature)
	if err != nil {
		_ = counter.AddIngestErrored()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !result.Accepted {
		_ = counter.AddIngestRejected()
		if result.Reason == "invalid signature" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": result.Reason})
	}
	if result.Duplicate {
		_ = counter.AddIngestDuplicate()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	_ = counter.AddIngestAccepted()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
