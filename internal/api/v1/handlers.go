package apiv1

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/draftmint/creditledger/internal/pkg/database"
	"github.com/draftmint/creditledger/internal/pkg/jobqueue"
	"github.com/draftmint/creditledger/internal/pkg/ledger"
	"github.com/draftmint/creditledger/internal/pkg/metrics/counter"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
)

// APIServer exposes the credit accounting operations to generation workers.
// Insufficient credits comes back as a 200 with success=false: it is a
// rejection outcome the caller branches on, not an error.
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

var validate = validator.New()

type creditRequest struct {
	UserID    uint   `json:"user_id" validate:"required"`
	Category  string `json:"category" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func parseCreditRequest(c *fiber.Ctx) (*creditRequest, error) {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, err
	}
	if err := validate.Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func ledgerService() *ledger.Service {
	repo := ledger.NewRepository(database.GetDB())
	return ledger.NewService(repo, tiers.NewStaticCatalog())
}

// PostCreditsCheck answers whether a deduct of the given quantity would
// currently succeed. Advisory only; the caller must still branch on Deduct.
func (s *APIServer) PostCreditsCheck(c *fiber.Ctx) error {
	req, err := parseCreditRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := ledgerService().Check(ctx, req.UserID, tiers.Category(req.Category), req.Quantity)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "check_failed"})
	}
	return c.JSON(result)
}

// PostCreditsDeduct consumes credits for a job. A success=false response
// means insufficient credits; nothing was written.
func (s *APIServer) PostCreditsDeduct(c *fiber.Ctx) error {
	req, err := parseCreditRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := ledgerService().Deduct(ctx, req.UserID, tiers.Category(req.Category), req.Quantity, ledger.Context{
		Reference: req.Reference,
		Reason:    req.Reason,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "deduct_failed"})
	}
	return c.JSON(result)
}

// PostCreditsRefund reverses a prior deduct after a failed job. Callers must
// refund at most once per deduct, keyed by their reference.
func (s *APIServer) PostCreditsRefund(c *fiber.Ctx) error {
	req, err := parseCreditRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := ledgerService().Refund(ctx, req.UserID, tiers.Category(req.Category), req.Quantity, ledger.Context{
		Reference: req.Reference,
		Reason:    req.Reason,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "refund_failed"})
	}
	return c.JSON(result)
}

// GetQueueStats reports queue depths and per-status counters for operators.
func (s *APIServer) GetQueueStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := queue.GetQueueSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	processing, err := queue.GetProcessingSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	deadLetter, err := queue.GetDeadLetterSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	stats, err := queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}
	ingest, err := counter.IngestSnapshot(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}

	return c.JSON(fiber.Map{
		"pending":     pending,
		"processing":  processing,
		"dead_letter": deadLetter,
		"counters":    stats,
		"ingest":      ingest,
	})
}
