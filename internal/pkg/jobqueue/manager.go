package jobqueue

import (
	"context"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/draftmint/creditledger/internal/pkg/database"
	"github.com/draftmint/creditledger/internal/pkg/env"
	"github.com/draftmint/creditledger/internal/pkg/ledger"
	"github.com/draftmint/creditledger/internal/pkg/reconcile"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
	"github.com/draftmint/creditledger/internal/pkg/webhook"
)

// Manager owns the global job queue and its handler wiring
type Manager struct {
	queue   *Queue
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if v, err := strconv.Atoi(env.GetEnv("QUEUE_WORKERS", "5")); err == nil && v > 0 {
			workerCount = v
		}

		queue := NewQueue(workerCount)
		queue.Register(JobTypeWebhookReconcile, reconcileHandler())

		globalManager = &Manager{queue: queue}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue")
	m.queue.Start()
	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue workers
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[JobQueue Manager] Stopping job queue...")
	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// reconcileHandler builds the webhook reconcile handler over the live DB.
func reconcileHandler() HandlerFunc {
	return func(ctx context.Context, job *Job) error {
		payload, err := WebhookReconcileJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}

		db := database.GetDB()
		catalog := tiers.NewStaticCatalog()
		repo := ledger.NewRepository(db)
		processor := reconcile.NewProcessor(
			webhook.NewRepository(db),
			repo,
			ledger.NewService(repo, catalog),
			catalog,
		)
		return processor.ProcessEvent(ctx, payload.WebhookEventID)
	}
}
