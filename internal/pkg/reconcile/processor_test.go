package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmint/creditledger/app/models"
	"github.com/draftmint/creditledger/internal/pkg/ledger"
	"github.com/draftmint/creditledger/internal/pkg/tiers"
	"github.com/draftmint/creditledger/internal/pkg/webhook"
)

const reconcileUserID uint = 42

type testEnv struct {
	processor *Processor
	events    webhook.Repository
	subs      ledger.Repository
	ledger    *ledger.Service
}

func newTestEnv() *testEnv {
	events := webhook.NewMemoryRepository()
	subs := ledger.NewMemoryRepository()
	catalog := tiers.NewStaticCatalog()
	svc := ledger.NewService(subs, catalog)
	return &testEnv{
		processor: NewProcessor(events, subs, svc, catalog),
		events:    events,
		subs:      subs,
		ledger:    svc,
	}
}

// storeEvent persists a gateway event the way the ingestion gate would and
// returns the row ID the queue would carry.
func storeEvent(t *testing.T, env *testEnv, ev webhook.Event) uint {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	created, stored, err := env.events.CreateEventIfNotExists(&models.WebhookEvent{
		ExternalEventID: ev.ExternalEventID,
		EventType:       string(ev.EventType),
		PayloadJSON:     string(payload),
		Status:          models.WebhookStatusReceived,
	})
	require.NoError(t, err)
	require.True(t, created)
	return stored.ID
}

func process(t *testing.T, env *testEnv, ev webhook.Event) {
	t.Helper()
	id := storeEvent(t, env, ev)
	require.NoError(t, env.processor.ProcessEvent(context.Background(), id))
}

func balanceOf(t *testing.T, env *testEnv, category tiers.Category) *models.CreditBalance {
	t.Helper()
	balance, err := env.subs.GetBalance(reconcileUserID, category)
	require.NoError(t, err)
	return balance
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSubscriptionActivatedAllocates(t *testing.T) {
	env := newTestEnv()

	process(t, env, webhook.Event{
		ExternalEventID:        "evt_act_1",
		EventType:              webhook.EventSubscriptionActivated,
		UserID:                 reconcileUserID,
		ExternalSubscriptionID: "sub_abc",
		Tier:                   "maker",
		Status:                 models.SubscriptionStatusActive,
		PeriodStart:            ts("2026-08-01T00:00:00Z"),
		PeriodEnd:              ts("2026-09-01T00:00:00Z"),
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.Equal(t, string(tiers.TierMaker), sub.Tier)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.ExternalSubscriptionID)
	assert.Equal(t, "sub_abc", *sub.ExternalSubscriptionID)

	assert.Equal(t, int64(50), balanceOf(t, env, tiers.CategoryLogo).Remaining)
	assert.Equal(t, int64(20), balanceOf(t, env, tiers.CategoryBanner).Remaining)
	assert.Equal(t, int64(0), balanceOf(t, env, tiers.CategoryMockup).Remaining)
}

func TestProcessedEventReplayIsNoOp(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	id := storeEvent(t, env, webhook.Event{
		ExternalEventID: "evt_act_2",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
	})
	require.NoError(t, env.processor.ProcessEvent(ctx, id))

	_, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 5, ledger.Context{})
	require.NoError(t, err)

	// Manual replay of an already processed event must not re-allocate.
	require.NoError(t, env.processor.ProcessEvent(ctx, id))
	assert.Equal(t, int64(45), balanceOf(t, env, tiers.CategoryLogo).Remaining)

	event, err := env.events.GetEvent(id)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, event.Status)
	assert.NotNil(t, event.ProcessedAt)
}

func TestSubscriptionChangedSameTierKeepsBalances(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_3",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
	})
	_, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 10, ledger.Context{})
	require.NoError(t, err)

	process(t, env, webhook.Event{
		ExternalEventID:   "evt_chg_1",
		EventType:         webhook.EventSubscriptionChanged,
		UserID:            reconcileUserID,
		Tier:              "maker",
		CancelAtPeriodEnd: true,
	})

	assert.Equal(t, int64(40), balanceOf(t, env, tiers.CategoryLogo).Remaining,
		"a same-tier change must not re-baseline credits")

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
}

func TestSubscriptionChangedWithoutTierKeepsTierAndBalances(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_10",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "studio",
	})
	_, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 10, ledger.Context{})
	require.NoError(t, err)

	// Payment method updates arrive as subscription.changed with no tier.
	process(t, env, webhook.Event{
		ExternalEventID: "evt_chg_5",
		EventType:       webhook.EventSubscriptionChanged,
		UserID:          reconcileUserID,
		Status:          models.SubscriptionStatusActive,
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.Equal(t, string(tiers.TierStudio), sub.Tier, "a tier-less change event must keep the stored tier")
	assert.Equal(t, int64(190), balanceOf(t, env, tiers.CategoryLogo).Remaining,
		"a tier-less change event must not touch credits")
}

func TestSubscriptionChangedNewTierReallocates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_4",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
	})
	_, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 10, ledger.Context{})
	require.NoError(t, err)

	process(t, env, webhook.Event{
		ExternalEventID: "evt_chg_2",
		EventType:       webhook.EventSubscriptionChanged,
		UserID:          reconcileUserID,
		Tier:            "studio",
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.Equal(t, string(tiers.TierStudio), sub.Tier)
	assert.Equal(t, int64(200), balanceOf(t, env, tiers.CategoryLogo).Remaining)
	assert.Equal(t, int64(50), balanceOf(t, env, tiers.CategoryMockup).Remaining)
}

func TestSubscriptionChangedBeforeActivationCreates(t *testing.T) {
	env := newTestEnv()

	// The change event overtook the activation event in the queue.
	process(t, env, webhook.Event{
		ExternalEventID: "evt_chg_3",
		EventType:       webhook.EventSubscriptionChanged,
		UserID:          reconcileUserID,
		Tier:            "studio",
		Status:          models.SubscriptionStatusActive,
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.Equal(t, string(tiers.TierStudio), sub.Tier)
	assert.Equal(t, int64(200), balanceOf(t, env, tiers.CategoryLogo).Remaining)
}

func TestStalePeriodEndDoesNotRegress(t *testing.T) {
	env := newTestEnv()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_5",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
		PeriodEnd:       ts("2026-10-01T00:00:00Z"),
	})

	// A stale redelivery carries an older period end.
	process(t, env, webhook.Event{
		ExternalEventID: "evt_chg_4",
		EventType:       webhook.EventSubscriptionChanged,
		UserID:          reconcileUserID,
		Tier:            "maker",
		PeriodEnd:       ts("2026-09-01T00:00:00Z"),
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	require.NotNil(t, sub.PeriodEnd)
	assert.True(t, sub.PeriodEnd.Equal(*ts("2026-10-01T00:00:00Z")),
		"period end only moves forward")
}

func TestSubscriptionEndedDowngradesToFree(t *testing.T) {
	env := newTestEnv()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_6",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "studio",
	})
	process(t, env, webhook.Event{
		ExternalEventID: "evt_end_1",
		EventType:       webhook.EventSubscriptionEnded,
		UserID:          reconcileUserID,
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, string(tiers.TierFree), sub.Tier)

	assert.Equal(t, int64(3), balanceOf(t, env, tiers.CategoryLogo).Remaining)
	assert.Equal(t, int64(0), balanceOf(t, env, tiers.CategoryBanner).Remaining)
	assert.Equal(t, int64(0), balanceOf(t, env, tiers.CategoryMockup).Remaining)
}

func TestInvoicePaidRefillsAndAdvancesPeriod(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_7",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
		PeriodStart:     ts("2026-08-01T00:00:00Z"),
		PeriodEnd:       ts("2026-09-01T00:00:00Z"),
	})
	_, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 30, ledger.Context{})
	require.NoError(t, err)

	process(t, env, webhook.Event{
		ExternalEventID: "evt_inv_1",
		EventType:       webhook.EventInvoicePaid,
		UserID:          reconcileUserID,
		InvoiceID:       "in_001",
		BillingReason:   "subscription_cycle",
		PeriodStart:     ts("2026-09-01T00:00:00Z"),
		PeriodEnd:       ts("2026-10-01T00:00:00Z"),
	})

	logo := balanceOf(t, env, tiers.CategoryLogo)
	assert.Equal(t, int64(50), logo.Remaining, "renewal resets to the allotment, unused credits do not roll over")
	assert.Equal(t, int64(0), logo.Used)
	assert.NotNil(t, logo.LastRefillAt)

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	require.NotNil(t, sub.PeriodEnd)
	assert.True(t, sub.PeriodEnd.Equal(*ts("2026-10-01T00:00:00Z")))
}

func TestFirstInvoiceDoesNotRefill(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_8",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
	})
	_, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 5, ledger.Context{})
	require.NoError(t, err)

	process(t, env, webhook.Event{
		ExternalEventID: "evt_inv_2",
		EventType:       webhook.EventInvoicePaid,
		UserID:          reconcileUserID,
		InvoiceID:       "in_002",
		BillingReason:   webhook.BillingReasonSubscriptionCreate,
	})

	assert.Equal(t, int64(45), balanceOf(t, env, tiers.CategoryLogo).Remaining,
		"the first invoice of a new subscription must not double-grant")
}

func TestInvoicePaymentFailedMarksPastDue(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	process(t, env, webhook.Event{
		ExternalEventID: "evt_act_9",
		EventType:       webhook.EventSubscriptionActivated,
		UserID:          reconcileUserID,
		Tier:            "maker",
	})
	process(t, env, webhook.Event{
		ExternalEventID: "evt_fail_1",
		EventType:       webhook.EventInvoicePaymentFailed,
		UserID:          reconcileUserID,
	})

	sub, err := env.subs.GetSubscriptionByUser(reconcileUserID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)

	// past_due keeps entitlements: the user can still spend remaining credits.
	result, err := env.ledger.Deduct(ctx, reconcileUserID, tiers.CategoryLogo, 1, ledger.Context{})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHandlerErrorMarksEventFailed(t *testing.T) {
	env := newTestEnv()

	// invoice.paid for a user with no subscription cannot be applied.
	id := storeEvent(t, env, webhook.Event{
		ExternalEventID: "evt_inv_3",
		EventType:       webhook.EventInvoicePaid,
		UserID:          reconcileUserID,
		InvoiceID:       "in_003",
		BillingReason:   "subscription_cycle",
	})
	err := env.processor.ProcessEvent(context.Background(), id)
	require.Error(t, err)

	event, getErr := env.events.GetEvent(id)
	require.NoError(t, getErr)
	assert.Equal(t, models.WebhookStatusFailed, event.Status)
	assert.NotEmpty(t, event.ProcessingError)
}

func TestUnknownEventIDFails(t *testing.T) {
	env := newTestEnv()
	err := env.processor.ProcessEvent(context.Background(), 999)
	assert.ErrorIs(t, err, webhook.ErrEventNotFound)
}
