package counter

import (
	"context"
	"strconv"

	"github.com/draftmint/creditledger/internal/pkg/cache"
)

const ingestCountersKey = "webhook:counters:ingest"

// Ingest outcome fields within the counters hash.
const (
	FieldAccepted  = "accepted"
	FieldDuplicate = "duplicate"
	FieldRejected  = "rejected"
	FieldErrored   = "errored"
)

// AddIngestAccepted increments the accepted-delivery counter in Redis
func AddIngestAccepted() error {
	return incr(FieldAccepted)
}

// AddIngestDuplicate increments the duplicate-delivery counter in Redis
func AddIngestDuplicate() error {
	return incr(FieldDuplicate)
}

// AddIngestRejected increments the rejected-delivery counter in Redis
func AddIngestRejected() error {
	return incr(FieldRejected)
}

// AddIngestErrored increments the counter for deliveries that hit a storage
// or queue error and were answered with a 5xx so the gateway retries.
func AddIngestErrored() error {
	return incr(FieldErrored)
}

func incr(field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, ingestCountersKey, field, 1).Err()
}

// IngestSnapshot reads the current ingest counters. Missing fields read as
// zero; a fresh deployment has no hash at all.
func IngestSnapshot(ctx context.Context) (map[string]int64, error) {
	data, err := cache.GetClient().HGetAll(ctx, ingestCountersKey).Result()
	if err != nil {
		return nil, err
	}

	snapshot := map[string]int64{
		FieldAccepted:  0,
		FieldDuplicate: 0,
		FieldRejected:  0,
		FieldErrored:   0,
	}
	for field, raw := range data {
		value, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		snapshot[field] = value
	}
	return snapshot, nil
}
