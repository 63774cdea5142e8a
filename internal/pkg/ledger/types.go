package ledger

import "time"

// Context carries audit metadata for deduct/refund calls. Reference is an
// opaque caller identifier (job id, invoice id); it is written to the
// transaction log and is not used for deduplication.
type Context struct {
	Reference string
	Reason    string
}

// BillingPeriod is the window a credit allotment is valid for.
type BillingPeriod struct {
	Start *time.Time
	End   *time.Time
}

// CheckResult is the advisory answer to "could this deduct succeed". It is
// computed without locking; the real enforcement happens in Deduct.
type CheckResult struct {
	Allowed        bool  `json:"allowed"`
	Remaining      int64 `json:"remaining"`
	OverageAllowed bool  `json:"overage_allowed"`
}

// DeductResult reports the outcome of a deduct. Success=false with no error
// is the normal insufficient-credits rejection, not a failure.
type DeductResult struct {
	Success         bool  `json:"success"`
	BalanceAfter    int64 `json:"balance_after"`
	IsOverage       bool  `json:"is_overage"`
	OverageQuantity int64 `json:"overage_quantity"`
}

// RefundResult reports the balance after a refund was applied.
type RefundResult struct {
	BalanceAfter int64 `json:"balance_after"`
}
