package models

import "time"

const (
	CreditActionAllocate = "allocate"
	CreditActionDeduct   = "deduct"
	CreditActionRefund   = "refund"
	CreditActionRefill   = "refill"
	CreditActionOverage  = "overage"
)

// CreditTransaction is the append-only audit trail of every accounting
// operation. Quantity is signed: positive for credits added, negative for
// credits consumed. Within one (user, category) stream, BalanceAfter chains
// as BalanceAfter(n) = BalanceAfter(n-1) + Quantity(n), except across an
// allocate/refill boundary which resets the baseline. Rows are never
// updated or deleted.
type CreditTransaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:idx_credit_transactions_user_category,priority:1" json:"user_id"`
	CreditCategory string    `gorm:"type:varchar(50);not null;index:idx_credit_transactions_user_category,priority:2" json:"credit_category"`
	Action         string    `gorm:"type:varchar(20);not null;index" json:"action"`
	Quantity       int64     `gorm:"not null" json:"quantity"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	Reference      string    `gorm:"type:varchar(191);default:''" json:"reference"`
	Reason         string    `gorm:"type:varchar(255);default:''" json:"reason"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// ResetsBaseline reports whether this transaction starts a new BalanceAfter
// chain instead of extending the previous one.
func (t *CreditTransaction) ResetsBaseline() bool {
	return t.Action == CreditActionAllocate || t.Action == CreditActionRefill
}
