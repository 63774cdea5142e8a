package models

import "time"

// CreditBalance is the source of truth for a user's remaining allowance in
// one credit category. One row per (user, category); mutated only under the
// row lock taken by the ledger service. Refills reset the row, they never
// accumulate onto it.
type CreditBalance struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index:ux_credit_balances_user_category,unique,priority:1" json:"user_id"`
	CreditCategory string     `gorm:"type:varchar(50);not null;index:ux_credit_balances_user_category,unique,priority:2" json:"credit_category"`
	Remaining      int64      `gorm:"not null;default:0" json:"remaining"`
	Used           int64      `gorm:"not null;default:0" json:"used"`
	OverageCount   int64      `gorm:"not null;default:0" json:"overage_count"`
	PeriodStart    *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	LastRefillAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_refill_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
