package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusUnpaid   = "unpaid"
)

// Subscription mirrors the payment gateway's subscription state for one user
// and maps it to an internal tier. A user has at most one live subscription;
// the row is never deleted, only transitioned to canceled.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index:ux_subscriptions_user,unique" json:"user_id"`
	ExternalSubscriptionID *string    `gorm:"type:varchar(191);default:null;index:ux_subscriptions_external,unique" json:"external_subscription_id,omitempty"`
	Tier                   string     `gorm:"type:varchar(50);not null;default:'free';index" json:"tier"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	PeriodStart            *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd              *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLive reports whether the subscription still entitles the user to its tier.
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
