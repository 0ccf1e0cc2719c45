// Package domain holds the local mirror of provider-side recurring gifts.
// The provider owns the billing schedule; these rows only carry the fund
// fan-out and donor identity that renewal callbacks need.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

type Subscription struct {
	ID                     snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID               snowflake.ID  `json:"tenant_id" gorm:"not null;uniqueIndex:idx_subscriptions_tenant_provider_sub,priority:1"`
	PersonID               *snowflake.ID `json:"person_id"`
	Provider               string        `json:"provider" gorm:"type:text;not null"`
	ProviderSubscriptionID string        `json:"provider_subscription_id" gorm:"type:text;not null;uniqueIndex:idx_subscriptions_tenant_provider_sub,priority:2"`
	CustomerID             string        `json:"customer_id" gorm:"type:text"`
	Amount                 int64         `json:"amount" gorm:"not null"`
	Currency               string        `json:"currency" gorm:"type:text;not null;default:USD"`
	Interval               string        `json:"interval" gorm:"type:text;not null"`
	IntervalCount          int           `json:"interval_count" gorm:"not null;default:1"`
	Status                 string        `json:"status" gorm:"type:text;not null"`
	CreatedAt              time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time     `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

type SubscriptionFund struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index"`
	FundID         snowflake.ID `json:"fund_id" gorm:"not null"`
	Amount         int64        `json:"amount" gorm:"not null"`
}

func (SubscriptionFund) TableName() string { return "subscription_funds" }
