package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, providerSubscriptionID string) (*Subscription, error)
	Create(ctx context.Context, db *gorm.DB, subscription *Subscription, funds []SubscriptionFund) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription, funds []SubscriptionFund) error
	// Delete removes the local mirror and its fund rows. Deleting a mirror
	// that is already gone is a no-op.
	Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, providerSubscriptionID string) error
	FindFunds(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]SubscriptionFund, error)
}
