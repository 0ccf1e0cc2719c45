package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/internal/subscription/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, providerSubscriptionID string) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND provider_subscription_id = ?", tenantID, providerSubscriptionID).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, subscription *domain.Subscription, funds []domain.SubscriptionFund) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(subscription).Error; err != nil {
			return err
		}
		if len(funds) == 0 {
			return nil
		}
		return tx.Create(&funds).Error
	})
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *domain.Subscription, funds []domain.SubscriptionFund) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&domain.Subscription{}).
			Where("tenant_id = ? AND id = ?", subscription.TenantID, subscription.ID).
			Updates(map[string]any{
				"amount":         subscription.Amount,
				"interval":       subscription.Interval,
				"interval_count": subscription.IntervalCount,
				"status":         subscription.Status,
				"updated_at":     subscription.UpdatedAt,
			}).Error
		if err != nil {
			return err
		}
		if funds == nil {
			return nil
		}
		if err := tx.Where("subscription_id = ?", subscription.ID).
			Delete(&domain.SubscriptionFund{}).Error; err != nil {
			return err
		}
		if len(funds) == 0 {
			return nil
		}
		return tx.Create(&funds).Error
	})
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, providerSubscriptionID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := r.FindByProviderSubscriptionID(ctx, tx, tenantID, providerSubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return nil
		}
		if err := tx.Where("subscription_id = ?", subscription.ID).
			Delete(&domain.SubscriptionFund{}).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND id = ?", tenantID, subscription.ID).
			Delete(&domain.Subscription{}).Error
	})
}

func (r *repo) FindFunds(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.SubscriptionFund, error) {
	var funds []domain.SubscriptionFund
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Find(&funds).Error
	if err != nil {
		return nil, err
	}
	return funds, nil
}
