package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steeplehq/giving/internal/gateway/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindGateway(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Gateway, error) {
	var gateway domain.Gateway
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&gateway).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gateway, nil
}

func (r *repo) FindGatewayByProvider(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*domain.Gateway, error) {
	var gateway domain.Gateway
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&gateway).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gateway, nil
}

func (r *repo) ListGateways(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Gateway, error) {
	var gateways []domain.Gateway
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("provider").
		Find(&gateways).Error
	if err != nil {
		return nil, err
	}
	return gateways, nil
}

func (r *repo) CreateGateway(ctx context.Context, db *gorm.DB, gateway *domain.Gateway) error {
	return db.WithContext(ctx).Create(gateway).Error
}

func (r *repo) UpdateGateway(ctx context.Context, db *gorm.DB, gateway *domain.Gateway) error {
	return db.WithContext(ctx).
		Model(&domain.Gateway{}).
		Where("tenant_id = ? AND id = ?", gateway.TenantID, gateway.ID).
		Updates(map[string]any{
			"environment":              gateway.Environment,
			"encrypted_private_key":    gateway.EncryptedPrivateKey,
			"encrypted_webhook_secret": gateway.EncryptedWebhookSecret,
			"public_key":               gateway.PublicKey,
			"product_id":               gateway.ProductID,
			"webhook_endpoint_id":      gateway.WebhookEndpointID,
			"settings":                 gateway.Settings,
			"pay_fees":                 gateway.PayFees,
			"updated_at":               gateway.UpdatedAt,
		}).Error
}

func (r *repo) DeleteGateway(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.Gateway{}).Error
}

// InsertEvent is the exactly-once gate: zero rows affected means another
// delivery of the same provider event got here first. The conflict clause
// renders per dialect.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventLog) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateEventStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status, message string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE event_logs SET status = ?, message = ? WHERE id = ?`,
		status,
		message,
		id,
	).Error
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, providerEventID string) (*domain.EventLog, error) {
	var event domain.EventLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, provider_event_id, event_type, status,
			message, received_at
		 FROM event_logs
		 WHERE tenant_id = ? AND provider_event_id = ?
		 LIMIT 1`,
		tenantID,
		providerEventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}
