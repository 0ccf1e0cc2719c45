// Package settings stores per-tenant key/value configuration, including fee
// pricing overrides negotiated with a processor.
package settings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
)

const (
	KeyFeeFixed       = "fees.fixed"
	KeyFeePercent     = "fees.percent"
	KeyFeeMaxTransfer = "fees.maxTransfer"
)

type TenantSetting struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:idx_tenant_settings_tenant_key,priority:1"`
	Key       string       `json:"key" gorm:"type:text;not null;uniqueIndex:idx_tenant_settings_tenant_key,priority:2"`
	Value     string       `json:"value" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (TenantSetting) TableName() string { return "tenant_settings" }

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

func New(db *gorm.DB, node *snowflake.Node) *Service {
	return &Service{db: db, node: node}
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID, key string) (string, bool, error) {
	var setting TenantSetting
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND key = ?", tenantID, key).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

func (s *Service) Set(ctx context.Context, tenantID snowflake.ID, key, value string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&TenantSetting{}).
		Where("tenant_id = ? AND key = ?", tenantID, key).
		Updates(map[string]any{"value": value, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&TenantSetting{
		ID:        s.node.Generate(),
		TenantID:  tenantID,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
}

// ApplyFeeOverrides layers tenant-negotiated pricing over a provider's
// defaults. Unset or malformed values leave the default untouched.
func (s *Service) ApplyFeeOverrides(ctx context.Context, tenantID snowflake.ID, pricing gatewaydomain.FeePricing) (gatewaydomain.FeePricing, error) {
	if value, ok, err := s.Get(ctx, tenantID, KeyFeeFixed); err != nil {
		return pricing, err
	} else if ok {
		if fixed, err := strconv.ParseInt(value, 10, 64); err == nil && fixed >= 0 {
			pricing.Fixed = fixed
		}
	}

	if value, ok, err := s.Get(ctx, tenantID, KeyFeePercent); err != nil {
		return pricing, err
	} else if ok {
		if percent, err := strconv.ParseFloat(value, 64); err == nil && percent >= 0 && percent < 1 {
			pricing.Percent = percent
		}
	}

	if value, ok, err := s.Get(ctx, tenantID, KeyFeeMaxTransfer); err != nil {
		return pricing, err
	} else if ok {
		if maxFee, err := strconv.ParseInt(value, 10, 64); err == nil && maxFee >= 0 {
			pricing.MaxFee = maxFee
		}
	}

	return pricing, nil
}
