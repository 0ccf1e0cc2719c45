package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists gateway configuration and the webhook event log. The
// *gorm.DB is passed per call so services can run several operations inside
// one transaction.
type Repository interface {
	FindGateway(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Gateway, error)
	FindGatewayByProvider(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*Gateway, error)
	ListGateways(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Gateway, error)
	CreateGateway(ctx context.Context, db *gorm.DB, gateway *Gateway) error
	UpdateGateway(ctx context.Context, db *gorm.DB, gateway *Gateway) error
	DeleteGateway(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error

	// InsertEvent appends to the event log. It reports false when the
	// (tenant_id, provider_event_id) pair was already recorded; that is the
	// exactly-once gate for webhook processing.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventLog) (bool, error)
	UpdateEventStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status, message string) error
	FindEvent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, providerEventID string) (*EventLog, error)
}
