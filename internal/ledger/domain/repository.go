package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindOpenBatch(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*DonationBatch, error)
	CreateBatch(ctx context.Context, db *gorm.DB, batch *DonationBatch) error

	FindGeneralFund(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Fund, error)
	FindFunds(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]Fund, error)
	CreateFund(ctx context.Context, db *gorm.DB, fund *Fund) error

	// InsertDonation reports false when the (tenant_id, transaction_id) pair
	// already exists; the caller treats that as a no-op success.
	InsertDonation(ctx context.Context, db *gorm.DB, donation *Donation) (bool, error)
	InsertFundDonations(ctx context.Context, db *gorm.DB, rows []FundDonation) error
	FindDonationByTransaction(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionID string) (*Donation, error)
}
