package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steeplehq/giving/internal/ledger/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindOpenBatch(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.DonationBatch, error) {
	var batch domain.DonationBatch
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, domain.BatchStatusOpen).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) CreateBatch(ctx context.Context, db *gorm.DB, batch *domain.DonationBatch) error {
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindGeneralFund(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Fund, error) {
	var fund domain.Fund
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND general = ?", tenantID, true).
		First(&fund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fund, nil
}

func (r *repo) FindFunds(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]domain.Fund, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var funds []domain.Fund
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&funds).Error
	if err != nil {
		return nil, err
	}
	return funds, nil
}

func (r *repo) CreateFund(ctx context.Context, db *gorm.DB, fund *domain.Fund) error {
	return db.WithContext(ctx).Create(fund).Error
}

// InsertDonation writes the row unless the provider transaction is already
// recorded. The conflict clause renders per dialect, so the zero-rows path
// works the same on postgres, sqlite and mysql.
func (r *repo) InsertDonation(ctx context.Context, db *gorm.DB, donation *domain.Donation) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(donation)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertFundDonations(ctx context.Context, db *gorm.DB, rows []domain.FundDonation) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

func (r *repo) FindDonationByTransaction(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionID string) (*domain.Donation, error) {
	var donation domain.Donation
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_id = ?", tenantID, transactionID).
		First(&donation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &donation, nil
}
