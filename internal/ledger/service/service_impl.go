// Package service implements the donation ledger operations.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/pkg/db"

	"github.com/steeplehq/giving/internal/ledger/domain"
)

// Allocation is a requested fund split, in cents.
type Allocation struct {
	FundID snowflake.ID
	Amount int64
}

// LogDonationInput is one completed gift to record.
type LogDonationInput struct {
	TenantID      snowflake.ID
	Provider      string
	TransactionID string
	PersonID      *snowflake.ID
	Amount        int64
	Method        string
	MethodDetails string
	DonatedAt     time.Time
	Allocations   []Allocation
}

type Service struct {
	db   *gorm.DB
	repo domain.Repository
	node *snowflake.Node
	log  *zap.Logger
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Repo   domain.Repository
	Node   *snowflake.Node
	Logger *zap.Logger
}

func New(p Params) *Service {
	return &Service{
		db:   p.DB,
		repo: p.Repo,
		node: p.Node,
		log:  p.Logger.Named("ledger"),
	}
}

// GetOrCreateOpenBatch returns the tenant's single open batch, creating it
// lazily. The unique index on open_tenant_id makes the create race-safe on
// every dialect: the loser of a concurrent create re-reads the winner's row.
func (s *Service) GetOrCreateOpenBatch(ctx context.Context, tenantID snowflake.ID) (*domain.DonationBatch, error) {
	batch, err := s.repo.FindOpenBatch(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		return batch, nil
	}

	now := time.Now().UTC()
	openTenant := tenantID
	batch = &domain.DonationBatch{
		ID:           s.node.Generate(),
		TenantID:     tenantID,
		OpenTenantID: &openTenant,
		Name:         "Donations " + now.Format("2006-01-02"),
		Status:       domain.BatchStatusOpen,
		OpenedAt:     now,
	}
	if err := s.repo.CreateBatch(ctx, s.db, batch); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindOpenBatch(ctx, s.db, tenantID)
		}
		return nil, err
	}
	return batch, nil
}

// EnsureGeneralFund returns the tenant's general fund, creating it on first
// use.
func (s *Service) EnsureGeneralFund(ctx context.Context, tenantID snowflake.ID) (*domain.Fund, error) {
	fund, err := s.repo.FindGeneralFund(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if fund != nil {
		return fund, nil
	}

	now := time.Now().UTC()
	fund = &domain.Fund{
		ID:        s.node.Generate(),
		TenantID:  tenantID,
		Name:      "General Fund",
		General:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateFund(ctx, s.db, fund); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindGeneralFund(ctx, s.db, tenantID)
		}
		return nil, err
	}
	return fund, nil
}

// LogDonation records a gift and its fund fan-out. Returns created=false
// without error when the provider transaction was already recorded. The
// batch is snapshotted once at operation start; a batch closed mid-flight
// does not move the donation.
func (s *Service) LogDonation(ctx context.Context, input LogDonationInput) (*domain.Donation, bool, error) {
	if input.Amount <= 0 {
		return nil, false, fmt.Errorf("%w: non-positive amount", domain.ErrInvariantViolation)
	}

	batch, err := s.GetOrCreateOpenBatch(ctx, input.TenantID)
	if err != nil {
		return nil, false, err
	}

	rows, err := s.resolveAllocations(ctx, input)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	donatedAt := input.DonatedAt
	if donatedAt.IsZero() {
		donatedAt = now
	}

	donation := &domain.Donation{
		ID:            s.node.Generate(),
		TenantID:      input.TenantID,
		BatchID:       batch.ID,
		PersonID:      input.PersonID,
		Provider:      input.Provider,
		Amount:        input.Amount,
		Method:        input.Method,
		MethodDetails: input.MethodDetails,
		DonatedAt:     donatedAt,
		CreatedAt:     now,
	}
	if input.TransactionID != "" {
		transactionID := input.TransactionID
		donation.TransactionID = &transactionID
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertDonation(ctx, tx, donation)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		created = true

		fundRows := make([]domain.FundDonation, 0, len(rows))
		for _, row := range rows {
			fundRows = append(fundRows, domain.FundDonation{
				ID:         s.node.Generate(),
				TenantID:   input.TenantID,
				DonationID: donation.ID,
				FundID:     row.FundID,
				Amount:     row.Amount,
			})
		}
		return s.repo.InsertFundDonations(ctx, tx, fundRows)
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := s.repo.FindDonationByTransaction(ctx, s.db, input.TenantID, input.TransactionID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.log.Info("donation recorded",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("provider", input.Provider),
		zap.Int64("amount", input.Amount),
		zap.Int("funds", len(rows)),
	)
	return donation, true, nil
}

// resolveAllocations validates the requested fan-out against the tenant's
// funds. Splits naming unknown funds are redirected to the general fund;
// an empty request allocates everything to the general fund. The resolved
// rows always sum exactly to the donation amount; a requested sum off by
// more than one cent fails the operation.
func (s *Service) resolveAllocations(ctx context.Context, input LogDonationInput) ([]Allocation, error) {
	if len(input.Allocations) == 0 {
		general, err := s.EnsureGeneralFund(ctx, input.TenantID)
		if err != nil {
			return nil, err
		}
		return []Allocation{{FundID: general.ID, Amount: input.Amount}}, nil
	}

	var total int64
	ids := make([]snowflake.ID, 0, len(input.Allocations))
	for _, alloc := range input.Allocations {
		if alloc.Amount <= 0 {
			return nil, fmt.Errorf("%w: non-positive fund allocation", domain.ErrInvariantViolation)
		}
		total += alloc.Amount
		ids = append(ids, alloc.FundID)
	}
	diff := input.Amount - total
	if diff > 1 || diff < -1 {
		return nil, fmt.Errorf("%w: allocations sum to %d for amount %d", domain.ErrInvariantViolation, total, input.Amount)
	}

	funds, err := s.repo.FindFunds(ctx, s.db, input.TenantID, ids)
	if err != nil {
		return nil, err
	}
	known := make(map[snowflake.ID]bool, len(funds))
	for _, fund := range funds {
		known[fund.ID] = true
	}

	merged := map[snowflake.ID]int64{}
	order := []snowflake.ID{}
	var generalID snowflake.ID
	for _, alloc := range input.Allocations {
		fundID := alloc.FundID
		if !known[fundID] {
			if generalID == 0 {
				general, err := s.EnsureGeneralFund(ctx, input.TenantID)
				if err != nil {
					return nil, err
				}
				generalID = general.ID
			}
			fundID = generalID
		}
		if _, seen := merged[fundID]; !seen {
			order = append(order, fundID)
		}
		merged[fundID] += alloc.Amount
	}

	// Absorb a one-cent rounding remainder into the first fund so the rows
	// sum exactly to the amount.
	merged[order[0]] += diff

	out := make([]Allocation, 0, len(order))
	for _, fundID := range order {
		out = append(out, Allocation{FundID: fundID, Amount: merged[fundID]})
	}
	return out, nil
}
