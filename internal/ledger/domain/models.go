// Package domain holds the donation ledger models. The ledger is the
// system of record: rows here are written exactly once per provider
// transaction and never mutated afterwards.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ErrInvariantViolation marks a fund fan-out whose allocations do not add up
// to the donation amount.
var ErrInvariantViolation = errors.New("ledger_invariant_violation")

const (
	BatchStatusOpen   = "open"
	BatchStatusClosed = "closed"
)

// Fund is a designated giving bucket. Exactly one fund per tenant is the
// general fund, the fallback for unallocated gifts.
type Fund struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	General   bool         `json:"general" gorm:"not null;default:false"`
	Archived  bool         `json:"archived" gorm:"not null;default:false"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Fund) TableName() string { return "funds" }

// DonationBatch groups donations for reconciliation. A tenant has at most
// one open batch at a time: OpenTenantID mirrors TenantID while the batch
// is open and goes NULL on close, so its unique index admits one open row
// per tenant on every dialect (NULLs never collide).
type DonationBatch struct {
	ID           snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	OpenTenantID *snowflake.ID `json:"-" gorm:"uniqueIndex:idx_donation_batches_tenant_open"`
	Name         string        `json:"name" gorm:"type:text;not null"`
	Status       string        `json:"status" gorm:"type:text;not null;default:open"`
	OpenedAt     time.Time     `json:"opened_at" gorm:"not null"`
	ClosedAt     *time.Time    `json:"closed_at"`
}

func (DonationBatch) TableName() string { return "donation_batches" }

// Donation is one recorded gift. TransactionID carries the provider's
// transaction reference; its (tenant_id, transaction_id) uniqueness is the
// ledger-level duplicate backstop behind the event-log gate.
type Donation struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID  `json:"tenant_id" gorm:"not null;uniqueIndex:idx_donations_tenant_transaction,priority:1"`
	BatchID       snowflake.ID  `json:"batch_id" gorm:"not null;index"`
	PersonID      *snowflake.ID `json:"person_id"`
	TransactionID *string       `json:"transaction_id" gorm:"type:text;uniqueIndex:idx_donations_tenant_transaction,priority:2"`
	Provider      string        `json:"provider" gorm:"type:text;not null"`
	Amount        int64         `json:"amount" gorm:"not null"`
	Method        string        `json:"method" gorm:"type:text;not null"`
	MethodDetails string        `json:"method_details" gorm:"type:text"`
	DonatedAt     time.Time     `json:"donated_at" gorm:"not null"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
}

func (Donation) TableName() string { return "donations" }

// FundDonation splits a donation's amount across funds, in cents. The rows
// of one donation always sum to its amount.
type FundDonation struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	DonationID snowflake.ID `json:"donation_id" gorm:"not null;index"`
	FundID     snowflake.ID `json:"fund_id" gorm:"not null;index"`
	Amount     int64        `json:"amount" gorm:"not null"`
}

func (FundDonation) TableName() string { return "fund_donations" }
