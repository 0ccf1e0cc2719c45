package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ProviderStripe    = "stripe"
	ProviderPayPal    = "paypal"
	ProviderSquare    = "square"
	ProviderEPayMints = "epaymints"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Gateway is a tenant's configuration for one payment processor. At most one
// active gateway exists per (tenant, provider).
type Gateway struct {
	ID                     snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID               snowflake.ID      `json:"tenant_id" gorm:"not null;uniqueIndex:idx_gateways_tenant_provider,priority:1"`
	Provider               string            `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_gateways_tenant_provider,priority:2"`
	Environment            string            `json:"environment" gorm:"type:text;not null"`
	EncryptedPrivateKey    string            `json:"-" gorm:"type:text;not null"`
	EncryptedWebhookSecret string            `json:"-" gorm:"type:text"`
	PublicKey              string            `json:"public_key" gorm:"type:text"`
	ProductID              string            `json:"product_id" gorm:"type:text"`
	WebhookEndpointID      string            `json:"-" gorm:"type:text"`
	Settings               datatypes.JSONMap `json:"settings" gorm:"type:jsonb"`
	PayFees                bool              `json:"pay_fees" gorm:"not null;default:false"`
	CreatedAt              time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time         `json:"updated_at" gorm:"not null"`
}

func (Gateway) TableName() string { return "gateways" }

// EventLog is the append-only record of every provider callback seen. Its
// (tenant_id, provider_event_id) uniqueness is the idempotency gate.
type EventLog struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID        snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:idx_event_logs_tenant_event,priority:1"`
	Provider        string       `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string       `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:idx_event_logs_tenant_event,priority:2"`
	EventType       string       `json:"event_type" gorm:"type:text;not null"`
	Status          string       `json:"status" gorm:"type:text;not null"`
	Message         string       `json:"message" gorm:"type:text"`
	ReceivedAt      time.Time    `json:"received_at" gorm:"not null"`
}

func (EventLog) TableName() string { return "event_logs" }

const (
	EventStatusLogged                = "logged"
	EventStatusDonationRecorded      = "donation_recorded"
	EventStatusSubscriptionCancelled = "subscription_cancelled"
	EventStatusFailed                = "failed"
)

// Capabilities are the static optional-operation flags of a provider.
// Callers check the relevant flag before invoking an optional operation.
type Capabilities struct {
	Orders         bool `json:"orders"`
	Subscriptions  bool `json:"subscriptions"`
	ClientTokens   bool `json:"client_tokens"`
	BankAccounts   bool `json:"bank_accounts"`
	Products       bool `json:"products"`
	Customers      bool `json:"customers"`
	PaymentMethods bool `json:"payment_methods"`
}

// AdapterConfig carries the decrypted credentials a factory needs to build a
// live adapter. It exists only for the duration of a call.
type AdapterConfig struct {
	TenantID      snowflake.ID
	Provider      string
	Environment   string
	PrivateKey    string
	WebhookSecret string
	PublicKey     string
	ProductID     string
	Settings      map[string]any
}

// PaymentMethod distinguishes card charges from bank transfers; the latter
// use capped transfer pricing.
type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodBank PaymentMethod = "bank"
)

// FundAllocation splits a donation amount across funds, in cents.
type FundAllocation struct {
	FundID snowflake.ID `json:"fund_id"`
	Amount int64        `json:"amount"`
}

// DonationEvent is the normalized donation payload extracted from a
// provider's completion callback.
type DonationEvent struct {
	TransactionID string
	PersonID      *snowflake.ID
	Amount        int64
	Method        PaymentMethod
	MethodDetails string
	Funds         []FundAllocation
	OccurredAt    time.Time
}

// WebhookKind classifies a verified callback for dispatch.
type WebhookKind string

const (
	WebhookKindDonation     WebhookKind = "donation"
	WebhookKindCancellation WebhookKind = "subscription_cancellation"
	WebhookKindOther        WebhookKind = "other"
)

// WebhookResult is the one shape every provider's verification scheme is
// normalized into. ShouldProcess=false marks a valid but ignorable event
// (provider-flagged duplicate or an unmodeled type); it is not an error.
type WebhookResult struct {
	EventID                string
	EventType              string
	Kind                   WebhookKind
	ShouldProcess          bool
	Donation               *DonationEvent
	ProviderSubscriptionID string
}

type ChargeRequest struct {
	Amount          int64            `json:"amount"`
	Currency        string           `json:"currency"`
	Method          PaymentMethod    `json:"method"`
	PaymentMethodID string           `json:"payment_method_id"`
	CustomerID      string           `json:"customer_id"`
	PersonID        *snowflake.ID    `json:"person_id"`
	Funds           []FundAllocation `json:"funds"`
	Description     string           `json:"description"`
}

type ChargeResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	MethodDetails string `json:"method_details"`
}

type SubscriptionRequest struct {
	CustomerID      string           `json:"customer_id"`
	PaymentMethodID string           `json:"payment_method_id"`
	Amount          int64            `json:"amount"`
	Currency        string           `json:"currency"`
	Interval        string           `json:"interval"`
	IntervalCount   int              `json:"interval_count"`
	PersonID        *snowflake.ID    `json:"person_id"`
	Funds           []FundAllocation `json:"funds"`
}

type SubscriptionResult struct {
	ProviderSubscriptionID string `json:"provider_subscription_id"`
	Status                 string `json:"status"`
}

type SubscriptionUpdate struct {
	ProviderSubscriptionID string `json:"provider_subscription_id"`
	Amount                 int64  `json:"amount"`
	PaymentMethodID        string `json:"payment_method_id"`
	Interval               string `json:"interval"`
	IntervalCount          int    `json:"interval_count"`
}

// WebhookEndpoint is the provider-side callback registration created during
// gateway provisioning.
type WebhookEndpoint struct {
	ID     string
	Secret string
}

type CardUpdate struct {
	ExpMonth int `json:"exp_month"`
	ExpYear  int `json:"exp_year"`
}

type BankUpdate struct {
	AccountHolderName string `json:"account_holder_name"`
	AccountHolderType string `json:"account_holder_type"`
}

type PaymentMethodInfo struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
	Verified *bool  `json:"verified,omitempty"`
}

type CustomerSubscription struct {
	ProviderSubscriptionID string `json:"provider_subscription_id"`
	Amount                 int64  `json:"amount"`
	Currency               string `json:"currency"`
	Interval               string `json:"interval"`
	Status                 string `json:"status"`
}
