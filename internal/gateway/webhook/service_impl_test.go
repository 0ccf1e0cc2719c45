package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/internal/config"
	"github.com/steeplehq/giving/internal/gateway/adapters"
	"github.com/steeplehq/giving/internal/gateway/adapters/stripe"
	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	gatewayrepo "github.com/steeplehq/giving/internal/gateway/repository"
	gatewayservice "github.com/steeplehq/giving/internal/gateway/service"
	"github.com/steeplehq/giving/internal/gateway/webhook"
	ledgerdomain "github.com/steeplehq/giving/internal/ledger/domain"
	ledgerrepo "github.com/steeplehq/giving/internal/ledger/repository"
	ledgerservice "github.com/steeplehq/giving/internal/ledger/service"
	"github.com/steeplehq/giving/internal/settings"
	subscriptiondomain "github.com/steeplehq/giving/internal/subscription/domain"
	subscriptionrepo "github.com/steeplehq/giving/internal/subscription/repository"
	"github.com/steeplehq/giving/internal/vault"
)

const stripeWebhookSecret = "whsec_processor_test"

type stack struct {
	db       *gorm.DB
	node     *snowflake.Node
	vault    *vault.Vault
	webhooks *webhook.Service
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&gatewaydomain.Gateway{},
		&gatewaydomain.EventLog{},
		&ledgerdomain.Fund{},
		&ledgerdomain.DonationBatch{},
		&ledgerdomain.Donation{},
		&ledgerdomain.FundDonation{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionFund{},
		&settings.TenantSetting{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(31)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	cfg := config.Config{GivingSecretKey: "processor_test_key"}
	v := vault.New(cfg)
	logger := zap.NewNop()

	gatewayRepo := gatewayrepo.Provide()
	ledger := ledgerservice.New(ledgerservice.Params{
		DB:     db,
		Repo:   ledgerrepo.Provide(),
		Node:   node,
		Logger: logger,
	})
	subs := subscriptionrepo.Provide()

	gateways := gatewayservice.New(gatewayservice.Params{
		DB:       db,
		Repo:     gatewayRepo,
		Registry: adapters.NewRegistry(stripe.NewFactory()),
		Vault:    v,
		Settings: settings.New(db, node),
		Subs:     subs,
		Node:     node,
		Config:   cfg,
		Logger:   logger,
	})

	webhooks := webhook.New(webhook.Params{
		DB:       db,
		Gateways: gateways,
		Events:   gatewayRepo,
		Ledger:   ledger,
		Subs:     subs,
		Node:     node,
		Logger:   logger,
	})

	return &stack{db: db, node: node, vault: v, webhooks: webhooks}
}

func (s *stack) seedStripeGateway(t *testing.T, tenantID snowflake.ID) {
	t.Helper()

	encryptedKey, err := s.vault.Encrypt("sk_test_processor")
	if err != nil {
		t.Fatalf("encrypt private key: %v", err)
	}
	encryptedSecret, err := s.vault.Encrypt(stripeWebhookSecret)
	if err != nil {
		t.Fatalf("encrypt webhook secret: %v", err)
	}

	now := time.Now().UTC()
	gateway := gatewaydomain.Gateway{
		ID:                     s.node.Generate(),
		TenantID:               tenantID,
		Provider:               gatewaydomain.ProviderStripe,
		Environment:            gatewaydomain.EnvironmentSandbox,
		EncryptedPrivateKey:    encryptedKey,
		EncryptedWebhookSecret: encryptedSecret,
		Settings:               datatypes.JSONMap{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.db.Create(&gateway).Error; err != nil {
		t.Fatalf("seed gateway: %v", err)
	}
}

func signedHeader(payload []byte, ts int64) http.Header {
	mac := hmac.New(sha256.New, []byte(stripeWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return header
}

func assertCount(t *testing.T, db *gorm.DB, model any, want int64) {
	t.Helper()

	var got int64
	if err := db.Model(model).Count(&got).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d rows of %T, got %d", want, model, got)
	}
}

func chargePayload(eventID, chargeID string, amount int64, ts int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "charge.succeeded",
		"created": %d,
		"data": {"object": {
			"id": %q,
			"amount": %d,
			"currency": "usd",
			"status": "succeeded",
			"created": %d,
			"payment_method_details": {"type": "card", "card": {"brand": "visa", "last4": "4242"}}
		}}
	}`, eventID, ts, chargeID, amount, ts))
}

func TestProcessRecordsDonationExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	tenantID := s.node.Generate()
	s.seedStripeGateway(t, tenantID)

	ts := time.Now().Unix()
	payload := chargePayload("evt_once", "ch_once", 2606, ts)
	headers := signedHeader(payload, ts)

	outcome, err := s.webhooks.Process(ctx, tenantID, "stripe", headers, payload)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if outcome.Status != webhook.OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", outcome.Status)
	}

	// Redelivery of the same event must short-circuit on the event log.
	outcome, err = s.webhooks.Process(ctx, tenantID, "stripe", headers, payload)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome.Status != webhook.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome.Status)
	}

	assertCount(t, s.db, &ledgerdomain.Donation{}, 1)
	assertCount(t, s.db, &gatewaydomain.EventLog{}, 1)

	var event gatewaydomain.EventLog
	if err := s.db.First(&event).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Status != gatewaydomain.EventStatusDonationRecorded {
		t.Fatalf("expected donation_recorded status, got %s", event.Status)
	}
}

func TestProcessUnknownGateway(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	ts := time.Now().Unix()
	payload := chargePayload("evt_orphan", "ch_orphan", 100, ts)

	_, err := s.webhooks.Process(ctx, s.node.Generate(), "stripe", signedHeader(payload, ts), payload)
	if !errors.Is(err, gatewaydomain.ErrGatewayNotFound) {
		t.Fatalf("expected ErrGatewayNotFound, got %v", err)
	}
	assertCount(t, s.db, &gatewaydomain.EventLog{}, 0)
	assertCount(t, s.db, &ledgerdomain.Donation{}, 0)
}

func TestProcessRejectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	tenantID := s.node.Generate()
	s.seedStripeGateway(t, tenantID)

	ts := time.Now().Unix()
	payload := chargePayload("evt_tamper", "ch_tamper", 100, ts)
	headers := signedHeader(payload, ts)
	tampered := chargePayload("evt_tamper", "ch_tamper", 100000, ts)

	_, err := s.webhooks.Process(ctx, tenantID, "stripe", headers, tampered)
	if !errors.Is(err, gatewaydomain.ErrSignatureVerificationFailed) {
		t.Fatalf("expected ErrSignatureVerificationFailed, got %v", err)
	}
	assertCount(t, s.db, &gatewaydomain.EventLog{}, 0)
	assertCount(t, s.db, &ledgerdomain.Donation{}, 0)
}

func TestProcessCancellationDeletesMirror(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	tenantID := s.node.Generate()
	s.seedStripeGateway(t, tenantID)

	now := time.Now().UTC()
	mirror := subscriptiondomain.Subscription{
		ID:                     s.node.Generate(),
		TenantID:               tenantID,
		Provider:               gatewaydomain.ProviderStripe,
		ProviderSubscriptionID: "sub_gone",
		Amount:                 1500,
		Currency:               "USD",
		Interval:               "month",
		IntervalCount:          1,
		Status:                 subscriptiondomain.StatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.db.Create(&mirror).Error; err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	ts := time.Now().Unix()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_cancel",
		"type": "customer.subscription.deleted",
		"created": %d,
		"data": {"object": {"id": "sub_gone", "status": "canceled"}}
	}`, ts))
	headers := signedHeader(payload, ts)

	outcome, err := s.webhooks.Process(ctx, tenantID, "stripe", headers, payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Status != webhook.OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", outcome.Status)
	}
	assertCount(t, s.db, &subscriptiondomain.Subscription{}, 0)

	// Redelivery after the mirror is gone is still a clean duplicate.
	outcome, err = s.webhooks.Process(ctx, tenantID, "stripe", headers, payload)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome.Status != webhook.OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome.Status)
	}
}

func TestProcessRenewalUsesMirrorFanOut(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	tenantID := s.node.Generate()
	s.seedStripeGateway(t, tenantID)

	now := time.Now().UTC()
	missions := ledgerdomain.Fund{
		ID:        s.node.Generate(),
		TenantID:  tenantID,
		Name:      "Missions",
		CreatedAt: now,
		UpdatedAt: now,
	}
	building := ledgerdomain.Fund{
		ID:        s.node.Generate(),
		TenantID:  tenantID,
		Name:      "Building",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&missions).Error; err != nil {
		t.Fatalf("seed fund: %v", err)
	}
	if err := s.db.Create(&building).Error; err != nil {
		t.Fatalf("seed fund: %v", err)
	}

	personID := s.node.Generate()
	mirror := subscriptiondomain.Subscription{
		ID:                     s.node.Generate(),
		TenantID:               tenantID,
		PersonID:               &personID,
		Provider:               gatewaydomain.ProviderStripe,
		ProviderSubscriptionID: "sub_renew",
		Amount:                 3000,
		Currency:               "USD",
		Interval:               "month",
		IntervalCount:          1,
		Status:                 subscriptiondomain.StatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.db.Create(&mirror).Error; err != nil {
		t.Fatalf("seed mirror: %v", err)
	}
	for fundID, amount := range map[snowflake.ID]int64{missions.ID: 2000, building.ID: 1000} {
		row := subscriptiondomain.SubscriptionFund{
			ID:             s.node.Generate(),
			TenantID:       tenantID,
			SubscriptionID: mirror.ID,
			FundID:         fundID,
			Amount:         amount,
		}
		if err := s.db.Create(&row).Error; err != nil {
			t.Fatalf("seed mirror fund: %v", err)
		}
	}

	ts := time.Now().Unix()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_renew",
		"type": "invoice.paid",
		"created": %d,
		"data": {"object": {
			"id": "in_renew",
			"amount_paid": 3000,
			"charge": "ch_renew",
			"subscription": "sub_renew",
			"created": %d
		}}
	}`, ts, ts))

	outcome, err := s.webhooks.Process(ctx, tenantID, "stripe", signedHeader(payload, ts), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Status != webhook.OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", outcome.Status)
	}

	var donation ledgerdomain.Donation
	if err := s.db.Where("tenant_id = ?", tenantID).First(&donation).Error; err != nil {
		t.Fatalf("load donation: %v", err)
	}
	if donation.TransactionID == nil || *donation.TransactionID != "ch_renew" {
		t.Fatalf("expected transaction ch_renew, got %+v", donation.TransactionID)
	}
	if donation.PersonID == nil || *donation.PersonID != personID {
		t.Fatalf("expected person id from mirror, got %+v", donation.PersonID)
	}

	var rows []ledgerdomain.FundDonation
	if err := s.db.Where("donation_id = ?", donation.ID).Find(&rows).Error; err != nil {
		t.Fatalf("find fund donations: %v", err)
	}
	amounts := map[snowflake.ID]int64{}
	for _, row := range rows {
		amounts[row.FundID] = row.Amount
	}
	if len(amounts) != 2 || amounts[missions.ID] != 2000 || amounts[building.ID] != 1000 {
		t.Fatalf("expected mirror fan-out, got %+v", amounts)
	}
}

func TestProcessFailureAfterGateSurfacesAsRetryable(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	tenantID := s.node.Generate()
	s.seedStripeGateway(t, tenantID)

	// The fund split disagrees with the charged amount, so the ledger rejects
	// the donation after the event log insert.
	fundID := s.node.Generate()
	ts := time.Now().Unix()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_badsplit",
		"type": "charge.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "ch_badsplit",
			"amount": 5000,
			"currency": "usd",
			"status": "succeeded",
			"created": %d,
			"metadata": {"funds": "[{\"fund_id\": \"%s\", \"amount\": 1000}]"}
		}}
	}`, ts, ts, fundID))

	_, err := s.webhooks.Process(ctx, tenantID, "stripe", signedHeader(payload, ts), payload)
	if !errors.Is(err, gatewaydomain.ErrEventProcessingFailed) {
		t.Fatalf("expected ErrEventProcessingFailed, got %v", err)
	}
	if errors.Is(err, gatewaydomain.ErrInvalidEvent) {
		t.Fatalf("post-gate failure must not map to a client error: %v", err)
	}

	assertCount(t, s.db, &ledgerdomain.Donation{}, 0)
	var event gatewaydomain.EventLog
	if err := s.db.Where("tenant_id = ?", tenantID).First(&event).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Status != gatewaydomain.EventStatusFailed {
		t.Fatalf("expected failed status, got %s", event.Status)
	}
}
