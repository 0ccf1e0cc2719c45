package stripe_test

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

	"github.com/steeplehq/giving/internal/gateway/adapters/stripe"
	"github.com/steeplehq/giving/internal/gateway/domain"
)

const webhookSecret = "whsec_test"

func newAdapter(t *testing.T) domain.Adapter {
	t.Helper()

	node, err := snowflake.NewNode(20)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	adapter, err := stripe.NewFactory().NewAdapter(domain.AdapterConfig{
		TenantID:      node.Generate(),
		Provider:      domain.ProviderStripe,
		Environment:   domain.EnvironmentSandbox,
		PrivateKey:    "sk_test_123",
		WebhookSecret: webhookSecret,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func signedHeader(secret string, payload []byte, ts int64) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return header
}

func TestVerifyWebhookChargeSucceeded(t *testing.T) {
	adapter := newAdapter(t)
	now := time.Now().UTC()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "charge.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "ch_1",
			"amount": 2606,
			"currency": "usd",
			"status": "succeeded",
			"created": %d,
			"metadata": {
				"person_id": "1234567890123456789",
				"funds": "[{\"fund_id\":\"987654321098765432\",\"amount\":2606}]"
			},
			"payment_method_details": {"type": "card", "card": {"brand": "visa", "last4": "4242"}}
		}}
	}`, now.Unix(), now.Unix()))

	result, err := adapter.VerifyWebhook(context.Background(), signedHeader(webhookSecret, payload, now.Unix()), payload)
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}

	if result.EventID != "evt_1" {
		t.Fatalf("expected event id evt_1, got %s", result.EventID)
	}
	if result.Kind != domain.WebhookKindDonation || !result.ShouldProcess {
		t.Fatalf("expected processable donation, got kind=%s process=%v", result.Kind, result.ShouldProcess)
	}
	if result.Donation == nil {
		t.Fatalf("expected donation payload")
	}
	if result.Donation.TransactionID != "ch_1" || result.Donation.Amount != 2606 {
		t.Fatalf("unexpected donation %+v", result.Donation)
	}
	if result.Donation.Method != domain.MethodCard || result.Donation.MethodDetails != "visa ****4242" {
		t.Fatalf("unexpected method details %+v", result.Donation)
	}
	if result.Donation.PersonID == nil || result.Donation.PersonID.String() != "1234567890123456789" {
		t.Fatalf("expected person id, got %+v", result.Donation.PersonID)
	}
	if len(result.Donation.Funds) != 1 || result.Donation.Funds[0].Amount != 2606 {
		t.Fatalf("unexpected funds %+v", result.Donation.Funds)
	}
}

func TestVerifyWebhookSubscriptionDeleted(t *testing.T) {
	adapter := newAdapter(t)
	now := time.Now().UTC()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"type": "customer.subscription.deleted",
		"created": %d,
		"data": {"object": {"id": "sub_1", "status": "canceled"}}
	}`, now.Unix()))

	result, err := adapter.VerifyWebhook(context.Background(), signedHeader(webhookSecret, payload, now.Unix()), payload)
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if result.Kind != domain.WebhookKindCancellation || !result.ShouldProcess {
		t.Fatalf("expected cancellation, got %+v", result)
	}
	if result.ProviderSubscriptionID != "sub_1" {
		t.Fatalf("expected sub_1, got %s", result.ProviderSubscriptionID)
	}
}

func TestVerifyWebhookIgnoresUnmodeledTypes(t *testing.T) {
	adapter := newAdapter(t)
	now := time.Now().UTC()

	payload := []byte(fmt.Sprintf(`{"id":"evt_3","type":"customer.created","created":%d,"data":{"object":{}}}`, now.Unix()))

	result, err := adapter.VerifyWebhook(context.Background(), signedHeader(webhookSecret, payload, now.Unix()), payload)
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if result.ShouldProcess || result.Kind != domain.WebhookKindOther {
		t.Fatalf("expected ignorable event, got %+v", result)
	}
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	adapter := newAdapter(t)
	now := time.Now().UTC()
	payload := []byte(`{"id":"evt_4","type":"charge.succeeded","data":{"object":{}}}`)

	_, err := adapter.VerifyWebhook(context.Background(), signedHeader("whsec_other", payload, now.Unix()), payload)
	if !errors.Is(err, domain.ErrSignatureVerificationFailed) {
		t.Fatalf("expected ErrSignatureVerificationFailed, got %v", err)
	}

	header := http.Header{}
	_, err = adapter.VerifyWebhook(context.Background(), header, payload)
	if !errors.Is(err, domain.ErrSignatureVerificationFailed) {
		t.Fatalf("expected ErrSignatureVerificationFailed for missing header, got %v", err)
	}
}

func TestVerifyWebhookRejectsStaleTimestamp(t *testing.T) {
	adapter := newAdapter(t)
	stale := time.Now().Add(-10 * time.Minute).Unix()
	payload := []byte(`{"id":"evt_5","type":"charge.succeeded","data":{"object":{}}}`)

	_, err := adapter.VerifyWebhook(context.Background(), signedHeader(webhookSecret, payload, stale), payload)
	if !errors.Is(err, domain.ErrSignatureVerificationFailed) {
		t.Fatalf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	caps := stripe.NewFactory().Capabilities()
	if !caps.Subscriptions || !caps.Customers || !caps.BankAccounts || !caps.Products || !caps.PaymentMethods {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
	if caps.Orders || caps.ClientTokens {
		t.Fatalf("stripe does not do orders or client tokens: %+v", caps)
	}
}
