package square_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"

	"github.com/steeplehq/giving/internal/gateway/adapters/square"
	"github.com/steeplehq/giving/internal/gateway/domain"
)

const (
	signatureKey    = "sq_signature_key"
	notificationURL = "https://api.example.org/giving/donate/webhook/square?tenantId=1"
)

func newAdapter(t *testing.T) domain.Adapter {
	t.Helper()

	node, err := snowflake.NewNode(21)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	adapter, err := square.NewFactory().NewAdapter(domain.AdapterConfig{
		TenantID:      node.Generate(),
		Provider:      domain.ProviderSquare,
		Environment:   domain.EnvironmentSandbox,
		PrivateKey:    "sq_access_token",
		WebhookSecret: signatureKey,
		Settings: map[string]any{
			"webhook_url": notificationURL,
			"location_id": "LOC1",
		},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func sign(payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	header := http.Header{}
	header.Set("X-Square-Hmacsha256-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return header
}

func TestVerifyWebhookCompletedPayment(t *testing.T) {
	adapter := newAdapter(t)

	payload := []byte(`{
		"event_id": "sq_evt_1",
		"type": "payment.updated",
		"created_at": "2026-08-30T10:00:00Z",
		"data": {"object": {"payment": {
			"id": "pay_1",
			"status": "COMPLETED",
			"note": "{\"person_id\":\"1234567890123456789\"}",
			"created_at": "2026-08-30T10:00:00Z",
			"amount_money": {"amount": 5000, "currency": "USD"},
			"card_details": {"card": {"card_brand": "VISA", "last_4": "1111"}}
		}}}
	}`)

	result, err := adapter.VerifyWebhook(context.Background(), sign(payload), payload)
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if result.Kind != domain.WebhookKindDonation || !result.ShouldProcess {
		t.Fatalf("expected processable donation, got %+v", result)
	}
	if result.Donation.TransactionID != "pay_1" || result.Donation.Amount != 5000 {
		t.Fatalf("unexpected donation %+v", result.Donation)
	}
	if result.Donation.MethodDetails != "visa ****1111" {
		t.Fatalf("unexpected method details %q", result.Donation.MethodDetails)
	}
	if result.Donation.PersonID == nil {
		t.Fatalf("expected person id from note")
	}
}

func TestVerifyWebhookIgnoresNonTerminalPayment(t *testing.T) {
	adapter := newAdapter(t)

	payload := []byte(`{
		"event_id": "sq_evt_2",
		"type": "payment.updated",
		"data": {"object": {"payment": {"id": "pay_2", "status": "APPROVED", "amount_money": {"amount": 100}}}}
	}`)

	result, err := adapter.VerifyWebhook(context.Background(), sign(payload), payload)
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if result.ShouldProcess {
		t.Fatalf("expected non-terminal payment to be ignorable, got %+v", result)
	}
}

func TestVerifyWebhookCancelledSubscription(t *testing.T) {
	adapter := newAdapter(t)

	payload := []byte(`{
		"event_id": "sq_evt_3",
		"type": "subscription.updated",
		"data": {"object": {"subscription": {"id": "sub_sq_1", "status": "CANCELED"}}}
	}`)

	result, err := adapter.VerifyWebhook(context.Background(), sign(payload), payload)
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if result.Kind != domain.WebhookKindCancellation || result.ProviderSubscriptionID != "sub_sq_1" {
		t.Fatalf("expected cancellation for sub_sq_1, got %+v", result)
	}
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{"event_id":"sq_evt_4","type":"payment.updated","data":{"object":{}}}`)

	header := http.Header{}
	header.Set("X-Square-Hmacsha256-Signature", "AAAA")
	if _, err := adapter.VerifyWebhook(context.Background(), header, payload); !errors.Is(err, domain.ErrSignatureVerificationFailed) {
		t.Fatalf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}
