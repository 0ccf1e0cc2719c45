// Package epaymints implements the EPayMints gateway adapter. EPayMints is a
// one-time-charge processor: no customer vault, no recurring billing, no
// stored payment methods.
package epaymints

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/steeplehq/giving/internal/gateway/adapters/internal/metadata"
	"github.com/steeplehq/giving/internal/gateway/domain"
	"github.com/steeplehq/giving/internal/metrics"
)

const (
	sandboxBase    = "https://sandbox.epaymints.com"
	productionBase = "https://api.epaymints.com"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderEPayMints
}

func (f *Factory) Capabilities() domain.Capabilities {
	return domain.Capabilities{}
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, domain.ErrInvalidConfig
	}

	base := productionBase
	if cfg.Environment != domain.EnvironmentProduction {
		base = sandboxBase
	}

	return &Adapter{
		cfg:     cfg,
		baseURL: base,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type Adapter struct {
	domain.UnsupportedOps

	cfg     domain.AdapterConfig
	baseURL string
	client  *http.Client
}

func (a *Adapter) Provider() string {
	return domain.ProviderEPayMints
}

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{}
}

func (a *Adapter) FeePricing(method domain.PaymentMethod) domain.FeePricing {
	return domain.FeePricing{Fixed: 30, Percent: 0.029}
}

func (a *Adapter) ProcessCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	payload := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"token":    req.PaymentMethodID,
		"memo":     metadata.EncodeNote(req.PersonID, req.Funds),
	}
	if req.Description != "" {
		payload["description"] = req.Description
	}

	var out epmTransaction
	if err := a.do(ctx, http.MethodPost, "/v1/transactions", payload, &out); err != nil {
		return nil, err
	}

	return &domain.ChargeResult{
		TransactionID: out.ID,
		Status:        strings.ToLower(out.Status),
		MethodDetails: out.details(),
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionResult, error) {
	return nil, domain.ErrUnsupportedOperation
}

func (a *Adapter) UpdateSubscription(ctx context.Context, req domain.SubscriptionUpdate) error {
	return domain.ErrUnsupportedOperation
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return domain.ErrUnsupportedOperation
}

func (a *Adapter) CreateWebhookEndpoint(ctx context.Context, endpointURL string) (*domain.WebhookEndpoint, error) {
	payload := map[string]any{"url": endpointURL}

	var out struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/webhooks", payload, &out); err != nil {
		return nil, err
	}
	return &domain.WebhookEndpoint{ID: out.ID, Secret: out.Secret}, nil
}

func (a *Adapter) DeleteWebhookEndpoints(ctx context.Context) error {
	var out struct {
		Webhooks []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"webhooks"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/webhooks", nil, &out); err != nil {
		return err
	}

	marker := "tenantId=" + a.cfg.TenantID.String()
	for _, webhook := range out.Webhooks {
		if !strings.Contains(webhook.URL, marker) {
			continue
		}
		if err := a.do(ctx, http.MethodDelete, "/v1/webhooks/"+webhook.ID, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// VerifyWebhook checks the hex HMAC-SHA256 of the raw body carried in
// X-EPM-Signature.
func (a *Adapter) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*domain.WebhookResult, error) {
	signature := strings.TrimSpace(headers.Get("X-EPM-Signature"))
	if signature == "" || a.cfg.WebhookSecret == "" {
		return nil, domain.ErrSignatureVerificationFailed
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return nil, domain.ErrSignatureVerificationFailed
	}

	var event struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Data      struct {
			Transaction epmTransaction `json:"transaction"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	result := &domain.WebhookResult{
		EventID:   event.ID,
		EventType: event.Type,
	}

	if event.Type != "transaction.completed" {
		result.Kind = domain.WebhookKindOther
		return result, nil
	}

	personID, funds := metadata.DecodeNote(event.Data.Transaction.Memo)
	occurredAt := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, event.CreatedAt); err == nil {
		occurredAt = ts.UTC()
	}

	result.Kind = domain.WebhookKindDonation
	result.ShouldProcess = true
	result.Donation = &domain.DonationEvent{
		TransactionID: event.Data.Transaction.ID,
		PersonID:      personID,
		Amount:        event.Data.Transaction.Amount,
		Method:        domain.MethodCard,
		MethodDetails: event.Data.Transaction.details(),
		Funds:         funds,
		OccurredAt:    occurredAt,
	}
	return result, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.PrivateKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderEPayMints, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderEPayMints, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		metrics.Giving().IncProviderRequest(domain.ProviderEPayMints, "error")
		return &domain.ProviderError{
			Provider: domain.ProviderEPayMints,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	metrics.Giving().IncProviderRequest(domain.ProviderEPayMints, "ok")

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

type epmTransaction struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Memo     string `json:"memo"`
	CardType string `json:"card_type"`
	Last4    string `json:"last4"`
}

func (t epmTransaction) details() string {
	if t.Last4 == "" {
		return "card"
	}
	return strings.ToLower(t.CardType) + " ****" + t.Last4
}
