// Package paypal implements the PayPal gateway adapter. PayPal signs
// callbacks with certificates rather than a shared secret, so webhook
// verification goes back to the provider's verification endpoint.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steeplehq/giving/internal/gateway/adapters/internal/metadata"
	"github.com/steeplehq/giving/internal/gateway/domain"
	"github.com/steeplehq/giving/internal/metrics"
)

const (
	sandboxBase    = "https://api-m.sandbox.paypal.com"
	productionBase = "https://api-m.paypal.com"
)

var capabilities = domain.Capabilities{
	Orders:        true,
	Subscriptions: true,
	ClientTokens:  true,
	Products:      true,
}

var donationEvents = map[string]bool{
	"PAYMENT.CAPTURE.COMPLETED": true,
	"PAYMENT.SALE.COMPLETED":    true,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderPayPal
}

func (f *Factory) Capabilities() domain.Capabilities {
	return capabilities
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
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

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func (a *Adapter) Provider() string {
	return domain.ProviderPayPal
}

func (a *Adapter) Capabilities() domain.Capabilities {
	return capabilities
}

func (a *Adapter) FeePricing(method domain.PaymentMethod) domain.FeePricing {
	return domain.FeePricing{Fixed: 49, Percent: 0.0349}
}

// ProcessCharge is the capture of a previously approved order. The order id
// arrives as the payment method reference.
func (a *Adapter) ProcessCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if req.PaymentMethodID == "" {
		return nil, domain.ErrInvalidRequest
	}
	return a.CaptureOrder(ctx, req.PaymentMethodID)
}

func (a *Adapter) CreateOrder(ctx context.Context, amount int64, currency string) (string, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": moneyValue(amount, currency),
		}},
	}

	var order struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return "", err
	}
	return order.ID, nil
}

func (a *Adapter) CaptureOrder(ctx context.Context, orderID string) (*domain.ChargeResult, error) {
	var captured struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, &captured); err != nil {
		return nil, err
	}

	result := &domain.ChargeResult{
		TransactionID: orderID,
		Status:        strings.ToLower(captured.Status),
		MethodDetails: "paypal",
	}
	for _, unit := range captured.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			result.TransactionID = capture.ID
			result.Status = strings.ToLower(capture.Status)
		}
	}
	return result, nil
}

func (a *Adapter) GenerateClientToken(ctx context.Context) (string, error) {
	var token struct {
		ClientToken string `json:"client_token"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/identity/generate-token", struct{}{}, &token); err != nil {
		return "", err
	}
	return token.ClientToken, nil
}

func (a *Adapter) CreateProduct(ctx context.Context, name string) (string, error) {
	payload := map[string]any{
		"name": name,
		"type": "SERVICE",
	}

	var product struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/catalogs/products", payload, &product); err != nil {
		return "", err
	}
	return product.ID, nil
}

// CreateSubscription provisions a single-use billing plan under the tenant's
// catalog product and subscribes the donor to it. PayPal plans are immutable
// on price, so updates revise the subscription instead.
func (a *Adapter) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionResult, error) {
	if a.cfg.ProductID == "" {
		return nil, domain.ErrInvalidConfig
	}

	interval := strings.ToUpper(req.Interval)
	if interval == "" {
		interval = "MONTH"
	}
	count := req.IntervalCount
	if count <= 0 {
		count = 1
	}

	planPayload := map[string]any{
		"product_id": a.cfg.ProductID,
		"name":       "recurring donation",
		"billing_cycles": []map[string]any{{
			"frequency": map[string]any{
				"interval_unit":  interval,
				"interval_count": count,
			},
			"tenure_type":  "REGULAR",
			"sequence":     1,
			"total_cycles": 0,
			"pricing_scheme": map[string]any{
				"fixed_price": moneyValue(req.Amount, req.Currency),
			},
		}},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding": true,
		},
	}

	var plan struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/billing/plans", planPayload, &plan); err != nil {
		return nil, err
	}

	subPayload := map[string]any{
		"plan_id":   plan.ID,
		"custom_id": metadata.EncodeNote(req.PersonID, req.Funds),
	}

	var sub struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/billing/subscriptions", subPayload, &sub); err != nil {
		return nil, err
	}

	return &domain.SubscriptionResult{
		ProviderSubscriptionID: sub.ID,
		Status:                 strings.ToLower(sub.Status),
	}, nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, req domain.SubscriptionUpdate) error {
	if req.Amount <= 0 {
		return nil
	}
	payload := map[string]any{
		"plan": map[string]any{
			"billing_cycles": []map[string]any{{
				"sequence": 1,
				"pricing_scheme": map[string]any{
					"fixed_price": moneyValue(req.Amount, "USD"),
				},
			}},
		},
	}
	return a.do(ctx, http.MethodPost, "/v1/billing/subscriptions/"+req.ProviderSubscriptionID+"/revise", payload, nil)
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	payload := map[string]any{"reason": "cancelled by donor"}
	return a.do(ctx, http.MethodPost, "/v1/billing/subscriptions/"+providerSubscriptionID+"/cancel", payload, nil)
}

func (a *Adapter) CreateWebhookEndpoint(ctx context.Context, endpointURL string) (*domain.WebhookEndpoint, error) {
	payload := map[string]any{
		"url": endpointURL,
		"event_types": []map[string]string{
			{"name": "PAYMENT.CAPTURE.COMPLETED"},
			{"name": "PAYMENT.SALE.COMPLETED"},
			{"name": "BILLING.SUBSCRIPTION.CANCELLED"},
		},
	}

	var webhook struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/notifications/webhooks", payload, &webhook); err != nil {
		return nil, err
	}
	// PayPal has no shared signing secret. The webhook id doubles as the
	// verification handle passed back on every callback check.
	return &domain.WebhookEndpoint{ID: webhook.ID, Secret: webhook.ID}, nil
}

func (a *Adapter) DeleteWebhookEndpoints(ctx context.Context) error {
	var list struct {
		Webhooks []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"webhooks"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/notifications/webhooks", nil, &list); err != nil {
		return err
	}

	marker := "tenantId=" + a.cfg.TenantID.String()
	for _, webhook := range list.Webhooks {
		if !strings.Contains(webhook.URL, marker) {
			continue
		}
		if err := a.do(ctx, http.MethodDelete, "/v1/notifications/webhooks/"+webhook.ID, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*domain.WebhookResult, error) {
	if err := a.verifySignature(ctx, headers, body); err != nil {
		return nil, err
	}

	var event paypalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	result := &domain.WebhookResult{
		EventID:   event.ID,
		EventType: event.EventType,
	}

	switch {
	case donationEvents[event.EventType]:
		var resource paypalCapture
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		personID, funds := metadata.DecodeNote(resource.CustomID)
		result.Kind = domain.WebhookKindDonation
		result.ShouldProcess = true
		if resource.BillingAgreementID != "" {
			result.ProviderSubscriptionID = resource.BillingAgreementID
		}
		result.Donation = &domain.DonationEvent{
			TransactionID: resource.ID,
			PersonID:      personID,
			Amount:        resource.Amount.Cents(),
			Method:        domain.MethodCard,
			MethodDetails: "paypal",
			Funds:         funds,
			OccurredAt:    parseTime(resource.CreateTime, event.CreateTime),
		}
	case event.EventType == "BILLING.SUBSCRIPTION.CANCELLED":
		var resource struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		result.Kind = domain.WebhookKindCancellation
		result.ShouldProcess = true
		result.ProviderSubscriptionID = resource.ID
	default:
		result.Kind = domain.WebhookKindOther
		result.ShouldProcess = false
	}

	return result, nil
}

func (a *Adapter) verifySignature(ctx context.Context, headers http.Header, body []byte) error {
	webhookID := strings.TrimSpace(a.cfg.WebhookSecret)
	if webhookID == "" {
		return domain.ErrSignatureVerificationFailed
	}

	payload := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &verification); err != nil {
		return err
	}
	if verification.VerificationStatus != "SUCCESS" {
		return domain.ErrSignatureVerificationFailed
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := a.token(ctx)
	if err != nil {
		return err
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("PayPal-Request-Id", uuid.NewString())
	}

	return a.send(req, out)
}

// token returns a cached OAuth access token, refreshing via the
// client-credentials grant when expired.
func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.cfg.PublicKey, a.cfg.PrivateKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := a.send(req, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", domain.ErrInvalidCredentials
	}

	a.accessToken = token.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	return a.accessToken, nil
}

func (a *Adapter) send(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderPayPal, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderPayPal, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		metrics.Giving().IncProviderRequest(domain.ProviderPayPal, "error")
		return &domain.ProviderError{
			Provider: domain.ProviderPayPal,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	metrics.Giving().IncProviderRequest(domain.ProviderPayPal, "ok")

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

type paypalEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type paypalCapture struct {
	ID                 string      `json:"id"`
	Status             string      `json:"status"`
	CustomID           string      `json:"custom_id"`
	BillingAgreementID string      `json:"billing_agreement_id"`
	CreateTime         string      `json:"create_time"`
	Amount             paypalMoney `json:"amount"`
}

type paypalMoney struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// Cents converts PayPal's decimal string amount to cents.
func (m paypalMoney) Cents() int64 {
	value := strings.TrimSpace(m.Value)
	if value == "" {
		return 0
	}
	whole, frac, _ := strings.Cut(value, ".")
	var cents int64
	fmt.Sscanf(whole, "%d", &cents)
	cents *= 100
	if len(frac) > 0 {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		var sub int64
		fmt.Sscanf(frac, "%d", &sub)
		if cents < 0 {
			cents -= sub
		} else {
			cents += sub
		}
	}
	return cents
}

func moneyValue(amount int64, currency string) map[string]string {
	if currency == "" {
		currency = "USD"
	}
	return map[string]string{
		"currency_code": strings.ToUpper(currency),
		"value":         fmt.Sprintf("%d.%02d", amount/100, amount%100),
	}
}

func parseTime(values ...string) time.Time {
	for _, value := range values {
		if value == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
