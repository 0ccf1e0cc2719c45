// Package square implements the Square gateway adapter.
package square

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steeplehq/giving/internal/gateway/adapters/internal/metadata"
	"github.com/steeplehq/giving/internal/gateway/domain"
	"github.com/steeplehq/giving/internal/metrics"
)

const (
	sandboxBase    = "https://connect.squareupsandbox.com"
	productionBase = "https://connect.squareup.com"

	apiVersion = "2024-06-04"

	// Settings keys persisted on the gateway row.
	settingLocationID = "location_id"
	settingWebhookURL = "webhook_url"
)

var capabilities = domain.Capabilities{
	Subscriptions:  true,
	Customers:      true,
	PaymentMethods: true,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderSquare
}

func (f *Factory) Capabilities() domain.Capabilities {
	return capabilities
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
	return domain.ProviderSquare
}

func (a *Adapter) Capabilities() domain.Capabilities {
	return capabilities
}

func (a *Adapter) FeePricing(method domain.PaymentMethod) domain.FeePricing {
	return domain.FeePricing{Fixed: 10, Percent: 0.026}
}

func (a *Adapter) setting(key string) string {
	if a.cfg.Settings == nil {
		return ""
	}
	value, _ := a.cfg.Settings[key].(string)
	return value
}

func (a *Adapter) ProcessCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	payload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"source_id":       req.PaymentMethodID,
		"amount_money": map[string]any{
			"amount":   req.Amount,
			"currency": strings.ToUpper(req.Currency),
		},
		"note": metadata.EncodeNote(req.PersonID, req.Funds),
	}
	if req.CustomerID != "" {
		payload["customer_id"] = req.CustomerID
	}
	if locationID := a.setting(settingLocationID); locationID != "" {
		payload["location_id"] = locationID
	}

	var out struct {
		Payment squarePayment `json:"payment"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/payments", payload, &out); err != nil {
		return nil, err
	}

	return &domain.ChargeResult{
		TransactionID: out.Payment.ID,
		Status:        strings.ToLower(out.Payment.Status),
		MethodDetails: out.Payment.details(),
	}, nil
}

// CreateSubscription provisions a catalog plan variation priced at the gift
// amount, then subscribes the donor's card on file to it.
func (a *Adapter) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionResult, error) {
	locationID := a.setting(settingLocationID)
	if locationID == "" {
		return nil, domain.ErrInvalidConfig
	}

	cadence := "MONTHLY"
	switch strings.ToLower(req.Interval) {
	case "week":
		cadence = "WEEKLY"
	case "year":
		cadence = "ANNUAL"
	}

	catalogPayload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"object": map[string]any{
			"type": "SUBSCRIPTION_PLAN",
			"id":   "#plan",
			"subscription_plan_data": map[string]any{
				"name": "recurring donation",
				"subscription_plan_variations": []map[string]any{{
					"type": "SUBSCRIPTION_PLAN_VARIATION",
					"id":   "#variation",
					"subscription_plan_variation_data": map[string]any{
						"name": "recurring donation",
						"phases": []map[string]any{{
							"cadence": cadence,
							"pricing": map[string]any{
								"type": "STATIC",
								"price_money": map[string]any{
									"amount":   req.Amount,
									"currency": strings.ToUpper(req.Currency),
								},
							},
						}},
					},
				}},
			},
		},
	}

	var catalog struct {
		CatalogObject struct {
			SubscriptionPlanData struct {
				SubscriptionPlanVariations []struct {
					ID string `json:"id"`
				} `json:"subscription_plan_variations"`
			} `json:"subscription_plan_data"`
		} `json:"catalog_object"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/catalog/object", catalogPayload, &catalog); err != nil {
		return nil, err
	}
	variations := catalog.CatalogObject.SubscriptionPlanData.SubscriptionPlanVariations
	if len(variations) == 0 {
		return nil, domain.ErrInvalidPayload
	}

	subPayload := map[string]any{
		"idempotency_key":   uuid.NewString(),
		"location_id":       locationID,
		"plan_variation_id": variations[0].ID,
		"customer_id":       req.CustomerID,
		"card_id":           req.PaymentMethodID,
	}

	var out struct {
		Subscription struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"subscription"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/subscriptions", subPayload, &out); err != nil {
		return nil, err
	}

	return &domain.SubscriptionResult{
		ProviderSubscriptionID: out.Subscription.ID,
		Status:                 strings.ToLower(out.Subscription.Status),
	}, nil
}

// UpdateSubscription only swaps the card on file. Square prices live on the
// catalog plan; an amount change cancels and recreates upstream of here.
func (a *Adapter) UpdateSubscription(ctx context.Context, req domain.SubscriptionUpdate) error {
	if req.PaymentMethodID == "" {
		return nil
	}
	payload := map[string]any{
		"subscription": map[string]any{
			"card_id": req.PaymentMethodID,
		},
	}
	return a.do(ctx, http.MethodPut, "/v2/subscriptions/"+req.ProviderSubscriptionID, payload, nil)
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return a.do(ctx, http.MethodPost, "/v2/subscriptions/"+providerSubscriptionID+"/cancel", struct{}{}, nil)
}

func (a *Adapter) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	payload := map[string]any{
		"email_address": email,
		"given_name":    name,
	}

	var out struct {
		Customer struct {
			ID string `json:"id"`
		} `json:"customer"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/customers", payload, &out); err != nil {
		return "", err
	}
	return out.Customer.ID, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	payload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"source_id":       paymentMethodID,
		"card": map[string]any{
			"customer_id": customerID,
		},
	}
	return a.do(ctx, http.MethodPost, "/v2/cards", payload, nil)
}

func (a *Adapter) DetachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_ = customerID
	return a.do(ctx, http.MethodPost, "/v2/cards/"+paymentMethodID+"/disable", struct{}{}, nil)
}

func (a *Adapter) GetCustomerPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethodInfo, error) {
	var out struct {
		Cards []struct {
			ID        string `json:"id"`
			CardBrand string `json:"card_brand"`
			Last4     string `json:"last_4"`
			ExpMonth  int    `json:"exp_month"`
			ExpYear   int    `json:"exp_year"`
		} `json:"cards"`
	}
	if err := a.do(ctx, http.MethodGet, "/v2/cards?customer_id="+url.QueryEscape(customerID), nil, &out); err != nil {
		return nil, err
	}

	methods := make([]domain.PaymentMethodInfo, 0, len(out.Cards))
	for _, card := range out.Cards {
		methods = append(methods, domain.PaymentMethodInfo{
			ID:       card.ID,
			Type:     string(domain.MethodCard),
			Brand:    strings.ToLower(card.CardBrand),
			Last4:    card.Last4,
			ExpMonth: card.ExpMonth,
			ExpYear:  card.ExpYear,
		})
	}
	return methods, nil
}

func (a *Adapter) GetCustomerSubscriptions(ctx context.Context, customerID string) ([]domain.CustomerSubscription, error) {
	payload := map[string]any{
		"query": map[string]any{
			"filter": map[string]any{
				"customer_ids": []string{customerID},
			},
		},
	}

	var out struct {
		Subscriptions []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"subscriptions"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/subscriptions/search", payload, &out); err != nil {
		return nil, err
	}

	subs := make([]domain.CustomerSubscription, 0, len(out.Subscriptions))
	for _, sub := range out.Subscriptions {
		subs = append(subs, domain.CustomerSubscription{
			ProviderSubscriptionID: sub.ID,
			Status:                 strings.ToLower(sub.Status),
		})
	}
	return subs, nil
}

func (a *Adapter) CreateWebhookEndpoint(ctx context.Context, endpointURL string) (*domain.WebhookEndpoint, error) {
	payload := map[string]any{
		"idempotency_key": uuid.NewString(),
		"subscription": map[string]any{
			"name":             "giving-" + a.cfg.TenantID.String(),
			"notification_url": endpointURL,
			"event_types":      []string{"payment.updated", "subscription.updated"},
		},
	}

	var out struct {
		Subscription struct {
			ID           string `json:"id"`
			SignatureKey string `json:"signature_key"`
		} `json:"subscription"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/webhooks/subscriptions", payload, &out); err != nil {
		return nil, err
	}
	return &domain.WebhookEndpoint{ID: out.Subscription.ID, Secret: out.Subscription.SignatureKey}, nil
}

func (a *Adapter) DeleteWebhookEndpoints(ctx context.Context) error {
	var out struct {
		Subscriptions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"subscriptions"`
	}
	if err := a.do(ctx, http.MethodGet, "/v2/webhooks/subscriptions", nil, &out); err != nil {
		return err
	}

	name := "giving-" + a.cfg.TenantID.String()
	for _, sub := range out.Subscriptions {
		if sub.Name != name {
			continue
		}
		if err := a.do(ctx, http.MethodDelete, "/v2/webhooks/subscriptions/"+sub.ID, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// VerifyWebhook checks the HMAC-SHA256 signature Square computes over the
// notification URL concatenated with the raw body.
func (a *Adapter) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*domain.WebhookResult, error) {
	signature := strings.TrimSpace(headers.Get("X-Square-Hmacsha256-Signature"))
	notificationURL := a.setting(settingWebhookURL)
	if signature == "" || notificationURL == "" || a.cfg.WebhookSecret == "" {
		return nil, domain.ErrSignatureVerificationFailed
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	_, _ = mac.Write([]byte(notificationURL))
	_, _ = mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, domain.ErrSignatureVerificationFailed
	}

	var event squareEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	result := &domain.WebhookResult{
		EventID:   event.EventID,
		EventType: event.Type,
	}

	switch event.Type {
	case "payment.updated":
		var payment squarePayment
		if err := json.Unmarshal(event.Data.Object["payment"], &payment); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		// Square fires payment.updated for every status transition; only the
		// terminal COMPLETED one records a donation.
		if payment.Status != "COMPLETED" {
			result.Kind = domain.WebhookKindOther
			return result, nil
		}
		personID, funds := metadata.DecodeNote(payment.Note)
		result.Kind = domain.WebhookKindDonation
		result.ShouldProcess = true
		result.ProviderSubscriptionID = payment.SubscriptionID
		result.Donation = &domain.DonationEvent{
			TransactionID: payment.ID,
			PersonID:      personID,
			Amount:        payment.AmountMoney.Amount,
			Method:        domain.MethodCard,
			MethodDetails: payment.details(),
			Funds:         funds,
			OccurredAt:    parseTime(payment.CreatedAt, event.CreatedAt),
		}
	case "subscription.updated", "subscription.canceled":
		var sub struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(event.Data.Object["subscription"], &sub); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		if sub.Status != "CANCELED" {
			result.Kind = domain.WebhookKindOther
			return result, nil
		}
		result.Kind = domain.WebhookKindCancellation
		result.ShouldProcess = true
		result.ProviderSubscriptionID = sub.ID
	default:
		result.Kind = domain.WebhookKindOther
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
	req.Header.Set("Square-Version", apiVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderSquare, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderSquare, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		metrics.Giving().IncProviderRequest(domain.ProviderSquare, "error")
		return &domain.ProviderError{
			Provider: domain.ProviderSquare,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	metrics.Giving().IncProviderRequest(domain.ProviderSquare, "ok")

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

type squareEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Object map[string]json.RawMessage `json:"object"`
	} `json:"data"`
}

type squarePayment struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Note           string `json:"note"`
	SubscriptionID string `json:"subscription_id"`
	CreatedAt      string `json:"created_at"`
	AmountMoney    struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"amount_money"`
	CardDetails struct {
		Card struct {
			CardBrand string `json:"card_brand"`
			Last4     string `json:"last_4"`
		} `json:"card"`
	} `json:"card_details"`
}

func (p squarePayment) details() string {
	if p.CardDetails.Card.Last4 == "" {
		return "card"
	}
	return strings.ToLower(p.CardDetails.Card.CardBrand) + " ****" + p.CardDetails.Card.Last4
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
