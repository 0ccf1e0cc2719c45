// Package stripe implements the Stripe gateway adapter.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/steeplehq/giving/internal/gateway/adapters/internal/metadata"
	"github.com/steeplehq/giving/internal/gateway/domain"
	"github.com/steeplehq/giving/internal/metrics"
)

const (
	apiBase = "https://api.stripe.com"

	// Stripe recommends rejecting signed payloads older than five minutes.
	signatureTolerance = 5 * time.Minute
)

var capabilities = domain.Capabilities{
	Subscriptions:  true,
	BankAccounts:   true,
	Products:       true,
	Customers:      true,
	PaymentMethods: true,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderStripe
}

func (f *Factory) Capabilities() domain.Capabilities {
	return capabilities
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, domain.ErrInvalidConfig
	}

	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type Adapter struct {
	domain.UnsupportedOps

	cfg    domain.AdapterConfig
	client *http.Client
}

func (a *Adapter) Provider() string {
	return domain.ProviderStripe
}

func (a *Adapter) Capabilities() domain.Capabilities {
	return capabilities
}

func (a *Adapter) FeePricing(method domain.PaymentMethod) domain.FeePricing {
	if method == domain.MethodBank {
		// ACH: 0.8% capped at $5.00.
		return domain.FeePricing{Fixed: 0, Percent: 0.008, MaxFee: 500}
	}
	return domain.FeePricing{Fixed: 30, Percent: 0.029}
}

func (a *Adapter) ProcessCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	}
	if req.PaymentMethodID != "" {
		form.Set("source", req.PaymentMethodID)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	metadata.EncodeForm(form, req.PersonID, req.Funds)

	var charge stripeCharge
	if err := a.do(ctx, http.MethodPost, "/v1/charges", form, &charge); err != nil {
		return nil, err
	}

	return &domain.ChargeResult{
		TransactionID: charge.ID,
		Status:        charge.Status,
		MethodDetails: cardDetails(charge.PaymentMethodDetails),
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionResult, error) {
	productID := a.cfg.ProductID
	if productID == "" {
		return nil, domain.ErrInvalidConfig
	}

	form := url.Values{}
	form.Set("customer", req.CustomerID)
	if req.PaymentMethodID != "" {
		form.Set("default_payment_method", req.PaymentMethodID)
	}
	form.Set("items[0][price_data][product]", productID)
	form.Set("items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("items[0][price_data][recurring][interval]", req.Interval)
	if req.IntervalCount > 1 {
		form.Set("items[0][price_data][recurring][interval_count]", strconv.Itoa(req.IntervalCount))
	}
	metadata.EncodeForm(form, req.PersonID, req.Funds)

	var sub stripeSubscription
	if err := a.do(ctx, http.MethodPost, "/v1/subscriptions", form, &sub); err != nil {
		return nil, err
	}

	return &domain.SubscriptionResult{
		ProviderSubscriptionID: sub.ID,
		Status:                 sub.Status,
	}, nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, req domain.SubscriptionUpdate) error {
	var sub stripeSubscription
	if err := a.do(ctx, http.MethodGet, "/v1/subscriptions/"+req.ProviderSubscriptionID, nil, &sub); err != nil {
		return err
	}
	if len(sub.Items.Data) == 0 {
		return domain.ErrInvalidEvent
	}

	form := url.Values{}
	if req.PaymentMethodID != "" {
		form.Set("default_payment_method", req.PaymentMethodID)
	}
	if req.Amount > 0 {
		interval := req.Interval
		if interval == "" {
			interval = sub.Items.Data[0].Price.Recurring.Interval
		}
		form.Set("items[0][id]", sub.Items.Data[0].ID)
		form.Set("items[0][price_data][product]", a.cfg.ProductID)
		form.Set("items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
		form.Set("items[0][price_data][currency]", sub.Items.Data[0].Price.Currency)
		form.Set("items[0][price_data][recurring][interval]", interval)
		if req.IntervalCount > 1 {
			form.Set("items[0][price_data][recurring][interval_count]", strconv.Itoa(req.IntervalCount))
		}
	}
	if len(form) == 0 {
		return nil
	}

	return a.do(ctx, http.MethodPost, "/v1/subscriptions/"+req.ProviderSubscriptionID, form, nil)
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return a.do(ctx, http.MethodDelete, "/v1/subscriptions/"+providerSubscriptionID, nil, nil)
}

func (a *Adapter) CreateWebhookEndpoint(ctx context.Context, endpointURL string) (*domain.WebhookEndpoint, error) {
	form := url.Values{}
	form.Set("url", endpointURL)
	form.Add("enabled_events[]", "charge.succeeded")
	form.Add("enabled_events[]", "invoice.paid")
	form.Add("enabled_events[]", "customer.subscription.deleted")

	var endpoint stripeWebhookEndpoint
	if err := a.do(ctx, http.MethodPost, "/v1/webhook_endpoints", form, &endpoint); err != nil {
		return nil, err
	}
	return &domain.WebhookEndpoint{ID: endpoint.ID, Secret: endpoint.Secret}, nil
}

func (a *Adapter) DeleteWebhookEndpoints(ctx context.Context) error {
	var list struct {
		Data []stripeWebhookEndpoint `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/webhook_endpoints?limit=100", nil, &list); err != nil {
		return err
	}

	marker := "tenantId=" + a.cfg.TenantID.String()
	for _, endpoint := range list.Data {
		if !strings.Contains(endpoint.URL, marker) {
			continue
		}
		if err := a.do(ctx, http.MethodDelete, "/v1/webhook_endpoints/"+endpoint.ID, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*domain.WebhookResult, error) {
	if err := a.verifySignature(headers, body); err != nil {
		return nil, err
	}

	var event stripeEvent
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

	switch event.Type {
	case "charge.succeeded":
		var charge stripeCharge
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		personID, funds := metadata.Decode(charge.Metadata)
		result.Kind = domain.WebhookKindDonation
		result.ShouldProcess = true
		result.Donation = &domain.DonationEvent{
			TransactionID: charge.ID,
			PersonID:      personID,
			Amount:        charge.Amount,
			Method:        chargeMethod(charge.PaymentMethodDetails),
			MethodDetails: cardDetails(charge.PaymentMethodDetails),
			Funds:         funds,
			OccurredAt:    unixTime(charge.Created, event.Created),
		}
	case "invoice.paid":
		var invoice stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		// Recurring gift: fund allocation comes from the local subscription
		// mirror keyed by the subscription id.
		result.Kind = domain.WebhookKindDonation
		result.ShouldProcess = true
		result.ProviderSubscriptionID = invoice.Subscription
		transactionID := invoice.Charge
		if transactionID == "" {
			transactionID = invoice.ID
		}
		result.Donation = &domain.DonationEvent{
			TransactionID: transactionID,
			Amount:        invoice.AmountPaid,
			Method:        domain.MethodCard,
			MethodDetails: "recurring",
			OccurredAt:    unixTime(invoice.Created, event.Created),
		}
	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		result.Kind = domain.WebhookKindCancellation
		result.ShouldProcess = true
		result.ProviderSubscriptionID = sub.ID
	default:
		result.Kind = domain.WebhookKindOther
		result.ShouldProcess = false
	}

	return result, nil
}

func (a *Adapter) verifySignature(headers http.Header, body []byte) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrSignatureVerificationFailed
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrSignatureVerificationFailed
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrSignatureVerificationFailed
	}
	age := time.Since(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return domain.ErrSignatureVerificationFailed
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(body))
	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrSignatureVerificationFailed
}

func (a *Adapter) CreateProduct(ctx context.Context, name string) (string, error) {
	form := url.Values{}
	form.Set("name", name)

	var product struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/products", form, &product); err != nil {
		return "", err
	}
	return product.ID, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("name", name)

	var customer struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	form := url.Values{}
	form.Set("customer", customerID)
	return a.do(ctx, http.MethodPost, "/v1/payment_methods/"+paymentMethodID+"/attach", form, nil)
}

func (a *Adapter) DetachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_ = customerID
	return a.do(ctx, http.MethodPost, "/v1/payment_methods/"+paymentMethodID+"/detach", nil, nil)
}

func (a *Adapter) CreateBankAccount(ctx context.Context, customerID, token string) (string, error) {
	form := url.Values{}
	form.Set("source", token)

	var source struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/customers/"+customerID+"/sources", form, &source); err != nil {
		return "", err
	}
	return source.ID, nil
}

func (a *Adapter) UpdateCard(ctx context.Context, customerID, paymentMethodID string, upd domain.CardUpdate) error {
	_ = customerID
	form := url.Values{}
	if upd.ExpMonth > 0 {
		form.Set("card[exp_month]", strconv.Itoa(upd.ExpMonth))
	}
	if upd.ExpYear > 0 {
		form.Set("card[exp_year]", strconv.Itoa(upd.ExpYear))
	}
	if len(form) == 0 {
		return nil
	}
	return a.do(ctx, http.MethodPost, "/v1/payment_methods/"+paymentMethodID, form, nil)
}

func (a *Adapter) UpdateBank(ctx context.Context, customerID, bankAccountID string, upd domain.BankUpdate) error {
	form := url.Values{}
	if upd.AccountHolderName != "" {
		form.Set("account_holder_name", upd.AccountHolderName)
	}
	if upd.AccountHolderType != "" {
		form.Set("account_holder_type", upd.AccountHolderType)
	}
	if len(form) == 0 {
		return nil
	}
	return a.do(ctx, http.MethodPost, "/v1/customers/"+customerID+"/sources/"+bankAccountID, form, nil)
}

func (a *Adapter) VerifyBank(ctx context.Context, customerID, bankAccountID string, amounts []int64) error {
	form := url.Values{}
	for _, amount := range amounts {
		form.Add("amounts[]", strconv.FormatInt(amount, 10))
	}
	return a.do(ctx, http.MethodPost, "/v1/customers/"+customerID+"/sources/"+bankAccountID+"/verify", form, nil)
}

func (a *Adapter) GetCustomerPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethodInfo, error) {
	var cards struct {
		Data []struct {
			ID   string `json:"id"`
			Card struct {
				Brand    string `json:"brand"`
				Last4    string `json:"last4"`
				ExpMonth int    `json:"exp_month"`
				ExpYear  int    `json:"exp_year"`
			} `json:"card"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/payment_methods?type=card&customer="+url.QueryEscape(customerID), nil, &cards); err != nil {
		return nil, err
	}

	var banks struct {
		Data []struct {
			ID       string `json:"id"`
			BankName string `json:"bank_name"`
			Last4    string `json:"last4"`
			Status   string `json:"status"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/customers/"+customerID+"/sources?object=bank_account", nil, &banks); err != nil {
		return nil, err
	}

	out := make([]domain.PaymentMethodInfo, 0, len(cards.Data)+len(banks.Data))
	for _, card := range cards.Data {
		out = append(out, domain.PaymentMethodInfo{
			ID:       card.ID,
			Type:     string(domain.MethodCard),
			Brand:    card.Card.Brand,
			Last4:    card.Card.Last4,
			ExpMonth: card.Card.ExpMonth,
			ExpYear:  card.Card.ExpYear,
		})
	}
	for _, bank := range banks.Data {
		verified := bank.Status == "verified"
		out = append(out, domain.PaymentMethodInfo{
			ID:       bank.ID,
			Type:     string(domain.MethodBank),
			Brand:    bank.BankName,
			Last4:    bank.Last4,
			Verified: &verified,
		})
	}
	return out, nil
}

func (a *Adapter) GetCustomerSubscriptions(ctx context.Context, customerID string) ([]domain.CustomerSubscription, error) {
	var list struct {
		Data []stripeSubscription `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/subscriptions?customer="+url.QueryEscape(customerID), nil, &list); err != nil {
		return nil, err
	}

	out := make([]domain.CustomerSubscription, 0, len(list.Data))
	for _, sub := range list.Data {
		entry := domain.CustomerSubscription{
			ProviderSubscriptionID: sub.ID,
			Status:                 sub.Status,
		}
		if len(sub.Items.Data) > 0 {
			entry.Amount = sub.Items.Data[0].Price.UnitAmount
			entry.Currency = strings.ToUpper(sub.Items.Data[0].Price.Currency)
			entry.Interval = sub.Items.Data[0].Price.Recurring.Interval
		}
		out = append(out, entry)
	}
	return out, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.PrivateKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderStripe, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.Giving().IncProviderRequest(domain.ProviderStripe, "error")
		return fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		metrics.Giving().IncProviderRequest(domain.ProviderStripe, "error")
		return &domain.ProviderError{
			Provider: domain.ProviderStripe,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	metrics.Giving().IncProviderRequest(domain.ProviderStripe, "ok")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCharge struct {
	ID                   string               `json:"id"`
	Amount               int64                `json:"amount"`
	Currency             string               `json:"currency"`
	Status               string               `json:"status"`
	Created              int64                `json:"created"`
	Metadata             map[string]string    `json:"metadata"`
	PaymentMethodDetails paymentMethodDetails `json:"payment_method_details"`
}

type paymentMethodDetails struct {
	Type string `json:"type"`
	Card struct {
		Brand string `json:"brand"`
		Last4 string `json:"last4"`
	} `json:"card"`
	ACHDebit struct {
		BankName string `json:"bank_name"`
		Last4    string `json:"last4"`
	} `json:"ach_debit"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	AmountPaid   int64  `json:"amount_paid"`
	Charge       string `json:"charge"`
	Subscription string `json:"subscription"`
	Created      int64  `json:"created"`
}

type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Items  struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				UnitAmount int64  `json:"unit_amount"`
				Currency   string `json:"currency"`
				Recurring  struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeWebhookEndpoint struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func chargeMethod(details paymentMethodDetails) domain.PaymentMethod {
	if details.Type == "ach_debit" || details.Type == "us_bank_account" {
		return domain.MethodBank
	}
	return domain.MethodCard
}

func cardDetails(details paymentMethodDetails) string {
	if method := chargeMethod(details); method == domain.MethodBank {
		if details.ACHDebit.Last4 != "" {
			return details.ACHDebit.BankName + " ****" + details.ACHDebit.Last4
		}
		return "bank"
	}
	if details.Card.Last4 != "" {
		return details.Card.Brand + " ****" + details.Card.Last4
	}
	return "card"
}

func unixTime(primary, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
