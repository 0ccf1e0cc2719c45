package domain

import (
	"context"
	"net/http"
)

// Adapter is the fixed operation surface every processor implements. One
// adapter instance is scoped to a single tenant's gateway and holds its
// decrypted credentials for the duration of a call.
type Adapter interface {
	Provider() string
	Capabilities() Capabilities

	// FeePricing returns the provider's default pricing for a method.
	// Tenant overrides are applied by the facade, not here.
	FeePricing(method PaymentMethod) FeePricing

	ProcessCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error)
	UpdateSubscription(ctx context.Context, req SubscriptionUpdate) error
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error

	// CreateWebhookEndpoint registers url with the provider and returns the
	// endpoint id plus the signing secret to persist (encrypted).
	CreateWebhookEndpoint(ctx context.Context, url string) (*WebhookEndpoint, error)
	// DeleteWebhookEndpoints removes every endpoint previously registered for
	// this tenant's credentials.
	DeleteWebhookEndpoints(ctx context.Context) error

	// VerifyWebhook checks the provider's signature scheme over the raw body
	// and normalizes the callback. Invalid signatures fail with
	// ErrSignatureVerificationFailed.
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookResult, error)

	OptionalOps
}

// OptionalOps are capability-gated operations. Callers check Capabilities
// before dispatch; adapters without a capability return
// ErrUnsupportedOperation (via UnsupportedOps).
type OptionalOps interface {
	CreateProduct(ctx context.Context, name string) (string, error)
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	GenerateClientToken(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, amount int64, currency string) (string, error)
	CaptureOrder(ctx context.Context, orderID string) (*ChargeResult, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateBankAccount(ctx context.Context, customerID, token string) (string, error)
	UpdateCard(ctx context.Context, customerID, paymentMethodID string, upd CardUpdate) error
	UpdateBank(ctx context.Context, customerID, bankAccountID string, upd BankUpdate) error
	VerifyBank(ctx context.Context, customerID, bankAccountID string, amounts []int64) error
	GetCustomerPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethodInfo, error)
	GetCustomerSubscriptions(ctx context.Context, customerID string) ([]CustomerSubscription, error)
}

// Factory builds adapters for one provider from per-tenant config.
type Factory interface {
	Provider() string
	Capabilities() Capabilities
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// UnsupportedOps implements OptionalOps by failing every call. Adapters embed
// it and override the operations they support.
type UnsupportedOps struct{}

func (UnsupportedOps) CreateProduct(context.Context, string) (string, error) {
	return "", ErrUnsupportedOperation
}

func (UnsupportedOps) CreateCustomer(context.Context, string, string) (string, error) {
	return "", ErrUnsupportedOperation
}

func (UnsupportedOps) GenerateClientToken(context.Context) (string, error) {
	return "", ErrUnsupportedOperation
}

func (UnsupportedOps) CreateOrder(context.Context, int64, string) (string, error) {
	return "", ErrUnsupportedOperation
}

func (UnsupportedOps) CaptureOrder(context.Context, string) (*ChargeResult, error) {
	return nil, ErrUnsupportedOperation
}

func (UnsupportedOps) AttachPaymentMethod(context.Context, string, string) error {
	return ErrUnsupportedOperation
}

func (UnsupportedOps) DetachPaymentMethod(context.Context, string, string) error {
	return ErrUnsupportedOperation
}

func (UnsupportedOps) CreateBankAccount(context.Context, string, string) (string, error) {
	return "", ErrUnsupportedOperation
}

func (UnsupportedOps) UpdateCard(context.Context, string, string, CardUpdate) error {
	return ErrUnsupportedOperation
}

func (UnsupportedOps) UpdateBank(context.Context, string, string, BankUpdate) error {
	return ErrUnsupportedOperation
}

func (UnsupportedOps) VerifyBank(context.Context, string, string, []int64) error {
	return ErrUnsupportedOperation
}

func (UnsupportedOps) GetCustomerPaymentMethods(context.Context, string) ([]PaymentMethodInfo, error) {
	return nil, ErrUnsupportedOperation
}

func (UnsupportedOps) GetCustomerSubscriptions(context.Context, string) ([]CustomerSubscription, error) {
	return nil, ErrUnsupportedOperation
}
