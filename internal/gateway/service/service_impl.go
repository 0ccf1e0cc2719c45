// Package service implements the gateway facade: every caller-facing payment
// operation resolves a tenant's gateway row, builds a live adapter from the
// decrypted credentials, and dispatches.
package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/internal/config"
	"github.com/steeplehq/giving/internal/gateway/adapters"
	"github.com/steeplehq/giving/internal/gateway/domain"
	"github.com/steeplehq/giving/internal/settings"
	subscriptiondomain "github.com/steeplehq/giving/internal/subscription/domain"
	"github.com/steeplehq/giving/internal/vault"
)

type Service struct {
	db       *gorm.DB
	repo     domain.Repository
	registry *adapters.Registry
	vault    *vault.Vault
	settings *settings.Service
	subs     subscriptiondomain.Repository
	node     *snowflake.Node
	cfg      config.Config
	log      *zap.Logger
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Registry *adapters.Registry
	Vault    *vault.Vault
	Settings *settings.Service
	Subs     subscriptiondomain.Repository
	Node     *snowflake.Node
	Config   config.Config
	Logger   *zap.Logger
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		repo:     p.Repo,
		registry: p.Registry,
		vault:    p.Vault,
		settings: p.Settings,
		subs:     p.Subs,
		node:     p.Node,
		cfg:      p.Config,
		log:      p.Logger.Named("gateway"),
	}
}

// ResolveGateway finds the gateway an operation targets: by id when given,
// by provider otherwise, and falling back to the tenant's sole gateway when
// neither is specified.
func (s *Service) ResolveGateway(ctx context.Context, tenantID, gatewayID snowflake.ID, provider string) (*domain.Gateway, error) {
	if gatewayID != 0 {
		gateway, err := s.repo.FindGateway(ctx, s.db, tenantID, gatewayID)
		if err != nil {
			return nil, err
		}
		if gateway == nil {
			return nil, domain.ErrGatewayNotFound
		}
		return gateway, nil
	}

	if provider != "" {
		gateway, err := s.repo.FindGatewayByProvider(ctx, s.db, tenantID, strings.ToLower(provider))
		if err != nil {
			return nil, err
		}
		if gateway == nil {
			return nil, domain.ErrGatewayNotFound
		}
		return gateway, nil
	}

	gateways, err := s.repo.ListGateways(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if len(gateways) != 1 {
		return nil, domain.ErrGatewayNotFound
	}
	return &gateways[0], nil
}

// AdapterForGateway decrypts the gateway's credentials and builds a live
// adapter. The decrypted material lives only inside the returned adapter.
func (s *Service) AdapterForGateway(gateway *domain.Gateway) (domain.Adapter, error) {
	privateKey, err := s.vault.Decrypt(gateway.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}

	webhookSecret := ""
	if gateway.EncryptedWebhookSecret != "" {
		webhookSecret, err = s.vault.Decrypt(gateway.EncryptedWebhookSecret)
		if err != nil {
			return nil, err
		}
	}

	cfg := domain.AdapterConfig{
		TenantID:      gateway.TenantID,
		Provider:      gateway.Provider,
		Environment:   gateway.Environment,
		PrivateKey:    privateKey,
		WebhookSecret: webhookSecret,
		PublicKey:     gateway.PublicKey,
		ProductID:     gateway.ProductID,
		Settings:      gateway.Settings,
	}
	return s.registry.NewAdapter(gateway.Provider, cfg)
}

// FeeQuote is a computed donor-covers-fees quote.
type FeeQuote struct {
	Amount int64                `json:"amount"`
	Fee    int64                `json:"fee"`
	Total  int64                `json:"total"`
	Rates  domain.FeePricing    `json:"rates"`
	Method domain.PaymentMethod `json:"method"`
}

// CalculateFees quotes the extra amount a donor adds so the tenant nets the
// gift after processor fees. Tenant-negotiated overrides beat provider
// defaults.
func (s *Service) CalculateFees(ctx context.Context, tenantID, gatewayID snowflake.ID, provider string, amount int64, method domain.PaymentMethod) (*FeeQuote, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if method == "" {
		method = domain.MethodCard
	}

	gateway, err := s.ResolveGateway(ctx, tenantID, gatewayID, provider)
	if err != nil {
		return nil, err
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return nil, err
	}

	pricing, err := s.settings.ApplyFeeOverrides(ctx, tenantID, adapter.FeePricing(method))
	if err != nil {
		return nil, err
	}

	fee := domain.CalculateFee(amount, pricing)
	return &FeeQuote{
		Amount: amount,
		Fee:    fee,
		Total:  amount + fee,
		Rates:  pricing,
		Method: method,
	}, nil
}

// ChargeInput is a one-time gift request against a tenant's gateway.
type ChargeInput struct {
	TenantID  snowflake.ID
	GatewayID snowflake.ID
	Provider  string
	Request   domain.ChargeRequest
}

func (s *Service) ProcessCharge(ctx context.Context, input ChargeInput) (*domain.ChargeResult, error) {
	if input.Request.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if input.Request.Currency == "" {
		input.Request.Currency = "USD"
	}

	gateway, err := s.ResolveGateway(ctx, input.TenantID, input.GatewayID, input.Provider)
	if err != nil {
		return nil, err
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return nil, err
	}
	return adapter.ProcessCharge(ctx, input.Request)
}

// SubscribeInput is a recurring gift request.
type SubscribeInput struct {
	TenantID  snowflake.ID
	GatewayID snowflake.ID
	Provider  string
	Request   domain.SubscriptionRequest
}

// CreateSubscription creates the provider-side subscription and mirrors it
// locally so renewal callbacks can recover the fund fan-out.
func (s *Service) CreateSubscription(ctx context.Context, input SubscribeInput) (*domain.SubscriptionResult, error) {
	if input.Request.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if input.Request.Currency == "" {
		input.Request.Currency = "USD"
	}
	if input.Request.Interval == "" {
		input.Request.Interval = "month"
	}

	gateway, err := s.ResolveGateway(ctx, input.TenantID, input.GatewayID, input.Provider)
	if err != nil {
		return nil, err
	}
	if caps, ok := s.registry.Capabilities(gateway.Provider); !ok || !caps.Subscriptions {
		return nil, domain.ErrUnsupportedOperation
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreateSubscription(ctx, input.Request)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mirror := &subscriptiondomain.Subscription{
		ID:                     s.node.Generate(),
		TenantID:               input.TenantID,
		PersonID:               input.Request.PersonID,
		Provider:               gateway.Provider,
		ProviderSubscriptionID: result.ProviderSubscriptionID,
		CustomerID:             input.Request.CustomerID,
		Amount:                 input.Request.Amount,
		Currency:               strings.ToUpper(input.Request.Currency),
		Interval:               input.Request.Interval,
		IntervalCount:          max(input.Request.IntervalCount, 1),
		Status:                 subscriptiondomain.StatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	funds := make([]subscriptiondomain.SubscriptionFund, 0, len(input.Request.Funds))
	for _, alloc := range input.Request.Funds {
		funds = append(funds, subscriptiondomain.SubscriptionFund{
			ID:             s.node.Generate(),
			TenantID:       input.TenantID,
			SubscriptionID: mirror.ID,
			FundID:         alloc.FundID,
			Amount:         alloc.Amount,
		})
	}
	if err := s.subs.Create(ctx, s.db, mirror, funds); err != nil {
		// The provider-side subscription exists; losing the mirror only
		// costs the fund fan-out on renewals.
		s.log.Error("failed to mirror subscription",
			zap.String("tenant_id", input.TenantID.String()),
			zap.String("provider", gateway.Provider),
			zap.Error(err),
		)
	}
	return result, nil
}

// UpdateSubscription changes the amount or payment method of a recurring
// gift. New fund allocations, when given, replace the mirror's fan-out.
func (s *Service) UpdateSubscription(ctx context.Context, tenantID snowflake.ID, update domain.SubscriptionUpdate, funds []domain.FundAllocation) error {
	mirror, err := s.subs.FindByProviderSubscriptionID(ctx, s.db, tenantID, update.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	if mirror == nil {
		return domain.ErrGatewayNotFound
	}

	gateway, err := s.ResolveGateway(ctx, tenantID, 0, mirror.Provider)
	if err != nil {
		return err
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return err
	}
	if err := adapter.UpdateSubscription(ctx, update); err != nil {
		return err
	}

	if update.Amount > 0 {
		mirror.Amount = update.Amount
	}
	if update.Interval != "" {
		mirror.Interval = update.Interval
	}
	if update.IntervalCount > 0 {
		mirror.IntervalCount = update.IntervalCount
	}
	mirror.UpdatedAt = time.Now().UTC()

	var fundRows []subscriptiondomain.SubscriptionFund
	if funds != nil {
		fundRows = make([]subscriptiondomain.SubscriptionFund, 0, len(funds))
		for _, alloc := range funds {
			fundRows = append(fundRows, subscriptiondomain.SubscriptionFund{
				ID:             s.node.Generate(),
				TenantID:       tenantID,
				SubscriptionID: mirror.ID,
				FundID:         alloc.FundID,
				Amount:         alloc.Amount,
			})
		}
	}
	return s.subs.Update(ctx, s.db, mirror, fundRows)
}

// CancelSubscription cancels provider-side and drops the local mirror. The
// provider's cancellation callback arriving later finds nothing to delete,
// which is fine.
func (s *Service) CancelSubscription(ctx context.Context, tenantID snowflake.ID, providerSubscriptionID string) error {
	mirror, err := s.subs.FindByProviderSubscriptionID(ctx, s.db, tenantID, providerSubscriptionID)
	if err != nil {
		return err
	}
	if mirror == nil {
		return domain.ErrGatewayNotFound
	}

	gateway, err := s.ResolveGateway(ctx, tenantID, 0, mirror.Provider)
	if err != nil {
		return err
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return err
	}
	if err := adapter.CancelSubscription(ctx, providerSubscriptionID); err != nil {
		return err
	}
	return s.subs.Delete(ctx, s.db, tenantID, providerSubscriptionID)
}

func (s *Service) GenerateClientToken(ctx context.Context, tenantID, gatewayID snowflake.ID, provider string) (string, error) {
	gateway, err := s.ResolveGateway(ctx, tenantID, gatewayID, provider)
	if err != nil {
		return "", err
	}
	if caps, ok := s.registry.Capabilities(gateway.Provider); !ok || !caps.ClientTokens {
		return "", domain.ErrUnsupportedOperation
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return "", err
	}
	return adapter.GenerateClientToken(ctx)
}

func (s *Service) CreateOrder(ctx context.Context, tenantID, gatewayID snowflake.ID, provider string, amount int64, currency string) (string, error) {
	if amount <= 0 {
		return "", domain.ErrInvalidRequest
	}
	gateway, err := s.ResolveGateway(ctx, tenantID, gatewayID, provider)
	if err != nil {
		return "", err
	}
	if caps, ok := s.registry.Capabilities(gateway.Provider); !ok || !caps.Orders {
		return "", domain.ErrUnsupportedOperation
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return "", err
	}
	return adapter.CreateOrder(ctx, amount, currency)
}

func (s *Service) CaptureOrder(ctx context.Context, tenantID, gatewayID snowflake.ID, provider, orderID string) (*domain.ChargeResult, error) {
	gateway, err := s.ResolveGateway(ctx, tenantID, gatewayID, provider)
	if err != nil {
		return nil, err
	}
	if caps, ok := s.registry.Capabilities(gateway.Provider); !ok || !caps.Orders {
		return nil, domain.ErrUnsupportedOperation
	}
	adapter, err := s.AdapterForGateway(gateway)
	if err != nil {
		return nil, err
	}
	return adapter.CaptureOrder(ctx, orderID)
}

// SaveGatewayInput configures a tenant's processor. PrivateKey arrives in
// plaintext over the admin surface and is encrypted before it touches the
// database.
type SaveGatewayInput struct {
	TenantID    snowflake.ID
	Provider    string
	Environment string
	PrivateKey  string
	PublicKey   string
	PayFees     bool
	Settings    map[string]any
}

// SaveGateway creates or rotates a tenant's gateway and runs the
// provisioning protocol: ensure a catalog product where the provider wants
// one, then re-register the webhook endpoint and store its signing secret.
func (s *Service) SaveGateway(ctx context.Context, input SaveGatewayInput) (*domain.Gateway, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if !s.registry.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}
	if strings.TrimSpace(input.PrivateKey) == "" {
		return nil, domain.ErrInvalidRequest
	}
	environment := input.Environment
	if environment == "" {
		environment = domain.EnvironmentSandbox
	}

	privateKey := input.PrivateKey
	if s.vault.IsEncrypted(privateKey) {
		decrypted, err := s.vault.Decrypt(privateKey)
		if err != nil {
			return nil, err
		}
		privateKey = decrypted
	}
	encryptedKey, err := s.vault.Encrypt(privateKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	gateway, err := s.repo.FindGatewayByProvider(ctx, s.db, input.TenantID, provider)
	if err != nil {
		return nil, err
	}
	created := gateway == nil
	if created {
		gateway = &domain.Gateway{
			ID:        s.node.Generate(),
			TenantID:  input.TenantID,
			Provider:  provider,
			CreatedAt: now,
		}
	}
	gateway.Environment = environment
	gateway.EncryptedPrivateKey = encryptedKey
	gateway.PublicKey = input.PublicKey
	gateway.PayFees = input.PayFees
	gateway.UpdatedAt = now
	if gateway.Settings == nil {
		gateway.Settings = datatypes.JSONMap{}
	}
	for key, value := range input.Settings {
		gateway.Settings[key] = value
	}

	if err := s.provision(ctx, gateway, privateKey); err != nil {
		return nil, err
	}

	if created {
		err = s.repo.CreateGateway(ctx, s.db, gateway)
	} else {
		err = s.repo.UpdateGateway(ctx, s.db, gateway)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("gateway saved",
		zap.String("tenant_id", gateway.TenantID.String()),
		zap.String("provider", gateway.Provider),
		zap.String("environment", gateway.Environment),
		zap.Bool("created", created),
	)
	return gateway, nil
}

func (s *Service) provision(ctx context.Context, gateway *domain.Gateway, privateKey string) error {
	webhookSecret := ""
	if gateway.EncryptedWebhookSecret != "" {
		if secret, err := s.vault.Decrypt(gateway.EncryptedWebhookSecret); err == nil {
			webhookSecret = secret
		}
	}

	adapter, err := s.registry.NewAdapter(gateway.Provider, domain.AdapterConfig{
		TenantID:      gateway.TenantID,
		Provider:      gateway.Provider,
		Environment:   gateway.Environment,
		PrivateKey:    privateKey,
		WebhookSecret: webhookSecret,
		PublicKey:     gateway.PublicKey,
		ProductID:     gateway.ProductID,
		Settings:      gateway.Settings,
	})
	if err != nil {
		return err
	}

	if caps := adapter.Capabilities(); caps.Products && gateway.ProductID == "" {
		productID, err := adapter.CreateProduct(ctx, "Giving")
		if err != nil {
			return err
		}
		gateway.ProductID = productID
	}

	endpointURL, ok := s.webhookURL(gateway.Provider, gateway.TenantID)
	if !ok {
		// Local development has no reachable callback URL; skip webhook
		// registration entirely.
		s.log.Warn("skipping webhook registration for unreachable base url",
			zap.String("provider", gateway.Provider),
			zap.String("tenant_id", gateway.TenantID.String()),
		)
		return nil
	}

	if err := adapter.DeleteWebhookEndpoints(ctx); err != nil {
		return err
	}
	endpoint, err := adapter.CreateWebhookEndpoint(ctx, endpointURL)
	if err != nil {
		return err
	}

	gateway.WebhookEndpointID = endpoint.ID
	gateway.Settings["webhook_url"] = endpointURL
	if endpoint.Secret != "" {
		encryptedSecret, err := s.vault.Encrypt(endpoint.Secret)
		if err != nil {
			return err
		}
		gateway.EncryptedWebhookSecret = encryptedSecret
	}
	return nil
}

// DeleteGateway removes the configuration and best-effort deregisters the
// provider-side webhook endpoints.
func (s *Service) DeleteGateway(ctx context.Context, tenantID, gatewayID snowflake.ID) error {
	gateway, err := s.repo.FindGateway(ctx, s.db, tenantID, gatewayID)
	if err != nil {
		return err
	}
	if gateway == nil {
		return domain.ErrGatewayNotFound
	}

	if adapter, err := s.AdapterForGateway(gateway); err == nil {
		if err := adapter.DeleteWebhookEndpoints(ctx); err != nil {
			s.log.Warn("failed to deregister webhook endpoints",
				zap.String("provider", gateway.Provider),
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}
	return s.repo.DeleteGateway(ctx, s.db, tenantID, gatewayID)
}

// ListGateways returns the tenant's gateways with their capability sets.
// Encrypted columns never leave this layer.
func (s *Service) ListGateways(ctx context.Context, tenantID snowflake.ID) ([]GatewayView, error) {
	gateways, err := s.repo.ListGateways(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	views := make([]GatewayView, 0, len(gateways))
	for _, gateway := range gateways {
		caps, _ := s.registry.Capabilities(gateway.Provider)
		views = append(views, GatewayView{
			ID:           gateway.ID,
			Provider:     gateway.Provider,
			Environment:  gateway.Environment,
			PublicKey:    gateway.PublicKey,
			PayFees:      gateway.PayFees,
			Capabilities: caps,
		})
	}
	return views, nil
}

type GatewayView struct {
	ID           snowflake.ID        `json:"id"`
	Provider     string              `json:"provider"`
	Environment  string              `json:"environment"`
	PublicKey    string              `json:"public_key,omitempty"`
	PayFees      bool                `json:"pay_fees"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// webhookURL builds the provider callback URL. Returns ok=false when the
// configured base is absent or points at a loopback host.
func (s *Service) webhookURL(provider string, tenantID snowflake.ID) (string, bool) {
	base := strings.TrimSpace(s.cfg.WebhookBaseURL)
	if base == "" {
		return "", false
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	host := parsed.Hostname()
	if host == "" || host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.HasSuffix(host, ".local") {
		return "", false
	}
	return strings.TrimRight(base, "/") + "/giving/donate/webhook/" + provider + "?tenantId=" + tenantID.String(), true
}
