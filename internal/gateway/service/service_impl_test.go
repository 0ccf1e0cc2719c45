package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/internal/config"
	"github.com/steeplehq/giving/internal/gateway/adapters"
	"github.com/steeplehq/giving/internal/gateway/adapters/epaymints"
	"github.com/steeplehq/giving/internal/gateway/adapters/stripe"
	"github.com/steeplehq/giving/internal/gateway/domain"
	"github.com/steeplehq/giving/internal/gateway/repository"
	"github.com/steeplehq/giving/internal/gateway/service"
	"github.com/steeplehq/giving/internal/settings"
	subscriptiondomain "github.com/steeplehq/giving/internal/subscription/domain"
	subscriptionrepo "github.com/steeplehq/giving/internal/subscription/repository"
	"github.com/steeplehq/giving/internal/vault"
)

func setupService(t *testing.T) (*gorm.DB, *service.Service, *settings.Service, *vault.Vault, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Gateway{},
		&domain.EventLog{},
		&settings.TenantSetting{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionFund{},
	))

	node, err := snowflake.NewNode(32)
	require.NoError(t, err)

	cfg := config.Config{GivingSecretKey: "facade_test_key"}
	v := vault.New(cfg)
	tenantSettings := settings.New(db, node)

	svc := service.New(service.Params{
		DB:       db,
		Repo:     repository.Provide(),
		Registry: adapters.NewRegistry(stripe.NewFactory(), epaymints.NewFactory()),
		Vault:    v,
		Settings: tenantSettings,
		Subs:     subscriptionrepo.Provide(),
		Node:     node,
		Config:   cfg,
		Logger:   zap.NewNop(),
	})
	return db, svc, tenantSettings, v, node
}

func seedGateway(t *testing.T, db *gorm.DB, v *vault.Vault, node *snowflake.Node, tenantID snowflake.ID, provider string) *domain.Gateway {
	t.Helper()

	encryptedKey, err := v.Encrypt("sk_test_" + provider)
	require.NoError(t, err)

	now := time.Now().UTC()
	gateway := &domain.Gateway{
		ID:                  node.Generate(),
		TenantID:            tenantID,
		Provider:            provider,
		Environment:         domain.EnvironmentSandbox,
		EncryptedPrivateKey: encryptedKey,
		Settings:            datatypes.JSONMap{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, db.Create(gateway).Error)
	return gateway
}

func TestResolveGatewayPrecedence(t *testing.T) {
	ctx := context.Background()
	db, svc, _, v, node := setupService(t)
	tenantID := node.Generate()

	stripeGW := seedGateway(t, db, v, node, tenantID, domain.ProviderStripe)
	epmGW := seedGateway(t, db, v, node, tenantID, domain.ProviderEPayMints)

	byID, err := svc.ResolveGateway(ctx, tenantID, epmGW.ID, domain.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, epmGW.ID, byID.ID, "explicit id beats provider hint")

	byProvider, err := svc.ResolveGateway(ctx, tenantID, 0, domain.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, stripeGW.ID, byProvider.ID)

	// Two gateways and no selector is ambiguous.
	_, err = svc.ResolveGateway(ctx, tenantID, 0, "")
	assert.ErrorIs(t, err, domain.ErrGatewayNotFound)

	// A tenant with a single gateway needs no selector at all.
	soloTenant := node.Generate()
	solo := seedGateway(t, db, v, node, soloTenant, domain.ProviderStripe)
	resolved, err := svc.ResolveGateway(ctx, soloTenant, 0, "")
	require.NoError(t, err)
	assert.Equal(t, solo.ID, resolved.ID)

	_, err = svc.ResolveGateway(ctx, node.Generate(), 0, "")
	assert.ErrorIs(t, err, domain.ErrGatewayNotFound)
}

func TestCalculateFeesAppliesTenantOverrides(t *testing.T) {
	ctx := context.Background()
	db, svc, tenantSettings, v, node := setupService(t)
	tenantID := node.Generate()
	seedGateway(t, db, v, node, tenantID, domain.ProviderStripe)

	quote, err := svc.CalculateFees(ctx, tenantID, 0, domain.ProviderStripe, 2500, domain.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, int64(106), quote.Fee)
	assert.Equal(t, int64(2606), quote.Total)

	require.NoError(t, tenantSettings.Set(ctx, tenantID, settings.KeyFeeFixed, "49"))
	require.NoError(t, tenantSettings.Set(ctx, tenantID, settings.KeyFeePercent, "0.0349"))

	quote, err = svc.CalculateFees(ctx, tenantID, 0, domain.ProviderStripe, 2500, domain.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, int64(141), quote.Fee)
	assert.Equal(t, 0.0349, quote.Rates.Percent)
	assert.Equal(t, int64(49), quote.Rates.Fixed)

	_, err = svc.CalculateFees(ctx, tenantID, 0, domain.ProviderStripe, 0, domain.MethodCard)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCapabilityGates(t *testing.T) {
	ctx := context.Background()
	db, svc, _, v, node := setupService(t)
	tenantID := node.Generate()
	seedGateway(t, db, v, node, tenantID, domain.ProviderStripe)

	// Stripe has no client-token or order flow.
	_, err := svc.GenerateClientToken(ctx, tenantID, 0, domain.ProviderStripe)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	_, err = svc.CreateOrder(ctx, tenantID, 0, domain.ProviderStripe, 1000, "USD")
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	epmTenant := node.Generate()
	seedGateway(t, db, v, node, epmTenant, domain.ProviderEPayMints)
	_, err = svc.CreateSubscription(ctx, service.SubscribeInput{
		TenantID: epmTenant,
		Provider: domain.ProviderEPayMints,
		Request:  domain.SubscriptionRequest{Amount: 1000},
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}

func TestSaveGatewayEncryptsCredentials(t *testing.T) {
	ctx := context.Background()
	db, svc, _, v, node := setupService(t)
	tenantID := node.Generate()

	gateway, err := svc.SaveGateway(ctx, service.SaveGatewayInput{
		TenantID:   tenantID,
		Provider:   domain.ProviderEPayMints,
		PrivateKey: "epm_live_secret",
		PayFees:    true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "epm_live_secret", gateway.EncryptedPrivateKey)
	assert.True(t, v.IsEncrypted(gateway.EncryptedPrivateKey))
	assert.Equal(t, domain.EnvironmentSandbox, gateway.Environment)

	plain, err := v.Decrypt(gateway.EncryptedPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "epm_live_secret", plain)

	// Saving again rotates in place rather than adding a second row.
	rotated, err := svc.SaveGateway(ctx, service.SaveGatewayInput{
		TenantID:   tenantID,
		Provider:   domain.ProviderEPayMints,
		PrivateKey: "epm_live_rotated",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.ID, rotated.ID)

	var count int64
	require.NoError(t, db.Model(&domain.Gateway{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = svc.SaveGateway(ctx, service.SaveGatewayInput{
		TenantID:   tenantID,
		Provider:   "venmo",
		PrivateKey: "whatever",
	})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = svc.SaveGateway(ctx, service.SaveGatewayInput{
		TenantID: tenantID,
		Provider: domain.ProviderEPayMints,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestProcessChargeValidatesInput(t *testing.T) {
	ctx := context.Background()
	_, svc, _, _, node := setupService(t)

	_, err := svc.ProcessCharge(ctx, service.ChargeInput{
		TenantID: node.Generate(),
		Provider: domain.ProviderStripe,
		Request:  domain.ChargeRequest{Amount: -5},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCancelSubscriptionWithoutMirror(t *testing.T) {
	ctx := context.Background()
	db, svc, _, v, node := setupService(t)
	tenantID := node.Generate()
	seedGateway(t, db, v, node, tenantID, domain.ProviderStripe)

	err := svc.CancelSubscription(ctx, tenantID, "sub_missing")
	assert.ErrorIs(t, err, domain.ErrGatewayNotFound)
}
