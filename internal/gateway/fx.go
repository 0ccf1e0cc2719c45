// Package gateway assembles the payment gateway stack: the adapter registry,
// the configuration repository, the facade, and the webhook processor.
package gateway

import (
	"go.uber.org/fx"

	"github.com/steeplehq/giving/internal/gateway/adapters"
	"github.com/steeplehq/giving/internal/gateway/adapters/epaymints"
	"github.com/steeplehq/giving/internal/gateway/adapters/paypal"
	"github.com/steeplehq/giving/internal/gateway/adapters/square"
	"github.com/steeplehq/giving/internal/gateway/adapters/stripe"
	"github.com/steeplehq/giving/internal/gateway/repository"
	"github.com/steeplehq/giving/internal/gateway/service"
	"github.com/steeplehq/giving/internal/gateway/webhook"
)

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
		paypal.NewFactory(),
		square.NewFactory(),
		epaymints.NewFactory(),
	)
}

var Module = fx.Module("gateway",
	fx.Provide(NewRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(webhook.New),
)
