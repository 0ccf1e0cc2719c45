package metrics

import (
	"go.uber.org/fx"

	"github.com/steeplehq/giving/internal/config"
)

// Module seeds the metrics singleton with the app's const labels before any
// caller reaches for Giving().
var Module = fx.Module("metrics",
	fx.Invoke(func(cfg config.Config) {
		GivingWithConfig(Config{
			ServiceName: cfg.AppName,
			Environment: cfg.Environment,
		})
	}),
)
