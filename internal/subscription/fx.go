package subscription

import (
	"go.uber.org/fx"

	"github.com/steeplehq/giving/internal/subscription/repository"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
)
