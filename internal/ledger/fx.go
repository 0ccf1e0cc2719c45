package ledger

import (
	"go.uber.org/fx"

	"github.com/steeplehq/giving/internal/ledger/repository"
	"github.com/steeplehq/giving/internal/ledger/service"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
