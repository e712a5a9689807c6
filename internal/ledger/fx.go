package ledger

import (
	"github.com/alicialibros/loyalty/internal/ledger/repository"
	"github.com/alicialibros/loyalty/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewStore),
	fx.Provide(service.NewService),
)
