package account

import (
	"github.com/alicialibros/loyalty/internal/account/repository"
	"github.com/alicialibros/loyalty/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
