package tenant

import (
	"github.com/alicialibros/loyalty/internal/tenant/repository"
	"github.com/alicialibros/loyalty/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
