package apikey

import (
	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	"github.com/alicialibros/loyalty/internal/apikey/repository"
	"github.com/alicialibros/loyalty/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(svc apikeydomain.Service) apikeydomain.CredentialStore { return svc }),
)
