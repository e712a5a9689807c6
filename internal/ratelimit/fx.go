package ratelimit

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewGrantLimiter),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, limiter *GrantLimiter) {
	if limiter == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return limiter.Close()
		},
	})
}
