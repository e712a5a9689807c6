package obscontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestScopedValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithTenantID(ctx, "42")
	ctx = WithActor(ctx, ActorTenant, "key_ABC")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "42", TenantIDFromContext(ctx))

	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, ActorTenant, actorType)
	assert.Equal(t, "key_ABC", actorID)
}

func TestEmptyValuesAreIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	ctx = WithActor(ctx, "", "id")

	assert.Empty(t, RequestIDFromContext(ctx))
	actorType, _ := ActorFromContext(ctx)
	assert.Empty(t, actorType)
	assert.Empty(t, TenantIDFromContext(nil))
}

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, first)

	_, second := EnsureCorrelationID(ctx)
	assert.Equal(t, first, second)
}
