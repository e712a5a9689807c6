package service_test

import (
	"context"
	"strings"
	"testing"

	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/testenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindActiveByKeyResolvesTenant(t *testing.T) {
	env := testenv.New(t)
	tenant, key := env.Tenant(t, "Librería Alicia")

	assert.True(t, strings.HasPrefix(key, "al_live_"))

	cred, err := env.APIKeys.FindActiveByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, cred.TenantID)
	assert.Equal(t, "Librería Alicia", cred.TenantName)
	assert.True(t, strings.HasPrefix(cred.KeyID, "key_"))
}

func TestFindActiveByKeyRejectsUnknownKeys(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")

	for _, candidate := range []string{"", "   ", key + "x", strings.ToUpper(key), " " + key, key + "\n", "\t" + key + " "} {
		_, err := env.APIKeys.FindActiveByKey(context.Background(), candidate)
		assert.ErrorIs(t, err, apikeydomain.ErrInvalidCredential, candidate)
	}
}

func TestKeysAreStoredHashed(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")

	var stored apikeydomain.APIKey
	require.NoError(t, env.DB.First(&stored).Error)
	assert.NotEqual(t, key, stored.KeyHash)
	assert.Equal(t, apikeydomain.HashAPIKey(key), stored.KeyHash)
}

func TestRotateInvalidatesOldKey(t *testing.T) {
	env := testenv.New(t)
	tenant, oldKey := env.Tenant(t, "Librería Alicia")
	ctx := context.Background()

	keys, err := env.APIKeys.List(ctx, tenant.ID.String())
	require.NoError(t, err)
	require.Len(t, keys, 1)

	rotated, err := env.APIKeys.Rotate(ctx, tenant.ID.String(), keys[0].KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, keys[0].KeyID, rotated.KeyID)

	_, err = env.APIKeys.FindActiveByKey(ctx, oldKey)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidCredential)

	cred, err := env.APIKeys.FindActiveByKey(ctx, rotated.APIKey)
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID, cred.KeyID)

	keys, err = env.APIKeys.List(ctx, tenant.ID.String())
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, int64(1), env.AuditCount(t, auditdomain.ActionAPIKeyRotated))

	_, err = env.APIKeys.Rotate(ctx, tenant.ID.String(), oldKeyID(keys, rotated.KeyID))
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRevokeIsIdempotent(t *testing.T) {
	env := testenv.New(t)
	tenant, key := env.Tenant(t, "Librería Alicia")
	ctx := context.Background()

	keys, err := env.APIKeys.List(ctx, tenant.ID.String())
	require.NoError(t, err)

	require.NoError(t, env.APIKeys.Revoke(ctx, tenant.ID.String(), keys[0].KeyID))
	require.NoError(t, env.APIKeys.Revoke(ctx, tenant.ID.String(), keys[0].KeyID))
	assert.Equal(t, int64(1), env.AuditCount(t, auditdomain.ActionAPIKeyRevoked))

	_, err = env.APIKeys.FindActiveByKey(ctx, key)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidCredential)
}

func TestKeyOperationsValidateIdentifiers(t *testing.T) {
	env := testenv.New(t)
	tenant, _ := env.Tenant(t, "Librería Alicia")
	ctx := context.Background()

	_, err := env.APIKeys.List(ctx, "not-a-number")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidTenant)

	_, err = env.APIKeys.Rotate(ctx, tenant.ID.String(), " ")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKeyID)

	err = env.APIKeys.Revoke(ctx, tenant.ID.String(), "key_MISSING")
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)

	_, err = env.APIKeys.Issue(ctx, env.DB, 0)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidTenant)
}

func oldKeyID(keys []apikeydomain.Response, current string) string {
	for _, key := range keys {
		if key.KeyID != current {
			return key.KeyID
		}
	}
	return ""
}
