package repository_test

import (
	"context"
	"testing"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	"github.com/alicialibros/loyalty/internal/testenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// credit runs one grant-shaped transaction. When stale is set the account is
// made to look as if it was read before a concurrent write landed.
func credit(env *testenv.Env, userID string, points int64, stale func(attempt int) bool) (int, error) {
	attempts := 0
	err := env.Store.RunInTx(context.Background(), func(ctx context.Context, tx ledgerdomain.Tx) error {
		attempts++
		account, err := tx.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		if stale != nil && stale(attempts) {
			account.Version--
		}
		if err := tx.SetBalance(ctx, account, account.PointsBalance+points); err != nil {
			return err
		}
		entry, err := ledgerdomain.NewEntry(env.Clock, env.GenID.Generate(), userID, 1, points, "test")
		if err != nil {
			return err
		}
		return tx.AppendEntry(ctx, entry)
	})
	return attempts, err
}

func TestRunInTxRetriesWriteConflict(t *testing.T) {
	env := testenv.New(t, testenv.WithMaxTxAttempts(3))
	env.Account(t, "reader-1", 0)

	attempts, err := credit(env, "reader-1", 8, func(attempt int) bool { return attempt == 1 })
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(8), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(1), env.EntryCount(t, "reader-1"))
}

func TestRunInTxGivesUpAfterMaxAttempts(t *testing.T) {
	env := testenv.New(t, testenv.WithMaxTxAttempts(2))
	env.Account(t, "reader-1", 3)

	attempts, err := credit(env, "reader-1", 8, func(int) bool { return true })
	assert.ErrorIs(t, err, ledgerdomain.ErrWriteConflict)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(3), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
}

func TestRunInTxDoesNotRetryOtherErrors(t *testing.T) {
	env := testenv.New(t)

	attempts, err := credit(env, "ghost", 8, nil)
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
	assert.Equal(t, 1, attempts)
}

func TestSetBalanceBumpsVersion(t *testing.T) {
	env := testenv.New(t)
	env.Account(t, "reader-1", 0)

	_, err := credit(env, "reader-1", 4, nil)
	require.NoError(t, err)
	_, err = credit(env, "reader-1", 6, nil)
	require.NoError(t, err)

	var account accountdomain.Account
	require.NoError(t, env.DB.Where("user_id = ?", "reader-1").First(&account).Error)
	assert.Equal(t, int64(10), account.PointsBalance)
	assert.Equal(t, int64(2), account.Version)
}

func TestTotalsSumsEntries(t *testing.T) {
	env := testenv.New(t)
	env.Account(t, "reader-1", 0)

	for _, points := range []int64{3, 4, 5} {
		_, err := credit(env, "reader-1", points, nil)
		require.NoError(t, err)
	}

	sum, count, err := env.LedgerRepo.Totals(context.Background(), env.DB, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), sum)
	assert.Equal(t, int64(3), count)
}
