package service_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	"github.com/alicialibros/loyalty/internal/config"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	"github.com/alicialibros/loyalty/internal/testenv"
	"github.com/alicialibros/loyalty/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(v float64) *float64 { return &v }

func grant(userID string, purchase float64, apiKey string) ledgerdomain.GrantRequest {
	return ledgerdomain.GrantRequest{UserID: userID, PurchaseAmount: amount(purchase), APIKey: apiKey}
}

func TestGrantPointsCreditsFlooredAmount(t *testing.T) {
	env := testenv.New(t)
	tenant, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 50)

	res, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 25.50, key))
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.PointsGranted)
	assert.Equal(t, "Successfully granted 25 points.", res.Message)
	assert.Equal(t, tenant.ID, res.TenantID)

	assert.Equal(t, int64(75), env.Balance(t, "reader-1"))

	var entries []ledgerdomain.LedgerEntry
	require.NoError(t, env.DB.Where("user_id = ?", "reader-1").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(25), entries[0].Amount)
	assert.Equal(t, tenant.ID, entries[0].TenantID)
	assert.Equal(t, "Points earned at Librería Alicia", entries[0].Description)
	assert.True(t, entries[0].CreatedAt.Equal(env.Clock.Now()))

	assert.Equal(t, int64(1), env.AuditCount(t, auditdomain.ActionPointsGranted))
}

func TestGrantPointsBelowOneUnitIsNoOp(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Casa del Libro")
	env.Account(t, "reader-1", 10)

	res, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 0.99, key))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.PointsGranted)
	assert.Equal(t, "No points granted for this purchase amount.", res.Message)

	assert.Equal(t, int64(10), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
	assert.Equal(t, int64(0), env.AuditCount(t, auditdomain.ActionPointsGranted))
}

func TestGrantPointsZeroPurchaseSucceedsWithoutAccount(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Casa del Libro")

	res, err := env.Ledger.GrantPoints(context.Background(), grant("nobody", 0, key))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.PointsGranted)
}

func TestGrantPointsRejectsInactiveTenant(t *testing.T) {
	env := testenv.New(t)
	tenant, key := env.Tenant(t, "Closed Books")
	env.Account(t, "reader-1", 5)

	_, err := env.Tenants.Deactivate(context.Background(), tenant.ID.String())
	require.NoError(t, err)

	_, err = env.Ledger.GrantPoints(context.Background(), grant("reader-1", 40, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAPIKey)
	assert.Equal(t, int64(5), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
}

func TestGrantPointsRejectsUnknownKey(t *testing.T) {
	env := testenv.New(t)
	env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 5)

	for _, key := range []string{"al_live_doesnotexist", "not-even-close"} {
		_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 40, key))
		assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAPIKey, key)
	}
	assert.Equal(t, int64(5), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
}

func TestGrantPointsRequiresExactKey(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 5)

	for _, padded := range []string{"  " + key + "\n", key + " ", "\t" + key} {
		_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 25.5, padded))
		assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAPIKey)
	}
	assert.Equal(t, int64(5), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
	assert.Equal(t, int64(0), env.AuditCount(t, auditdomain.ActionPointsGranted))
}

func TestGrantPointsUsesUserIDAsGiven(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 5)

	_, err := env.Ledger.GrantPoints(context.Background(), grant("  reader-1\t", 25.5, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
	assert.Equal(t, int64(5), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))

	_, err = env.Ledger.GrantPoints(context.Background(), grant(" \t ", 25.5, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrMissingFields)
}

func TestGrantPointsRejectsRevokedKey(t *testing.T) {
	env := testenv.New(t)
	tenant, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	keys, err := env.APIKeys.List(context.Background(), tenant.ID.String())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, env.APIKeys.Revoke(context.Background(), tenant.ID.String(), keys[0].KeyID))

	_, err = env.Ledger.GrantPoints(context.Background(), grant("reader-1", 12, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAPIKey)
}

func TestGrantPointsMissingAccount(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")

	_, err := env.Ledger.GrantPoints(context.Background(), grant("ghost", 30, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
	assert.Equal(t, int64(0), env.EntryCount(t, "ghost"))
	assert.Equal(t, int64(0), env.AuditCount(t, auditdomain.ActionPointsGranted))
}

func TestGrantPointsValidatesInputBeforeLookup(t *testing.T) {
	env := testenv.New(t)
	env.Account(t, "reader-1", 0)

	cases := []struct {
		name string
		req  ledgerdomain.GrantRequest
		want error
	}{
		{"missing user", ledgerdomain.GrantRequest{PurchaseAmount: amount(5), APIKey: "k"}, ledgerdomain.ErrMissingFields},
		{"blank user", ledgerdomain.GrantRequest{UserID: "  ", PurchaseAmount: amount(5), APIKey: "k"}, ledgerdomain.ErrMissingFields},
		{"missing amount", ledgerdomain.GrantRequest{UserID: "reader-1", APIKey: "k"}, ledgerdomain.ErrMissingFields},
		{"missing key", ledgerdomain.GrantRequest{UserID: "reader-1", PurchaseAmount: amount(5)}, ledgerdomain.ErrMissingFields},
		{"negative", grant("reader-1", -1, "k"), ledgerdomain.ErrInvalidPurchaseAmount},
		{"nan", grant("reader-1", math.NaN(), "k"), ledgerdomain.ErrInvalidPurchaseAmount},
		{"inf", grant("reader-1", math.Inf(1), "k"), ledgerdomain.ErrInvalidPurchaseAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, env.Ledger.ValidateGrant(tc.req), tc.want)
			_, err := env.Ledger.GrantPoints(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateGrantAcceptsWellFormedRequest(t *testing.T) {
	env := testenv.New(t)
	assert.NoError(t, env.Ledger.ValidateGrant(grant("reader-1", 12.5, "al_live_unknown")))
	assert.Equal(t, int64(0), env.AuditCount(t, auditdomain.ActionPointsGranted))
}

func TestGrantPointsRespectsPurchaseLimit(t *testing.T) {
	policy := config.DefaultRewardsConfig()
	policy.MaxPurchaseAmount = 1000
	env := testenv.New(t, testenv.WithRewards(policy))
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 1000.5, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrPurchaseAmountTooLarge)

	_, err = env.Ledger.GrantPoints(context.Background(), grant("reader-1", 1e300, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrPurchaseAmountTooLarge)
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
}

func TestGrantPointsUnrepresentableAmount(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 1e300, key))
	assert.ErrorIs(t, err, ledgerdomain.ErrPurchaseAmountTooLarge)
}

func TestGrantPointsMatchesFloorForManyAmounts(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	var want int64
	for _, purchase := range []float64{0, 0.5, 1, 1.01, 2.99, 9.999, 10, 13.37, 250.75, 1234.5} {
		res, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", purchase, key))
		require.NoError(t, err)
		assert.Equal(t, int64(math.Floor(purchase)), res.PointsGranted, "purchase %v", purchase)
		want += res.PointsGranted
	}
	assert.Equal(t, want, env.Balance(t, "reader-1"))

	rec, err := env.Ledger.Reconcile(context.Background(), "reader-1")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, want, rec.LedgerTotal)
	assert.Equal(t, int64(8), rec.EntryCount)
}

func TestGrantPointsAppliesPointsPerUnit(t *testing.T) {
	policy := config.DefaultRewardsConfig()
	policy.PointsPerUnit = 2
	env := testenv.New(t, testenv.WithRewards(policy))
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	res, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 10.3, key))
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.PointsGranted)
}

func TestGrantPointsConcurrentRequestsDoNotLoseUpdates(t *testing.T) {
	env := testenv.New(t, testenv.WithFileDB(4), testenv.WithMaxTxAttempts(5))
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, purchase := range []float64{10, 15} {
		wg.Add(1)
		go func(i int, purchase float64) {
			defer wg.Done()
			_, errs[i] = env.Ledger.GrantPoints(context.Background(), grant("reader-1", purchase, key))
		}(i, purchase)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(30), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(2), env.EntryCount(t, "reader-1"))
}

// pausingStore holds the first transaction open after it has read the
// account, until release is closed.
type pausingStore struct {
	inner   ledgerdomain.Store
	userID  string
	calls   atomic.Int32
	paused  chan struct{}
	release chan struct{}
}

func (p *pausingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledgerdomain.Tx) error) error {
	return p.inner.RunInTx(ctx, func(ctx context.Context, tx ledgerdomain.Tx) error {
		if p.calls.Add(1) == 1 {
			if _, err := tx.GetAccount(ctx, p.userID); err != nil {
				return err
			}
			close(p.paused)
			<-p.release
		}
		return fn(ctx, tx)
	})
}

func TestGrantPointsRetriesOverlappingTransactions(t *testing.T) {
	store := &pausingStore{userID: "reader-1", paused: make(chan struct{}), release: make(chan struct{})}
	env := testenv.New(t,
		testenv.WithFileDB(4),
		testenv.WithStore(func(inner ledgerdomain.Store) ledgerdomain.Store {
			store.inner = inner
			return store
		}),
	)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 5)

	release := sync.OnceFunc(func() { close(store.release) })
	defer release()

	first := make(chan error, 1)
	go func() {
		_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 10, key))
		first <- err
	}()
	<-store.paused

	// The second grant commits while the first still holds its read of the
	// old balance.
	_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 15, key))
	require.NoError(t, err)
	assert.Equal(t, int64(20), env.Balance(t, "reader-1"))

	release()
	require.NoError(t, <-first)

	assert.Equal(t, int32(3), store.calls.Load(), "first grant should run again after losing the race")
	assert.Equal(t, int64(30), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(2), env.EntryCount(t, "reader-1"))

	rec, err := env.Ledger.Reconcile(context.Background(), "reader-1")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

func TestGrantPointsRepeatedRequestCreditsTwice(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	for i := 0; i < 2; i++ {
		_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 20, key))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(40), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(2), env.EntryCount(t, "reader-1"))
}

type failingTx struct {
	ledgerdomain.Tx
	err error
}

func (f failingTx) AppendEntry(context.Context, *ledgerdomain.LedgerEntry) error {
	return f.err
}

type failingStore struct {
	inner ledgerdomain.Store
	err   error
}

func (f failingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledgerdomain.Tx) error) error {
	return f.inner.RunInTx(ctx, func(ctx context.Context, tx ledgerdomain.Tx) error {
		return fn(ctx, failingTx{Tx: tx, err: f.err})
	})
}

func TestGrantPointsRollsBackWhenEntryFails(t *testing.T) {
	storeErr := errors.New("disk full")
	env := testenv.New(t, testenv.WithStore(func(inner ledgerdomain.Store) ledgerdomain.Store {
		return failingStore{inner: inner, err: storeErr}
	}))
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 7)

	_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 30, key))
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, int64(7), env.Balance(t, "reader-1"))
	assert.Equal(t, int64(0), env.EntryCount(t, "reader-1"))
	assert.Equal(t, int64(0), env.AuditCount(t, auditdomain.ActionPointsGranted))
}

func TestListEntriesPaginatesNewestFirst(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	for _, purchase := range []float64{1, 2, 3, 4, 5} {
		_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", purchase, key))
		require.NoError(t, err)
		env.Clock.Advance(time.Second)
	}

	first, err := env.Ledger.ListEntries(context.Background(), ledgerdomain.ListEntriesRequest{
		UserID:     "reader-1",
		Pagination: pagination.Pagination{PageSize: 3},
	})
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	assert.True(t, first.HasMore)
	assert.Equal(t, []int64{5, 4, 3}, amounts(first.Entries))

	second, err := env.Ledger.ListEntries(context.Background(), ledgerdomain.ListEntriesRequest{
		UserID:     "reader-1",
		Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	assert.False(t, second.HasMore)
	assert.Equal(t, []int64{2, 1}, amounts(second.Entries))
}

func TestListEntriesErrors(t *testing.T) {
	env := testenv.New(t)
	env.Account(t, "reader-1", 0)

	_, err := env.Ledger.ListEntries(context.Background(), ledgerdomain.ListEntriesRequest{UserID: "ghost"})
	assert.ErrorIs(t, err, accountdomain.ErrNotFound)

	_, err = env.Ledger.ListEntries(context.Background(), ledgerdomain.ListEntriesRequest{
		UserID:     "reader-1",
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}

func TestReconcileDetectsDrift(t *testing.T) {
	env := testenv.New(t)
	_, key := env.Tenant(t, "Librería Alicia")
	env.Account(t, "reader-1", 0)

	_, err := env.Ledger.GrantPoints(context.Background(), grant("reader-1", 12, key))
	require.NoError(t, err)

	rec, err := env.Ledger.Reconcile(context.Background(), "reader-1")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)

	require.NoError(t, env.DB.Exec(`UPDATE accounts SET points_balance = 99 WHERE user_id = ?`, "reader-1").Error)
	rec, err = env.Ledger.Reconcile(context.Background(), "reader-1")
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, int64(99), rec.Balance)
	assert.Equal(t, int64(12), rec.LedgerTotal)
}

func amounts(entries []ledgerdomain.LedgerEntry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Amount)
	}
	return out
}
