package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/obmen/internal/storage/wallets"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(nil, nil)
	require.NoError(t, err)
	return l
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTransfer(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("100"))
	require.NoError(t, err)

	balances, err := l.Transfer("42", "USD", dec("100"), "BTC", dec("0.002"))
	require.NoError(t, err)

	assert.True(t, balances["USD"].IsZero())
	assert.Equal(t, "0.002", balances["BTC"].String())
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("10"))
	require.NoError(t, err)

	_, err = l.Transfer("42", "USD", dec("50"), "BTC", dec("0.001"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// both legs untouched
	balances, err := l.Balances("42")
	require.NoError(t, err)
	assert.Equal(t, "10", balances["USD"].String())
	_, hasBTC := balances["BTC"]
	assert.False(t, hasBTC)
}

func TestTransfer_UnknownDebitAssetIsInsufficient(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("10"))
	require.NoError(t, err)

	_, err = l.Transfer("42", "ETH", dec("1"), "USD", dec("100"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestTransfer_CreditSideAutoCreated(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("10"))
	require.NoError(t, err)

	balances, err := l.Transfer("42", "USD", dec("10"), "DOGE", dec("55.5"))
	require.NoError(t, err)
	assert.Equal(t, "55.5", balances["DOGE"].String())
}

func TestTransfer_InvalidAssetSymbol(t *testing.T) {
	l := newLedger(t)

	_, err := l.Transfer("42", "", dec("1"), "BTC", dec("1"))
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, err = l.Transfer("42", "USD", dec("1"), "B!TC", dec("1"))
	assert.ErrorIs(t, err, ErrInvalidAsset)
}

func TestTransfer_NonPositiveAmounts(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("10"))
	require.NoError(t, err)

	_, err = l.Transfer("42", "USD", decimal.Zero, "BTC", dec("1"))
	assert.Error(t, err)

	_, err = l.Transfer("42", "USD", dec("1"), "BTC", dec("-1"))
	assert.Error(t, err)
}

func TestDeposit_NormalizesSymbols(t *testing.T) {
	l := newLedger(t)

	_, err := l.Deposit("42", " usd ", dec("5"))
	require.NoError(t, err)

	balances, err := l.Balances("42")
	require.NoError(t, err)
	assert.Equal(t, "5", balances["USD"].String())
}

func TestConcurrentTransfers_OnlyAffordablePrefixSucceeds(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("35"))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transfer("42", "USD", dec("10"), "BTC", dec("0.0002"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)

	balances, err := l.Balances("42")
	require.NoError(t, err)
	assert.Equal(t, "5", balances["USD"].String())
	assert.False(t, balances["USD"].IsNegative())
}

func TestConcurrentDifferentWallets(t *testing.T) {
	l := newLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := string(rune('a' + i%5))
			_, err := l.Deposit(user, "USD", dec("1"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, user := range []string{"a", "b", "c", "d", "e"} {
		balances, err := l.Balances(user)
		require.NoError(t, err)
		assert.Equal(t, "4", balances["USD"].String())
	}
}

func TestBalances_SnapshotIsolation(t *testing.T) {
	l := newLedger(t)
	_, err := l.Deposit("42", "USD", dec("10"))
	require.NoError(t, err)

	snap, err := l.Balances("42")
	require.NoError(t, err)
	snap["USD"] = dec("999")

	fresh, err := l.Balances("42")
	require.NoError(t, err)
	assert.Equal(t, "10", fresh["USD"].String())
}

func TestSeededWallet(t *testing.T) {
	l, err := New(nil, nil, WithSeed("USD", dec("10000")))
	require.NoError(t, err)

	balances, err := l.Balances("new-user")
	require.NoError(t, err)
	assert.Equal(t, "10000", balances["USD"].String())
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := wallets.NewStore(dir)
	require.NoError(t, err)

	l, err := New(store, nil)
	require.NoError(t, err)
	_, err = l.Deposit("42", "USD", dec("100"))
	require.NoError(t, err)
	_, err = l.Transfer("42", "USD", dec("40"), "BTC", dec("0.001"))
	require.NoError(t, err)

	restored, err := New(store, nil)
	require.NoError(t, err)

	balances, err := restored.Balances("42")
	require.NoError(t, err)
	assert.Equal(t, "60", balances["USD"].String())
	assert.Equal(t, "0.001", balances["BTC"].String())
}
