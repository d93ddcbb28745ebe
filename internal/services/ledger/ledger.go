// Package ledger owns wallet balances: atomic transfers, deposits and
// point-in-time balance reads, serialized per wallet.
package ledger

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
	"go.uber.org/zap"
)

// ErrInsufficientFunds is returned when the debited balance cannot cover the
// requested amount. Balances stay unchanged.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAsset is returned for malformed asset symbols.
var ErrInvalidAsset = errors.New("invalid asset")

// WalletStore persists wallet balances. Implemented by storage/wallets.
type WalletStore interface {
	Load() (map[string]map[string]string, error)
	Save(map[string]map[string]string) error
}

// Ledger is the authoritative in-process store of balances.
//
// Locking: every operation on one user's wallet first takes that user's
// mutex, so concurrent requests against the same wallet cannot interleave a
// balance check with another request's mutation. The short-lived global mu
// only guards map access, and both legs of a transfer are applied inside a
// single mu critical section, so no reader ever observes a half-applied
// transfer.
type Ledger struct {
	mu      sync.Mutex
	saveMu  sync.Mutex
	locks   map[string]*sync.Mutex
	wallets map[string]map[string]decimal.Decimal
	store   WalletStore
	logger  *zap.Logger

	// seed credited to a wallet on first use so the simulator is usable
	// without an explicit deposit. Zero disables seeding.
	seedAsset  string
	seedAmount decimal.Decimal
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithSeed credits every newly created wallet with amount of asset.
func WithSeed(asset string, amount decimal.Decimal) Option {
	return func(l *Ledger) {
		l.seedAsset = domain.NormalizeAsset(asset)
		l.seedAmount = amount
	}
}

// New creates a Ledger, restoring persisted wallets from store when present.
func New(store WalletStore, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		locks:   make(map[string]*sync.Mutex),
		wallets: make(map[string]map[string]decimal.Decimal),
		store:   store,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}

	if store != nil {
		persisted, err := store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "restore wallets")
		}
		for user, balances := range persisted {
			wallet := make(map[string]decimal.Decimal, len(balances))
			for asset, raw := range balances {
				amount, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, errors.Wrapf(err, "decode %s balance of user %s", asset, user)
				}
				wallet[domain.NormalizeAsset(asset)] = amount
			}
			l.wallets[user] = wallet
		}
		logger.Info("wallets restored", zap.Int("count", len(l.wallets)))
	}

	return l, nil
}

// Transfer atomically debits debitAmount of debitAsset and credits
// creditAmount of creditAsset on the user's wallet. Either both legs apply or
// neither does. A debit against a missing or short balance fails with
// ErrInsufficientFunds; a credit to an unknown asset auto-initializes it at
// zero. Returns the post-transfer balances snapshot.
func (l *Ledger) Transfer(userID, debitAsset string, debitAmount decimal.Decimal,
	creditAsset string, creditAmount decimal.Decimal) (map[string]decimal.Decimal, error) {

	debitAsset = domain.NormalizeAsset(debitAsset)
	creditAsset = domain.NormalizeAsset(creditAsset)
	if !domain.ValidAsset(debitAsset) {
		return nil, errors.Wrap(ErrInvalidAsset, debitAsset)
	}
	if !domain.ValidAsset(creditAsset) {
		return nil, errors.Wrap(ErrInvalidAsset, creditAsset)
	}
	if !debitAmount.IsPositive() || creditAmount.IsNegative() {
		return nil, errors.Errorf("invalid transfer amounts: debit %s credit %s",
			debitAmount.String(), creditAmount.String())
	}

	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	wallet := l.walletLocked(userID)
	balance := wallet[debitAsset]
	if balance.LessThan(debitAmount) {
		l.mu.Unlock()
		return nil, errors.Wrapf(ErrInsufficientFunds, "have %s %s, need %s",
			balance.String(), debitAsset, debitAmount.String())
	}
	wallet[debitAsset] = balance.Sub(debitAmount)
	wallet[creditAsset] = wallet[creditAsset].Add(creditAmount)
	snap := snapshot(wallet)
	l.mu.Unlock()

	if err := l.persist(); err != nil {
		// keep memory and disk agreeing
		l.mu.Lock()
		wallet[debitAsset] = wallet[debitAsset].Add(debitAmount)
		wallet[creditAsset] = wallet[creditAsset].Sub(creditAmount)
		l.mu.Unlock()
		return nil, errors.Wrap(err, "persist transfer")
	}

	return snap, nil
}

// Deposit credits amount of asset to the user's wallet, creating the wallet
// and the balance entry when missing.
func (l *Ledger) Deposit(userID, asset string, amount decimal.Decimal) (map[string]decimal.Decimal, error) {
	asset = domain.NormalizeAsset(asset)
	if !domain.ValidAsset(asset) {
		return nil, errors.Wrap(ErrInvalidAsset, asset)
	}
	if !amount.IsPositive() {
		return nil, errors.Errorf("deposit amount must be positive, got %s", amount.String())
	}

	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	wallet := l.walletLocked(userID)
	wallet[asset] = wallet[asset].Add(amount)
	snap := snapshot(wallet)
	l.mu.Unlock()

	if err := l.persist(); err != nil {
		l.mu.Lock()
		wallet[asset] = wallet[asset].Sub(amount)
		l.mu.Unlock()
		return nil, errors.Wrap(err, "persist deposit")
	}

	return snap, nil
}

// Balances returns a point-in-time snapshot of the user's wallet, creating it
// (with the configured seed) on first interaction.
func (l *Ledger) Balances(userID string) (map[string]decimal.Decimal, error) {
	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	_, existed := l.wallets[userID]
	wallet := l.walletLocked(userID)
	snap := snapshot(wallet)
	l.mu.Unlock()

	if !existed {
		if err := l.persist(); err != nil {
			return nil, errors.Wrap(err, "persist new wallet")
		}
	}

	return snap, nil
}

// lockFor returns the mutex serializing operations on one user's wallet.
func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

// walletLocked returns the user's balance map, creating and seeding it on
// first use. Callers must hold mu.
func (l *Ledger) walletLocked(userID string) map[string]decimal.Decimal {
	wallet, ok := l.wallets[userID]
	if !ok {
		wallet = make(map[string]decimal.Decimal)
		if l.seedAsset != "" && l.seedAmount.IsPositive() {
			wallet[l.seedAsset] = l.seedAmount
		}
		l.wallets[userID] = wallet
		l.logger.Info("wallet created", zap.String("user", userID))
	}
	return wallet
}

// exportLocked copies the full wallet state for persistence. Callers must
// hold mu.
func (l *Ledger) exportLocked() map[string]map[string]string {
	state := make(map[string]map[string]string, len(l.wallets))
	for user, wallet := range l.wallets {
		balances := make(map[string]string, len(wallet))
		for asset, amount := range wallet {
			balances[asset] = amount.String()
		}
		state[user] = balances
	}
	return state
}

// persist exports the full wallet state and writes it through the store.
// saveMu keeps export and write as one unit so a later export can never be
// overwritten by an earlier one.
func (l *Ledger) persist() error {
	if l.store == nil {
		return nil
	}

	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	state := l.exportLocked()
	l.mu.Unlock()

	return l.store.Save(state)
}

func snapshot(wallet map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(wallet))
	for asset, amount := range wallet {
		out[asset] = amount
	}
	return out
}
