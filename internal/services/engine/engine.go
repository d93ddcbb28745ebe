// Package engine validates swap requests and drives them through rate
// resolution, the atomic two-leg transfer and the audit trail.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
	"github.com/vadiminshakov/obmen/internal/notify"
	"github.com/vadiminshakov/obmen/internal/services/ledger"
	"github.com/vadiminshakov/obmen/internal/services/rates"
	"go.uber.org/zap"
)

// DefaultPivotAsset is the common asset cross rates are composed through when
// the provider has no direct market for a pair.
const DefaultPivotAsset = "USD"

// RateSource resolves current prices. Implemented by services/rates.Source.
type RateSource interface {
	GetQuote(ctx context.Context, pair domain.Pair) (domain.RateQuote, error)
	StaleAfter() time.Duration
}

// Ledger performs atomic balance mutations. Implemented by services/ledger.
type Ledger interface {
	Transfer(userID, debitAsset string, debitAmount decimal.Decimal,
		creditAsset string, creditAmount decimal.Decimal) (map[string]decimal.Decimal, error)
}

// History is the append-only record of swap attempts. Implemented by
// storage/history.
type History interface {
	Append(record domain.SwapRecord) (domain.SwapRecord, error)
	FindByKey(userID, idempotencyKey string) (domain.SwapRecord, bool)
}

// Engine executes swaps: every accepted or rejected request produces exactly
// one immutable SwapRecord, and the wallet is mutated at most once per
// idempotency key.
type Engine struct {
	rates    RateSource
	ledger   Ledger
	history  History
	notifier notify.Notifier
	pivot    string
	logger   *zap.Logger
	now      func() time.Time

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New creates a swap engine. notifier may be nil; pivot falls back to
// DefaultPivotAsset.
func New(rateSource RateSource, ledg Ledger, history History, notifier notify.Notifier,
	pivot string, logger *zap.Logger) (*Engine, error) {

	if rateSource == nil {
		return nil, errors.New("rate source is required")
	}
	if ledg == nil {
		return nil, errors.New("ledger is required")
	}
	if history == nil {
		return nil, errors.New("history store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pivot = domain.NormalizeAsset(pivot)
	if pivot == "" {
		pivot = DefaultPivotAsset
	}

	return &Engine{
		rates:    rateSource,
		ledger:   ledg,
		history:  history,
		notifier: notifier,
		pivot:    pivot,
		logger:   logger,
		now:      time.Now,
		keyLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Execute runs the swap request to a settled outcome. It always returns a
// SwapRecord: succeeded, or rejected with a classified reason. The error
// return is reserved for infrastructure faults where not even the rejection
// could be recorded.
func (e *Engine) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapRecord, error) {
	req.Normalize()

	// local validation first: no rate fetch, no balance lookup
	if err := req.Validate(); err != nil {
		return e.reject(ctx, req, domain.RateQuote{}, domain.ReasonInvalidRequest, err.Error())
	}

	// attempts sharing an idempotency key run one at a time, so concurrent
	// duplicates cannot both pass the history lookup and debit twice
	if req.IdempotencyKey != "" {
		lock := e.keyLock(req.UserID, req.IdempotencyKey)
		lock.Lock()
		defer lock.Unlock()
	}

	// a settled record under the same key is returned as is; a retryable
	// failure lets the retry re-execute
	if existing, ok := e.history.FindByKey(req.UserID, req.IdempotencyKey); ok {
		if existing.Succeeded() || !existing.Reason.Retryable() {
			return existing, nil
		}
	}

	quote, err := e.resolveRate(ctx, req)
	if err != nil {
		return e.reject(ctx, req, domain.RateQuote{}, domain.ReasonRateUnavailable, err.Error())
	}

	precision := domain.AssetPrecision(req.ToAsset)
	// floor rounding: the engine never creates value out of thin air
	toAmount := req.FromAmount.Mul(quote.Price).RoundFloor(precision)
	if !toAmount.IsPositive() {
		return e.reject(ctx, req, quote, domain.ReasonInvalidRequest,
			"amount too small: converts to zero at the target asset precision")
	}

	// the caller's deadline is honored up to this point; once the transfer
	// starts it runs to atomic completion
	if ctx.Err() != nil {
		return e.reject(ctx, req, quote, domain.ReasonInternalError, ctx.Err().Error())
	}

	balances, err := e.ledger.Transfer(req.UserID, req.FromAsset, req.FromAmount, req.ToAsset, toAmount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return e.reject(ctx, req, quote, domain.ReasonInsufficientFunds, err.Error())
		case errors.Is(err, ledger.ErrInvalidAsset):
			return e.reject(ctx, req, quote, domain.ReasonInvalidAsset, err.Error())
		default:
			return e.reject(ctx, req, quote, domain.ReasonInternalError, err.Error())
		}
	}

	record := domain.SwapRecord{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		FromAsset:      req.FromAsset,
		FromAmount:     req.FromAmount,
		ToAsset:        req.ToAsset,
		ToAmount:       toAmount,
		Rate:           quote,
		Precision:      precision,
		Outcome:        domain.OutcomeSucceeded,
		Balances:       balancesSnapshot(balances, req.FromAsset, req.ToAsset),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.now(),
	}

	stored, err := e.history.Append(record)
	if err != nil {
		// the transfer is already applied; surface the record even if the
		// audit write failed, but report the fault to the caller
		e.logger.Error("failed to append swap record",
			zap.String("user", req.UserID),
			zap.Error(err))
		return record, errors.Wrap(err, "append swap record")
	}

	e.logger.Info("swap executed",
		zap.String("user", req.UserID),
		zap.String("swap", stored.String()),
		zap.String("rate_source", quote.Source))

	e.emit(ctx, stored)
	return stored, nil
}

// keyLock returns the mutex serializing execution for one (user, key) pair.
func (e *Engine) keyLock(userID, idempotencyKey string) *sync.Mutex {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()

	key := userID + "|" + idempotencyKey
	lock, ok := e.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[key] = lock
	}
	return lock
}

// resolveRate returns a usable quote for the request pair: the provider's
// direct market when it exists, otherwise a cross rate composed through the
// pivot asset. The composed quote inherits the older leg's timestamp and is
// checked against the same staleness threshold.
func (e *Engine) resolveRate(ctx context.Context, req domain.SwapRequest) (domain.RateQuote, error) {
	direct, err := e.rates.GetQuote(ctx, domain.Pair{Base: req.FromAsset, Quote: req.ToAsset})
	if err == nil {
		return direct, nil
	}
	if !errors.Is(err, rates.ErrPairNotSupported) {
		return domain.RateQuote{}, err
	}

	fromLeg, err := e.pivotQuote(ctx, req.FromAsset)
	if err != nil {
		return domain.RateQuote{}, err
	}
	toLeg, err := e.pivotQuote(ctx, req.ToAsset)
	if err != nil {
		return domain.RateQuote{}, err
	}

	composed, err := domain.ComposeVia(fromLeg, toLeg)
	if err != nil {
		return domain.RateQuote{}, errors.Wrap(rates.ErrRateUnavailable, err.Error())
	}
	if composed.IsStale(e.rates.StaleAfter(), e.now()) {
		return domain.RateQuote{}, errors.Wrapf(rates.ErrRateUnavailable,
			"composed quote for %s is stale", composed.Pair.String())
	}
	return composed, nil
}

// pivotQuote prices the asset against the pivot; the pivot itself is the
// identity quote.
func (e *Engine) pivotQuote(ctx context.Context, asset string) (domain.RateQuote, error) {
	if asset == e.pivot {
		return domain.UnitQuote(asset, e.now()), nil
	}
	return e.rates.GetQuote(ctx, domain.Pair{Base: asset, Quote: e.pivot})
}

// reject records the failed attempt and returns its SwapRecord. History stays
// a complete audit trail: rejections are recorded, not just logged.
func (e *Engine) reject(ctx context.Context, req domain.SwapRequest, quote domain.RateQuote,
	reason domain.FailReason, message string) (domain.SwapRecord, error) {

	record := domain.SwapRecord{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		FromAsset:      req.FromAsset,
		FromAmount:     req.FromAmount,
		ToAsset:        req.ToAsset,
		Rate:           quote,
		Outcome:        domain.OutcomeRejected,
		Reason:         reason,
		Message:        message,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.now(),
	}

	// a request with no user cannot be attributed in history; reject without
	// an audit entry instead of failing the whole call
	if req.UserID == "" {
		e.logger.Info("swap rejected",
			zap.String("reason", string(reason)),
			zap.String("detail", message))
		return record, nil
	}

	stored, err := e.history.Append(record)
	if err != nil {
		e.logger.Error("failed to append rejection record",
			zap.String("user", req.UserID),
			zap.Error(err))
		return record, errors.Wrap(err, "append rejection record")
	}

	e.logger.Info("swap rejected",
		zap.String("user", req.UserID),
		zap.String("reason", string(reason)),
		zap.String("detail", message))

	e.emit(ctx, stored)
	return stored, nil
}

// emit hands the settled record to the notifier. Best-effort only.
func (e *Engine) emit(ctx context.Context, record domain.SwapRecord) {
	if e.notifier == nil {
		return
	}
	e.notifier.SwapExecuted(ctx, notify.Event{
		UserID:  record.UserID,
		Outcome: record.Outcome,
		Record:  record,
	})
}

// balancesSnapshot keeps only the two touched balances in the record so
// history stays compact while still showing the swap's effect.
func balancesSnapshot(balances map[string]decimal.Decimal, fromAsset, toAsset string) map[string]string {
	snap := make(map[string]string, 2)
	if v, ok := balances[fromAsset]; ok {
		snap[fromAsset] = v.String()
	}
	if v, ok := balances[toAsset]; ok {
		snap[toAsset] = v.String()
	}
	return snap
}
