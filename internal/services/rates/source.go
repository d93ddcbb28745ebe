package rates

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/internal/domain"
	"github.com/vadiminshakov/obmen/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL bounds external call volume: a cached quote younger than
	// this is served without a network round trip.
	DefaultTTL = 30 * time.Second
	// DefaultStaleAfter is the hard staleness threshold: a quote older than
	// this is never used to execute a swap.
	DefaultStaleAfter = 2 * time.Minute
	// DefaultFetchTimeout bounds a single upstream fetch, retries included.
	DefaultFetchTimeout = 10 * time.Second
)

// Config tunes the rate source. Zero values fall back to the defaults above.
type Config struct {
	TTL          time.Duration
	StaleAfter   time.Duration
	FetchTimeout time.Duration
}

// Source serves rate quotes from a per-pair TTL cache, collapsing concurrent
// cache misses for the same pair into one upstream fetch.
type Source struct {
	provider Provider
	ttl      time.Duration
	stale    time.Duration
	timeout  time.Duration
	retrier  *retrier.Retrier
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]domain.RateQuote

	now func() time.Time
}

// NewSource creates a rate source on top of the provider.
func NewSource(provider Provider, cfg Config, logger *zap.Logger) (*Source, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.StaleAfter < cfg.TTL {
		return nil, errors.Errorf("staleness threshold %s must not be below cache TTL %s",
			cfg.StaleAfter, cfg.TTL)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	return &Source{
		provider: provider,
		ttl:      cfg.TTL,
		stale:    cfg.StaleAfter,
		timeout:  cfg.FetchTimeout,
		retrier:  retrier.New(),
		logger:   logger,
		cache:    make(map[string]domain.RateQuote),
		now:      time.Now,
	}, nil
}

// GetQuote returns a fresh quote for the pair, fetching from the provider on
// cache miss. It fails with ErrRateUnavailable instead of ever returning a
// stale or synthetic price, and with ErrPairNotSupported when the provider
// has no such market.
func (s *Source) GetQuote(ctx context.Context, pair domain.Pair) (domain.RateQuote, error) {
	key := pair.String()

	if quote, ok := s.cached(key); ok {
		return quote, nil
	}

	// Single-flight collapses concurrent misses for the same pair into one
	// upstream fetch. The fetch runs on its own bounded deadline so that the
	// first caller giving up does not poison the shared result.
	ch := s.group.DoChan(key, func() (any, error) {
		if quote, ok := s.cached(key); ok {
			return quote, nil
		}
		return s.fetch(pair)
	})

	select {
	case <-ctx.Done():
		return domain.RateQuote{}, errors.Wrap(ErrRateUnavailable, ctx.Err().Error())
	case res := <-ch:
		if res.Err != nil {
			return domain.RateQuote{}, res.Err
		}
		quote := res.Val.(domain.RateQuote)
		if quote.IsStale(s.stale, s.now()) {
			return domain.RateQuote{}, errors.Wrapf(ErrRateUnavailable,
				"quote for %s is stale (age %s)", key, quote.Age(s.now()))
		}
		return quote, nil
	}
}

// StaleAfter returns the configured staleness threshold, so callers can apply
// the same rule to composed cross rates.
func (s *Source) StaleAfter() time.Duration {
	return s.stale
}

func (s *Source) cached(key string) (domain.RateQuote, bool) {
	s.mu.RLock()
	quote, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok || quote.Age(s.now()) > s.ttl {
		return domain.RateQuote{}, false
	}
	return quote, true
}

func (s *Source) fetch(pair domain.Pair) (domain.RateQuote, error) {
	if sp, ok := s.provider.(interface{ Supports(domain.Pair) bool }); ok && !sp.Supports(pair) {
		return domain.RateQuote{}, errors.Wrap(ErrPairNotSupported, pair.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	price, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		price, err := s.provider.FetchPrice(ctx, pair)
		if err != nil && errors.Is(err, ErrPairNotSupported) {
			// a missing market is deterministic, retrying cannot help
			return price, retrier.Permanent(err)
		}
		return price, err
	})
	if err != nil {
		if errors.Is(err, ErrPairNotSupported) {
			return domain.RateQuote{}, err
		}
		s.logger.Warn("rate fetch failed",
			zap.String("pair", pair.String()),
			zap.String("provider", s.provider.Name()),
			zap.Error(err))
		return domain.RateQuote{}, errors.Wrapf(ErrRateUnavailable, "fetch %s: %s", pair.String(), err)
	}
	if !price.IsPositive() {
		return domain.RateQuote{}, errors.Wrapf(ErrRateUnavailable,
			"provider %s returned non-positive price %s for %s",
			s.provider.Name(), price.String(), pair.String())
	}

	quote := domain.RateQuote{
		Pair:      pair,
		Price:     price,
		FetchedAt: s.now(),
		Source:    s.provider.Name(),
	}

	s.mu.Lock()
	s.cache[pair.String()] = quote
	s.mu.Unlock()

	return quote, nil
}
