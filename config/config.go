package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs at startup.
type Config struct {
	Provider     string
	PivotAsset   string
	RateTTL      time.Duration
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	DataDir      string
	ListenAddr   string
	AMQPURL      string
	SeedAsset    string
	SeedAmount   decimal.Decimal
}

type ConfigTmp struct {
	Provider      string        `yaml:"provider"`
	PivotAsset    string        `yaml:"pivot_asset,omitempty"`
	RateTTL       time.Duration `yaml:"rate_ttl,omitempty"`
	StaleAfter    time.Duration `yaml:"stale_after,omitempty"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout,omitempty"`
	DataDir       string        `yaml:"data_dir,omitempty"`
	ListenAddr    string        `yaml:"listen_addr,omitempty"`
	AMQPURL       string        `yaml:"amqp_url,omitempty"`
	SeedAsset     string        `yaml:"seed_asset,omitempty"`
	SeedAmountStr string        `yaml:"seed_amount,omitempty"`
}

var knownProviders = map[string]struct{}{
	"coingecko": {},
	"binance":   {},
	"bybit":     {},
}

// Get reads configuration from the yaml file named by --config, or from
// individual CLI flags when no file is given.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	provider := flag.String("provider", "coingecko", "rate provider: coingecko, binance or bybit")
	pivot := flag.String("pivot", "USD", "pivot asset for cross-rate composition")
	rateTTL := flag.Duration("ratettl", 30*time.Second, "rate cache TTL")
	staleAfter := flag.Duration("staleafter", 2*time.Minute, "max quote age before it is rejected")
	fetchTimeout := flag.Duration("fetchtimeout", 10*time.Second, "upstream rate fetch timeout")
	dataDir := flag.String("datadir", "data", "directory for wallets and swap history")
	listenAddr := flag.String("listen", ":8080", "http listen address")
	amqpURL := flag.String("amqp", "", "rabbitmq url, empty disables amqp notifications")
	seedAsset := flag.String("seedasset", "USD", "asset new wallets are seeded with")
	seedAmount := flag.String("seedamount", "0", "amount new wallets are seeded with, 0 disables seeding")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	seed, err := decimal.NewFromString(*seedAmount)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --seedamount provided, --seedamount=%s", *seedAmount)
	}

	cfg := Config{
		Provider:     *provider,
		PivotAsset:   *pivot,
		RateTTL:      *rateTTL,
		StaleAfter:   *staleAfter,
		FetchTimeout: *fetchTimeout,
		DataDir:      *dataDir,
		ListenAddr:   *listenAddr,
		AMQPURL:      *amqpURL,
		SeedAsset:    *seedAsset,
		SeedAmount:   seed,
	}
	return cfg, cfg.validate()
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Provider:     tmp.Provider,
		PivotAsset:   tmp.PivotAsset,
		RateTTL:      tmp.RateTTL,
		StaleAfter:   tmp.StaleAfter,
		FetchTimeout: tmp.FetchTimeout,
		DataDir:      tmp.DataDir,
		ListenAddr:   tmp.ListenAddr,
		AMQPURL:      tmp.AMQPURL,
		SeedAsset:    tmp.SeedAsset,
	}

	if tmp.SeedAmountStr != "" {
		cfg.SeedAmount, err = decimal.NewFromString(tmp.SeedAmountStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'seed_amount' param in yaml config (must be a decimal), error: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.PivotAsset == "" {
		c.PivotAsset = "USD"
	}
	if c.RateTTL == 0 {
		c.RateTTL = 30 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.SeedAsset == "" {
		c.SeedAsset = "USD"
	}
}

func (c Config) validate() error {
	if _, ok := knownProviders[c.Provider]; !ok {
		return fmt.Errorf("unknown provider %q, expected coingecko, binance or bybit", c.Provider)
	}
	if c.StaleAfter < c.RateTTL {
		return fmt.Errorf("stale_after (%s) must not be below rate_ttl (%s)", c.StaleAfter, c.RateTTL)
	}
	if c.SeedAmount.IsNegative() {
		return fmt.Errorf("seed_amount must not be negative, got %s", c.SeedAmount)
	}
	return nil
}
