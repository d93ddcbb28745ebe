// Package setup provides a terminal wizard that generates a service config.
package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/obmen/config"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// GeneratedConfigFile is where the wizard saves its result.
const GeneratedConfigFile = "config.gen.yaml"

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		provider   string
		pivot      string
		rateTTLStr string
		dataDir    string
		listenAddr string
		amqpURL    string
		seedAmount string
		confirm    bool
	)

	// defaults
	pivot = "USD"
	rateTTLStr = "30s"
	dataDir = "data"
	listenAddr = ":8080"
	seedAmount = "10000"

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("OBMEN CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's set up your swap service.\n"))

	// provider
	fmt.Println(stepStyle.Render("STEP 1: RATE PROVIDER"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose your rate provider").
				Options(
					huh.NewOption("CoinGecko (no API key needed)", "coingecko"),
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&provider),
		),
	).Run()
	if err != nil {
		return err
	}

	// rates
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("OBMEN CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: RATES"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Pivot Asset").
				Description("Cross rates for unlisted pairs go through this asset").
				Value(&pivot).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("pivot asset cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Rate Cache TTL").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&rateTTLStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// service
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("OBMEN CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: SERVICE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data Directory").
				Description("Wallets and swap history live here").
				Value(&dataDir),
			huh.NewInput().
				Title("HTTP Listen Address").
				Value(&listenAddr),
			huh.NewInput().
				Title("RabbitMQ URL").
				Description("Optional, empty disables AMQP notifications").
				Value(&amqpURL),
			huh.NewInput().
				Title("New Wallet Seed (USD)").
				Description("Amount credited to every new wallet, 0 disables").
				Value(&seedAmount).
				Validate(validateSeedAmount),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("OBMEN CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Provider: %s\nPivot: %s\nRate TTL: %s\nData Dir: %s\nListen: %s\nSeed: %s USD\n",
		provider, pivot, rateTTLStr, dataDir, listenAddr, seedAmount,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	rateTTL, _ := time.ParseDuration(rateTTLStr)

	cfgTmp := config.ConfigTmp{
		Provider:      provider,
		PivotAsset:    pivot,
		RateTTL:       rateTTL,
		DataDir:       dataDir,
		ListenAddr:    listenAddr,
		AMQPURL:       amqpURL,
		SeedAsset:     "USD",
		SeedAmountStr: seedAmount,
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	if err := os.WriteFile(GeneratedConfigFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\nSaved %s. Start the service with --config %s\n", GeneratedConfigFile, GeneratedConfigFile)))
	return nil
}

func validateSeedAmount(s string) error {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a decimal number")
	}
	if amount.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
