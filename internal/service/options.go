package service

import (
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/config"
)

// Options holds the pricing and gating policy shared by the services.
type Options struct {
	RequirementMode              string
	DefaultRequiredBalance       decimal.Decimal
	StopPointBufferMin           decimal.Decimal
	StopPointBufferMax           decimal.Decimal
	ReferralLeftoverMin          decimal.Decimal
	ReferralLeftoverMax          decimal.Decimal
	FakeDisplayPriceMin          decimal.Decimal
	FakeDisplayPriceMax          decimal.Decimal
	ZeroReferrerRateOnDailyLimit bool
}

// OptionsFromConfig converts loaded configuration into service options.
func OptionsFromConfig(cfg *config.Config) Options {
	money := func(v float64) decimal.Decimal {
		return decimal.NewFromFloat(v).Round(2)
	}
	return Options{
		RequirementMode:              cfg.StopPoints.RequirementMode,
		DefaultRequiredBalance:       cfg.StopPoints.DefaultRequiredBalance(),
		StopPointBufferMin:           money(cfg.Pricing.StopPointBufferMin),
		StopPointBufferMax:           money(cfg.Pricing.StopPointBufferMax),
		ReferralLeftoverMin:          money(cfg.Pricing.ReferralLeftoverMin),
		ReferralLeftoverMax:          money(cfg.Pricing.ReferralLeftoverMax),
		FakeDisplayPriceMin:          money(cfg.Pricing.FakeDisplayPriceMin),
		FakeDisplayPriceMax:          money(cfg.Pricing.FakeDisplayPriceMax),
		ZeroReferrerRateOnDailyLimit: cfg.Commission.ZeroReferrerRateOnDailyLimit,
	}
}

// DefaultOptions returns the options produced by the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}
