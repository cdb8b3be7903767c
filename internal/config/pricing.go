package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingConfig holds the money knobs of the billing core: demand pricing,
// overdue fines and payment grace windows.
type PricingConfig struct {
	DemandPricePerKG    float64 `mapstructure:"demandPricePerKg"`
	DemandMinimumCharge float64 `mapstructure:"demandMinimumCharge"`
	FinePerDay          float64 `mapstructure:"finePerDay"`
	SignupGraceDays     int     `mapstructure:"signupGraceDays"`
	DemandDueGraceDays  int     `mapstructure:"demandDueGraceDays"`
	// PlaceholderDueDays pushes a demand payment's due date far into the
	// future until weighing makes the real amount known.
	PlaceholderDueDays int `mapstructure:"placeholderDueDays"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		DemandPricePerKG:    50.00,
		DemandMinimumCharge: 100.00,
		FinePerDay:          10.00,
		SignupGraceDays:     4,
		DemandDueGraceDays:  1,
		PlaceholderDueDays:  3650,
	}
}

// PricingHolder exposes the current pricing config and hot-reloads it when
// the backing file changes.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder(logger *zap.Logger) (*PricingHolder, error) {
	log := logger.Named("config.pricing")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/washline/config")
	v.AddConfigPath("/etc/washline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WASHLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	v.SetDefault("pricing.demandPricePerKg", defaults.DemandPricePerKG)
	v.SetDefault("pricing.demandMinimumCharge", defaults.DemandMinimumCharge)
	v.SetDefault("pricing.finePerDay", defaults.FinePerDay)
	v.SetDefault("pricing.signupGraceDays", defaults.SignupGraceDays)
	v.SetDefault("pricing.demandDueGraceDays", defaults.DemandDueGraceDays)
	v.SetDefault("pricing.placeholderDueDays", defaults.PlaceholderDueDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Warn("pricing reload failed", zap.Error(err))
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Warn("invalid pricing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// NewStaticPricingHolder builds a holder around a fixed config, for tests.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.DemandPricePerKG <= 0 {
		return errors.New("pricing.demandPricePerKg must be positive")
	}
	if cfg.DemandMinimumCharge < 0 {
		return errors.New("pricing.demandMinimumCharge cannot be negative")
	}
	if cfg.FinePerDay < 0 {
		return errors.New("pricing.finePerDay cannot be negative")
	}
	if cfg.SignupGraceDays < 0 || cfg.DemandDueGraceDays < 0 {
		return errors.New("pricing grace days cannot be negative")
	}
	return nil
}
