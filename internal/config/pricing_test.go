package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPricingHolderDefaults(t *testing.T) {
	holder, err := NewPricingHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.InDelta(t, 50.00, cfg.DemandPricePerKG, 0.001)
	assert.InDelta(t, 100.00, cfg.DemandMinimumCharge, 0.001)
	assert.InDelta(t, 10.00, cfg.FinePerDay, 0.001)
	assert.Equal(t, 4, cfg.SignupGraceDays)
	assert.Equal(t, 1, cfg.DemandDueGraceDays)
	assert.Equal(t, 3650, cfg.PlaceholderDueDays)
}

func TestValidatePricingConfig(t *testing.T) {
	cfg := DefaultPricingConfig()
	assert.NoError(t, validatePricingConfig(cfg))

	bad := cfg
	bad.DemandPricePerKG = 0
	assert.Error(t, validatePricingConfig(bad))

	bad = cfg
	bad.FinePerDay = -1
	assert.Error(t, validatePricingConfig(bad))

	bad = cfg
	bad.SignupGraceDays = -1
	assert.Error(t, validatePricingConfig(bad))
}
