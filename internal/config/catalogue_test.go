package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/garagebook/internal/models"
)

func TestDefaultCatalogueIsValid(t *testing.T) {
	c := DefaultCatalogue()
	require.NoError(t, c.Validate())

	mot, ok := c.Lookup("mot_test")
	require.True(t, ok)
	assert.Equal(t, int64(5485), mot.FixedPence)
	assert.True(t, mot.VATInclusive)

	tyres, ok := c.Lookup("tyre_fitting")
	require.True(t, ok)
	assert.Equal(t, models.ResourceTyre, tyres.ResourceClass)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCatalogue(t *testing.T) {
	path := writeFile(t, `{
		"services": [
			{"id": "mot_test", "name": "MOT", "duration_minutes": 45, "resource_class": "service",
			 "pricing_mode": "fixed", "vat_inclusive": true, "fixed_price": 5485},
			{"id": "oil_change", "name": "Oil Change", "duration_minutes": 60, "resource_class": "service",
			 "pricing_mode": "tiered", "vat_inclusive": false,
			 "fuel_overrides": {"electric": 0},
			 "tiers": {"petrol": [{"max_engine_cc": 1600, "price": 6000}, {"max_engine_cc": 6000, "price": 8000}]}}
		]
	}`)

	c, err := LoadCatalogue(path)
	require.NoError(t, err)
	require.Len(t, c.Services, 2)

	oil := c.Services[1]
	assert.Equal(t, models.PricingTiered, oil.Mode)
	assert.Equal(t, int64(0), oil.FuelOverrides[models.FuelElectric])
	assert.Equal(t, []models.PriceTier{{MaxEngineCC: 1600, PricePence: 6000}, {MaxEngineCC: 6000, PricePence: 8000}}, oil.Tiers[models.FuelPetrol])
}

func TestLoadCatalogue_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed json":  `{"services": [`,
		"duplicate id":    `{"services": [{"id": "a", "duration_minutes": 30, "pricing_mode": "fixed"}, {"id": "a", "duration_minutes": 30, "pricing_mode": "fixed"}]}`,
		"no petrol table": `{"services": [{"id": "a", "duration_minutes": 30, "pricing_mode": "tiered", "tiers": {"diesel": [{"max_engine_cc": 2000, "price": 100}]}}]}`,
		"descending tier": `{"services": [{"id": "a", "duration_minutes": 30, "pricing_mode": "tiered", "tiers": {"petrol": [{"max_engine_cc": 2000, "price": 200}, {"max_engine_cc": 3000, "price": 100}]}}]}`,
		"unknown mode":    `{"services": [{"id": "a", "duration_minutes": 30, "pricing_mode": "auction"}]}`,
		"zero duration":   `{"services": [{"id": "a", "pricing_mode": "fixed"}]}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalogue(writeFile(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalogue(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
