package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/config"
	"github.com/langchou/garagebook/internal/models"
)

func intPtr(v int) *int { return &v }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultCatalogue(), zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestQuote_FullServicePetrol1400(t *testing.T) {
	q, err := newEngine(t).Quote("full_service", models.FuelPetrol, intPtr(1400))
	require.NoError(t, err)

	assert.Equal(t, int64(24500), q.TotalPence)
	assert.Equal(t, int64(24500), q.BasePence, "vat inclusive price passes through")
	assert.Equal(t, int64(4083), q.VATPence)
	assert.Equal(t, "GBP", q.Currency)
	assert.Equal(t, "<=1600cc", q.Tier)
	assert.False(t, q.Warning)
}

func TestQuote_Tiers(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name  string
		fuel  models.FuelType
		cc    *int
		total int64
		warn  bool
	}{
		{"exact tier boundary", models.FuelPetrol, intPtr(1600), 24500, false},
		{"first tier", models.FuelPetrol, intPtr(998), 19900, false},
		{"above all tiers", models.FuelPetrol, intPtr(6500), 35500, false},
		{"unknown capacity uses highest tier", models.FuelPetrol, nil, 35500, false},
		{"diesel table", models.FuelDiesel, intPtr(1968), 28500, false},
		{"hybrid above table", models.FuelHybrid, intPtr(3500), 29500, false},
		{"electric override", models.FuelElectric, nil, 17900, false},
		{"unknown fuel falls back to petrol", models.FuelUnknown, intPtr(1400), 24500, true},
		{"unrecognised fuel string", models.FuelType("LPG"), intPtr(1400), 24500, true},
		{"raw registry fuel string", models.FuelType("HEAVY OIL"), intPtr(1968), 28500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Quote("full_service", tt.fuel, tt.cc)
			require.NoError(t, err)
			assert.Equal(t, tt.total, q.TotalPence)
			assert.Equal(t, tt.warn, q.Warning)
			if tt.warn {
				assert.NotEmpty(t, q.WarningMsg)
			}
		})
	}
}

func TestQuote_FixedAddsVAT(t *testing.T) {
	q, err := newEngine(t).Quote("brake_check", models.FuelDiesel, intPtr(2000))
	require.NoError(t, err)

	assert.Equal(t, int64(2500), q.BasePence)
	assert.Equal(t, int64(500), q.VATPence)
	assert.Equal(t, int64(3000), q.TotalPence)
	assert.Equal(t, "fixed", q.Tier)
}

func TestQuote_FixedIgnoresEngine(t *testing.T) {
	e := newEngine(t)
	a, err := e.Quote("mot_test", models.FuelPetrol, intPtr(998))
	require.NoError(t, err)
	b, err := e.Quote("mot_test", models.FuelUnknown, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(5485), a.TotalPence)
	assert.Equal(t, a.TotalPence, b.TotalPence)
	assert.False(t, b.Warning, "fixed prices never warn")
}

func TestQuote_UnknownService(t *testing.T) {
	_, err := newEngine(t).Quote("valeting", models.FuelPetrol, intPtr(1400))
	assert.ErrorIs(t, err, models.ErrUnknownService)
	assert.Contains(t, err.Error(), "valeting")
}

func TestQuote_MonotonicInCapacity(t *testing.T) {
	e := newEngine(t)
	for _, svc := range e.Services() {
		for _, fuel := range []models.FuelType{models.FuelPetrol, models.FuelDiesel, models.FuelHybrid, models.FuelElectric, models.FuelUnknown} {
			var prev int64
			for cc := 0; cc <= 7000; cc += 50 {
				q, err := e.Quote(svc.ID, fuel, intPtr(cc))
				require.NoError(t, err)
				assert.GreaterOrEqual(t, q.TotalPence, prev, "%s/%s at %dcc", svc.ID, fuel, cc)
				prev = q.TotalPence
			}
		}
	}
}

func TestNewEngine_RejectsBadTiers(t *testing.T) {
	tests := []struct {
		name  string
		tiers []models.PriceTier
	}{
		{"not ascending", []models.PriceTier{{MaxEngineCC: 2000, PricePence: 100}, {MaxEngineCC: 1600, PricePence: 200}}},
		{"duplicate capacity", []models.PriceTier{{MaxEngineCC: 1600, PricePence: 100}, {MaxEngineCC: 1600, PricePence: 200}}},
		{"price decreases", []models.PriceTier{{MaxEngineCC: 1600, PricePence: 300}, {MaxEngineCC: 2000, PricePence: 200}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &models.Catalogue{Services: []models.Service{{
				ID:              "full_service",
				DurationMinutes: 60,
				ResourceClass:   models.ResourceService,
				Mode:            models.PricingTiered,
				Tiers:           map[models.FuelType][]models.PriceTier{models.FuelPetrol: tt.tiers},
			}}}
			_, err := NewEngine(cat, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestNewEngine_RequiresPetrolTable(t *testing.T) {
	cat := &models.Catalogue{Services: []models.Service{{
		ID:              "full_service",
		DurationMinutes: 60,
		Mode:            models.PricingTiered,
		Tiers:           map[models.FuelType][]models.PriceTier{models.FuelDiesel: {{MaxEngineCC: 2000, PricePence: 100}}},
	}}}
	_, err := NewEngine(cat, zap.NewNop())
	assert.Error(t, err)
}
