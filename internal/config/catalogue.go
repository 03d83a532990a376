package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/langchou/garagebook/internal/models"
)

// LoadCatalogue 从 JSON 文件读取服务目录，价格单位为便士
func LoadCatalogue(path string) (*models.Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}

	var c models.Catalogue
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalogue: %w", err)
	}
	return &c, nil
}

// DefaultCatalogue 内置服务目录
func DefaultCatalogue() *models.Catalogue {
	return &models.Catalogue{
		Services: []models.Service{
			{
				ID:              "mot_test",
				Name:            "MOT Test",
				DurationMinutes: 45,
				ResourceClass:   models.ResourceService,
				Mode:            models.PricingFixed,
				VATInclusive:    true,
				FixedPence:      5485,
			},
			{
				ID:              "interim_service",
				Name:            "Interim Service",
				DurationMinutes: 90,
				ResourceClass:   models.ResourceService,
				Mode:            models.PricingTiered,
				VATInclusive:    true,
				FuelOverrides:   map[models.FuelType]int64{models.FuelElectric: 12900},
				Tiers: map[models.FuelType][]models.PriceTier{
					models.FuelPetrol: {{MaxEngineCC: 1600, PricePence: 14900}, {MaxEngineCC: 2000, PricePence: 16900}, {MaxEngineCC: 6000, PricePence: 18900}},
					models.FuelDiesel: {{MaxEngineCC: 2000, PricePence: 17900}, {MaxEngineCC: 6000, PricePence: 19900}},
				},
			},
			{
				ID:              "full_service",
				Name:            "Full Service",
				DurationMinutes: 180,
				ResourceClass:   models.ResourceService,
				Mode:            models.PricingTiered,
				VATInclusive:    true,
				FuelOverrides:   map[models.FuelType]int64{models.FuelElectric: 17900},
				Tiers: map[models.FuelType][]models.PriceTier{
					models.FuelPetrol: {
						{MaxEngineCC: 1000, PricePence: 19900},
						{MaxEngineCC: 1600, PricePence: 24500},
						{MaxEngineCC: 2000, PricePence: 27500},
						{MaxEngineCC: 3000, PricePence: 31500},
						{MaxEngineCC: 6000, PricePence: 35500},
					},
					models.FuelDiesel: {
						{MaxEngineCC: 1600, PricePence: 25500},
						{MaxEngineCC: 2000, PricePence: 28500},
						{MaxEngineCC: 3000, PricePence: 33500},
						{MaxEngineCC: 6000, PricePence: 37500},
					},
					models.FuelHybrid: {
						{MaxEngineCC: 1600, PricePence: 25500},
						{MaxEngineCC: 2500, PricePence: 29500},
					},
				},
			},
			{
				ID:              "brake_check",
				Name:            "Brake Inspection",
				DurationMinutes: 30,
				ResourceClass:   models.ResourceService,
				Mode:            models.PricingFixed,
				VATInclusive:    false,
				FixedPence:      2500,
			},
			{
				ID:              "tyre_fitting",
				Name:            "Tyre Fitting",
				DurationMinutes: 30,
				ResourceClass:   models.ResourceTyre,
				Mode:            models.PricingFixed,
				VATInclusive:    false,
				FixedPence:      1500,
			},
			{
				ID:              "wheel_alignment",
				Name:            "Wheel Alignment",
				DurationMinutes: 45,
				ResourceClass:   models.ResourceTyre,
				Mode:            models.PricingFixed,
				VATInclusive:    true,
				FixedPence:      4950,
			},
		},
	}
}
