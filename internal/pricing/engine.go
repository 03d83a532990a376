// Package pricing 服务报价：固定价与按燃料/排量分档定价
package pricing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/models"
)

// VATPercent 增值税率
const VATPercent = 20

// Currency 报价币种
const Currency = "GBP"

// Engine 报价引擎，无状态
type Engine struct {
	catalogue *models.Catalogue
	logger    *zap.Logger
}

// NewEngine 校验服务目录并创建报价引擎
func NewEngine(catalogue *models.Catalogue, logger *zap.Logger) (*Engine, error) {
	if err := catalogue.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalogue: %w", err)
	}
	return &Engine{catalogue: catalogue, logger: logger}, nil
}

// Services 有序服务列表
func (e *Engine) Services() []models.Service {
	return e.catalogue.Services
}

// Service 查找服务
func (e *Engine) Service(id string) (models.Service, error) {
	svc, ok := e.catalogue.Lookup(id)
	if !ok {
		return models.Service{}, fmt.Errorf("%w: %s", models.ErrUnknownService, id)
	}
	return svc, nil
}

// Quote 计算报价；燃料未知时按汽油档位并设置警告标记
func (e *Engine) Quote(serviceID string, fuel models.FuelType, engineCC *int) (models.PriceQuote, error) {
	svc, err := e.Service(serviceID)
	if err != nil {
		return models.PriceQuote{}, err
	}

	fuel = canonicalFuel(fuel)
	q := models.PriceQuote{
		ServiceID: serviceID,
		FuelType:  fuel,
		EngineCC:  engineCC,
		Currency:  Currency,
	}

	var base int64
	switch svc.Mode {
	case models.PricingFixed:
		base = svc.FixedPence
		q.Tier = "fixed"
		if p, ok := svc.FuelOverrides[fuel]; ok {
			base = p
			q.Tier = string(fuel)
		}
	case models.PricingTiered:
		if p, ok := svc.FuelOverrides[fuel]; ok {
			base = p
			q.Tier = string(fuel)
			break
		}
		tiers := svc.Tiers[fuel]
		if fuel == models.FuelUnknown || len(tiers) == 0 {
			tiers = svc.Tiers[models.FuelPetrol]
			q.Warning = true
			q.WarningMsg = fmt.Sprintf("no %s pricing for %s, petrol tiers applied", fuel, serviceID)
			e.logger.Warn("Quote fell back to petrol tiers",
				zap.String("service_id", serviceID),
				zap.String("fuel_type", string(fuel)))
		}
		tier := matchTier(tiers, engineCC)
		base = tier.PricePence
		q.Tier = fmt.Sprintf("<=%dcc", tier.MaxEngineCC)
	}

	q.BasePence = base
	if svc.VATInclusive {
		q.TotalPence = base
		q.VATPence = divRound(base*VATPercent, 100+VATPercent)
	} else {
		q.VATPence = divRound(base*VATPercent, 100)
		q.TotalPence = base + q.VATPence
	}
	return q, nil
}

// matchTier 第一个 max 不小于排量的档位；排量未知或超出全部档位时取最高档
func matchTier(tiers []models.PriceTier, engineCC *int) models.PriceTier {
	if engineCC != nil {
		for _, t := range tiers {
			if t.MaxEngineCC >= *engineCC {
				return t
			}
		}
	}
	return tiers[len(tiers)-1]
}

func canonicalFuel(f models.FuelType) models.FuelType {
	switch f {
	case models.FuelPetrol, models.FuelDiesel, models.FuelHybrid, models.FuelElectric, models.FuelUnknown:
		return f
	}
	return models.NormalizeFuelType(string(f))
}

// divRound 四舍五入整除
func divRound(a, b int64) int64 {
	return (a + b/2) / b
}
