package models

import (
	"fmt"
	"time"
)

// PricingMode 定价方式
type PricingMode string

const (
	PricingFixed  PricingMode = "fixed"
	PricingTiered PricingMode = "tiered"
)

// Resource classes
const (
	ResourceService = "service"
	ResourceTyre    = "tyre"
)

// PriceTier 排量档位
type PriceTier struct {
	MaxEngineCC int   `json:"max_engine_cc"`
	PricePence  int64 `json:"price"`
}

// Service 服务目录条目
type Service struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	DurationMinutes int                      `json:"duration_minutes"`
	ResourceClass   string                   `json:"resource_class"`
	Mode            PricingMode              `json:"pricing_mode"`
	VATInclusive    bool                     `json:"vat_inclusive"`
	FixedPence      int64                    `json:"fixed_price,omitempty"`
	FuelOverrides   map[FuelType]int64       `json:"fuel_overrides,omitempty"` // 指定燃料的固定价，优先于档位
	Tiers           map[FuelType][]PriceTier `json:"tiers,omitempty"`
}

// Validate 校验服务配置，档位必须按排量严格升序且价格不递减
func (s Service) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("service id is empty")
	}
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("service %s: duration must be positive", s.ID)
	}
	switch s.Mode {
	case PricingFixed:
		if s.FixedPence < 0 {
			return fmt.Errorf("service %s: negative fixed price", s.ID)
		}
	case PricingTiered:
		if len(s.Tiers[FuelPetrol]) == 0 {
			return fmt.Errorf("service %s: tiered pricing requires a petrol table", s.ID)
		}
		for fuel, tiers := range s.Tiers {
			for i := 1; i < len(tiers); i++ {
				if tiers[i].MaxEngineCC <= tiers[i-1].MaxEngineCC {
					return fmt.Errorf("service %s: %s tiers not ascending at %d", s.ID, fuel, i)
				}
				if tiers[i].PricePence < tiers[i-1].PricePence {
					return fmt.Errorf("service %s: %s tier price decreases at %d", s.ID, fuel, i)
				}
			}
		}
	default:
		return fmt.Errorf("service %s: unknown pricing mode %q", s.ID, s.Mode)
	}
	return nil
}

// Catalogue 有序服务目录
type Catalogue struct {
	Services []Service `json:"services"`
}

// Lookup 按 ID 查找服务
func (c *Catalogue) Lookup(id string) (Service, bool) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Validate 校验全部服务
func (c *Catalogue) Validate() error {
	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if seen[s.ID] {
			return fmt.Errorf("duplicate service id %s", s.ID)
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DayHours 单日营业时间，Open/Close 为当天零点起的分钟数
type DayHours struct {
	Closed bool `json:"closed"`
	Open   int  `json:"open"`
	Close  int  `json:"close"`
}

// OpeningHours 每周营业时间
type OpeningHours map[time.Weekday]DayHours

// Resource 工位
type Resource struct {
	ID    string `json:"id"`
	Class string `json:"class"`
}
