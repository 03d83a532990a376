package service

import (
	"math"
	"strings"
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// 推荐服务 ID，与服务目录保持一致
const (
	RecommendMOT         = "mot_test"
	RecommendFullService = "full_service"
	RecommendBrakeCheck  = "brake_check"
	RecommendTyreFitting = "tyre_fitting"
)

// 定价分类
const (
	PricingElectric = "electric"
	PricingStandard = "standard"
	PricingSmall    = "small"
	PricingMedium   = "medium"
	PricingLarge    = "large"
)

// UnknownTyreSize 轮胎尺寸未命中时的占位
const UnknownTyreSize = "unknown"

// Policy 评分与分类阈值，可通过配置调整
type Policy struct {
	RecentTests int // 参与评分的最近检测次数

	DangerousWeight int
	MajorWeight     int
	MinorWeight     int
	AdvisoryWeight  int
	FailRatioWeight int

	LowRiskMin    int // score >= LowRiskMin 为低风险
	MediumRiskMin int

	NewMaxAge    int // age < NewMaxAge 为新车
	MatureMaxAge int // age <= MatureMaxAge 为成熟车

	SmallMaxCC  int
	MediumMaxCC int

	MOTDueWindow time.Duration

	TyreSizes []TyreSizeEntry
}

// TyreSizeEntry 轮胎尺寸表条目，年份为 0 表示不限
type TyreSizeEntry struct {
	Make     string
	Model    string // 型号前缀
	FromYear int
	ToYear   int
	Size     string
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		RecentTests:     5,
		DangerousWeight: 15,
		MajorWeight:     5,
		MinorWeight:     2,
		AdvisoryWeight:  1,
		FailRatioWeight: 20,
		LowRiskMin:      70,
		MediumRiskMin:   40,
		NewMaxAge:       3,
		MatureMaxAge:    10,
		SmallMaxCC:      1400,
		MediumMaxCC:     2000,
		MOTDueWindow:    30 * 24 * time.Hour,
		TyreSizes:       defaultTyreSizes,
	}
}

var defaultTyreSizes = []TyreSizeEntry{
	{Make: "FORD", Model: "FIESTA", ToYear: 2016, Size: "195/50 R15"},
	{Make: "FORD", Model: "FIESTA", FromYear: 2017, Size: "195/55 R16"},
	{Make: "FORD", Model: "FOCUS", Size: "205/55 R16"},
	{Make: "VOLKSWAGEN", Model: "GOLF", ToYear: 2019, Size: "205/55 R16"},
	{Make: "VOLKSWAGEN", Model: "GOLF", FromYear: 2020, Size: "225/45 R17"},
	{Make: "VOLKSWAGEN", Model: "POLO", Size: "185/65 R15"},
	{Make: "VAUXHALL", Model: "CORSA", Size: "185/65 R15"},
	{Make: "VAUXHALL", Model: "ASTRA", Size: "205/60 R16"},
	{Make: "TOYOTA", Model: "YARIS", Size: "185/60 R15"},
	{Make: "TOYOTA", Model: "PRIUS", Size: "215/45 R17"},
	{Make: "NISSAN", Model: "QASHQAI", Size: "215/60 R17"},
	{Make: "BMW", Model: "3 SERIES", Size: "225/45 R17"},
	{Make: "TESLA", Model: "MODEL 3", Size: "235/45 R18"},
}

// TyreSize 按品牌、型号、年份查表
func (p Policy) TyreSize(maker, model string, year int) string {
	maker = strings.ToUpper(strings.TrimSpace(maker))
	model = strings.ToUpper(strings.TrimSpace(model))
	if maker == "" || model == "" {
		return UnknownTyreSize
	}
	for _, e := range p.TyreSizes {
		if e.Make != maker || !strings.HasPrefix(model, e.Model) {
			continue
		}
		if year != 0 && ((e.FromYear != 0 && year < e.FromYear) || (e.ToYear != 0 && year > e.ToYear)) {
			continue
		}
		return e.Size
	}
	return UnknownTyreSize
}

// MaintenanceScore 基于最近 N 次检测的缺陷与不合格率打分；无记录返回 nil
func (p Policy) MaintenanceScore(tests []models.MOTTest) *int {
	if len(tests) == 0 {
		return nil
	}
	recent := tests
	if p.RecentTests > 0 && len(recent) > p.RecentTests {
		recent = recent[:p.RecentTests]
	}

	var dangerous, major, minor, advisory, failed int
	for _, t := range recent {
		if !t.Passed {
			failed++
		}
		for _, d := range t.Defects {
			switch d.Severity {
			case models.DefectDangerous:
				dangerous++
			case models.DefectMajor:
				major++
			case models.DefectMinor:
				minor++
			default:
				advisory++
			}
		}
	}

	failRatio := float64(failed) / float64(len(recent))
	score := 100 -
		p.DangerousWeight*dangerous -
		p.MajorWeight*major -
		p.MinorWeight*minor -
		p.AdvisoryWeight*advisory -
		int(math.Round(float64(p.FailRatioWeight)*failRatio))
	score = max(0, min(100, score))
	return &score
}

// Risk 风险评估；最近一次检测存在危险缺陷时一律为高风险
func (p Policy) Risk(score *int, latest *models.MOTTest, age models.AgeCategory) models.RiskLevel {
	if latest != nil && latest.HasDangerous() {
		return models.RiskHigh
	}
	if score == nil {
		if age == models.AgeNew {
			return models.RiskLow
		}
		return models.RiskMedium
	}
	switch {
	case *score >= p.LowRiskMin:
		return models.RiskLow
	case *score >= p.MediumRiskMin:
		return models.RiskMedium
	}
	return models.RiskHigh
}

// AgeCategory 按当前年份减生产年份分类
func (p Policy) AgeCategory(year int, now time.Time) models.AgeCategory {
	if year <= 0 {
		return models.AgeUnknown
	}
	age := now.Year() - year
	switch {
	case age < p.NewMaxAge:
		return models.AgeNew
	case age <= p.MatureMaxAge:
		return models.AgeMature
	}
	return models.AgeOlder
}

// PricingCategory 排量未知时为 standard
func (p Policy) PricingCategory(fuel models.FuelType, engineCC *int) string {
	switch {
	case fuel == models.FuelElectric:
		return PricingElectric
	case engineCC == nil:
		return PricingStandard
	case *engineCC <= p.SmallMaxCC:
		return PricingSmall
	case *engineCC <= p.MediumMaxCC:
		return PricingMedium
	}
	return PricingLarge
}

// Recommendations 根据 MOT 到期、最近一次检测的建议项与车龄给出推荐服务
func (p Policy) Recommendations(profile *models.VehicleProfile, now time.Time) []string {
	want := make(map[string]bool)

	expiry := profile.MOTExpiry
	if expiry == nil && len(profile.MOTHistory) > 0 {
		expiry = profile.MOTHistory[0].ExpiryDate
	}
	if expiry != nil && !expiry.After(now.Add(p.MOTDueWindow)) {
		want[RecommendMOT] = true
	}
	if strings.EqualFold(profile.MOTStatus, "Not valid") {
		want[RecommendMOT] = true
	}

	if len(profile.MOTHistory) > 0 {
		for _, d := range profile.MOTHistory[0].Defects {
			text := strings.ToLower(d.Text)
			switch {
			case strings.Contains(text, "tyre"):
				want[RecommendTyreFitting] = true
			case strings.Contains(text, "brake"):
				want[RecommendBrakeCheck] = true
			case strings.Contains(text, "suspension"), strings.Contains(text, "shock absorber"):
				want[RecommendFullService] = true
			}
		}
	}
	if profile.AgeCategory == models.AgeOlder {
		want[RecommendFullService] = true
	}

	out := []string{}
	for _, id := range []string{RecommendMOT, RecommendFullService, RecommendBrakeCheck, RecommendTyreFitting} {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}
