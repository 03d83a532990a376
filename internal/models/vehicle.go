package models

import (
	"strings"
	"time"
)

// FuelType 归一化燃料类型
type FuelType string

const (
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
	FuelHybrid   FuelType = "hybrid"
	FuelElectric FuelType = "electric"
	FuelUnknown  FuelType = "unknown"
)

// NormalizeFuelType 将上游返回的燃料描述归一化
// DVLA 返回 "PETROL" / "HYBRID ELECTRIC" / "ELECTRICITY"，DVSA 返回 "Petrol" / "Electric" 等
func NormalizeFuelType(raw string) FuelType {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return FuelUnknown
	case strings.Contains(s, "hybrid"):
		return FuelHybrid
	case strings.HasPrefix(s, "elec"):
		return FuelElectric
	case strings.Contains(s, "diesel"), s == "heavy oil":
		return FuelDiesel
	case strings.Contains(s, "petrol"), s == "gasoline":
		return FuelPetrol
	}
	return FuelUnknown
}

// RiskLevel 风险评估
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AgeCategory 车龄分类
type AgeCategory string

const (
	AgeNew     AgeCategory = "new"
	AgeMature  AgeCategory = "mature"
	AgeOlder   AgeCategory = "older"
	AgeUnknown AgeCategory = "unknown"
)

// DataSource 数据来源
type DataSource string

const (
	SourceRegistry          DataSource = "registry"
	SourceInspectionHistory DataSource = "inspection-history"
	SourceMock              DataSource = "mock"
)

// DefectSeverity 缺陷等级
type DefectSeverity string

const (
	DefectAdvisory  DefectSeverity = "advisory"
	DefectMinor     DefectSeverity = "minor"
	DefectMajor     DefectSeverity = "major"
	DefectDangerous DefectSeverity = "dangerous"
)

// Defect MOT 缺陷记录
type Defect struct {
	Text     string         `json:"text"`
	Severity DefectSeverity `json:"severity"`
}

// MOTTest 单次 MOT 检测记录
type MOTTest struct {
	CompletedAt   time.Time  `json:"completed_at"`
	Passed        bool       `json:"passed"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	OdometerValue *int       `json:"odometer_value,omitempty"`
	OdometerUnit  string     `json:"odometer_unit,omitempty"` // mi / km
	TestNumber    string     `json:"test_number,omitempty"`
	Defects       []Defect   `json:"defects"`
}

// HasDangerous 检测中是否存在危险缺陷
func (t MOTTest) HasDangerous() bool {
	for _, d := range t.Defects {
		if d.Severity == DefectDangerous {
			return true
		}
	}
	return false
}

// VehicleProfile 合并后的车辆档案，构建后不再修改
type VehicleProfile struct {
	Registration     string       `json:"registration"`
	Make             string       `json:"make"`
	Model            string       `json:"model"`
	Colour           string       `json:"colour"`
	Year             int          `json:"year,omitempty"`
	FuelType         FuelType     `json:"fuel_type"`
	EngineCC         *int         `json:"engine_cc"`
	TyreSize         string       `json:"tyre_size"`
	RiskAssessment   RiskLevel    `json:"risk_assessment"`
	MaintenanceScore *int         `json:"maintenance_score"`
	AgeCategory      AgeCategory  `json:"age_category"`
	PricingCategory  string       `json:"pricing_category"`
	MOTStatus        string       `json:"mot_status,omitempty"`
	MOTExpiry        *time.Time   `json:"mot_expiry,omitempty"`
	TaxStatus        string       `json:"tax_status,omitempty"`
	MOTHistory       []MOTTest    `json:"mot_history"`
	Recommendations  []string     `json:"recommendations"`
	DataSources      []DataSource `json:"data_sources"`
	FetchedAt        time.Time    `json:"fetched_at"`
}

// HasSource 是否包含指定来源
func (p *VehicleProfile) HasSource(src DataSource) bool {
	for _, s := range p.DataSources {
		if s == src {
			return true
		}
	}
	return false
}

// NormalizeRegistration 去除空格与连字符并转为大写
func NormalizeRegistration(reg string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(reg) {
		if r == ' ' || r == '-' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidRegistration 检查归一化后的车牌格式
// 英国车牌 2-7 位字母数字，至少包含一个字母和一个数字
func ValidRegistration(reg string) bool {
	if len(reg) < 2 || len(reg) > 7 {
		return false
	}
	var letters, digits int
	for _, r := range reg {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		default:
			return false
		}
	}
	return letters > 0 && digits > 0
}
