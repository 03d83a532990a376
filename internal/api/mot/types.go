package mot

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// vehicleResponse DVSA MOT History 响应
type vehicleResponse struct {
	Registration    string            `json:"registration"`
	Make            string            `json:"make"`
	Model           string            `json:"model"`
	FirstUsedDate   string            `json:"firstUsedDate"`
	FuelType        string            `json:"fuelType"`
	PrimaryColour   string            `json:"primaryColour"`
	EngineSize      string            `json:"engineSize"`
	ManufactureDate string            `json:"manufactureDate"`
	MOTTests        []motTestResponse `json:"motTests"`
}

type motTestResponse struct {
	CompletedDate string           `json:"completedDate"`
	TestResult    string           `json:"testResult"`
	ExpiryDate    string           `json:"expiryDate"`
	OdometerValue string           `json:"odometerValue"`
	OdometerUnit  string           `json:"odometerUnit"`
	MOTTestNumber string           `json:"motTestNumber"`
	Defects       []defectResponse `json:"defects"`
}

type defectResponse struct {
	Text      string `json:"text"`
	Type      string `json:"type"`
	Dangerous bool   `json:"dangerous"`
}

// History 解析后的 MOT 历史，Tests 按时间倒序
type History struct {
	Registration string           `json:"registration"`
	Make         string           `json:"make,omitempty"`
	Model        string           `json:"model,omitempty"`
	Colour       string           `json:"colour,omitempty"`
	FuelType     models.FuelType  `json:"fuel_type,omitempty"`
	EngineCC     *int             `json:"engine_cc,omitempty"`
	Year         int              `json:"year,omitempty"`
	Tests        []models.MOTTest `json:"tests"`
}

func (r *vehicleResponse) toHistory(reg string) *History {
	h := &History{
		Registration: reg,
		Make:         r.Make,
		Model:        r.Model,
		Colour:       r.PrimaryColour,
		FuelType:     models.NormalizeFuelType(r.FuelType),
		Tests:        make([]models.MOTTest, 0, len(r.MOTTests)),
	}
	if cc, err := strconv.Atoi(strings.TrimSpace(r.EngineSize)); err == nil && cc > 0 {
		h.EngineCC = &cc
	}
	for _, layout := range []string{"2006-01-02", "2006.01.02"} {
		if t, err := time.Parse(layout, firstNonEmpty(r.ManufactureDate, r.FirstUsedDate)); err == nil {
			h.Year = t.Year()
			break
		}
	}

	for _, mt := range r.MOTTests {
		test, ok := mt.toTest()
		if !ok {
			continue
		}
		h.Tests = append(h.Tests, test)
	}
	sort.SliceStable(h.Tests, func(i, j int) bool {
		return h.Tests[i].CompletedAt.After(h.Tests[j].CompletedAt)
	})
	return h
}

func (mt *motTestResponse) toTest() (models.MOTTest, bool) {
	completed, err := time.Parse(time.RFC3339, mt.CompletedDate)
	if err != nil {
		return models.MOTTest{}, false
	}

	test := models.MOTTest{
		CompletedAt:  completed,
		Passed:       strings.EqualFold(mt.TestResult, "PASSED"),
		OdometerUnit: strings.ToLower(mt.OdometerUnit),
		TestNumber:   mt.MOTTestNumber,
		Defects:      make([]models.Defect, 0, len(mt.Defects)),
	}
	if exp, err := time.Parse("2006-01-02", mt.ExpiryDate); err == nil {
		test.ExpiryDate = &exp
	}
	if odo, err := strconv.Atoi(mt.OdometerValue); err == nil {
		test.OdometerValue = &odo
	}
	for _, d := range mt.Defects {
		test.Defects = append(test.Defects, models.Defect{Text: d.Text, Severity: severity(d)})
	}
	return test, true
}

// severity 映射 DVSA 缺陷类型
// FAIL 与 PRS（检测站当场修复）按 major 计
func severity(d defectResponse) models.DefectSeverity {
	if d.Dangerous {
		return models.DefectDangerous
	}
	switch strings.ToUpper(d.Type) {
	case "DANGEROUS":
		return models.DefectDangerous
	case "MAJOR", "FAIL", "PRS":
		return models.DefectMajor
	case "MINOR":
		return models.DefectMinor
	}
	return models.DefectAdvisory
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
