// Package mock 未配置凭证时使用的确定性模拟数据源
package mock

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/langchou/garagebook/internal/api/mot"
	"github.com/langchou/garagebook/internal/api/registry"
	"github.com/langchou/garagebook/internal/api/upstream"
	"github.com/langchou/garagebook/internal/metrics"
	"github.com/langchou/garagebook/internal/models"
)

type fleetEntry struct {
	make, model, colour string
	fuel                models.FuelType
	cc                  int
	age                 int
}

var fleet = []fleetEntry{
	{"FORD", "FIESTA", "BLUE", models.FuelPetrol, 998, 6},
	{"VOLKSWAGEN", "GOLF", "GREY", models.FuelDiesel, 1968, 9},
	{"TOYOTA", "YARIS", "WHITE", models.FuelHybrid, 1490, 2},
	{"TESLA", "MODEL 3", "BLACK", models.FuelElectric, 0, 3},
	{"VAUXHALL", "CORSA", "RED", models.FuelPetrol, 1398, 13},
	{"BMW", "3 SERIES", "SILVER", models.FuelDiesel, 1995, 7},
}

func pick(reg string) fleetEntry {
	h := fnv.New32a()
	h.Write([]byte(reg))
	return fleet[h.Sum32()%uint32(len(fleet))]
}

// Registry 模拟登记查询
type Registry struct {
	Now      func() time.Time
	Recorder metrics.Recorder
}

// Source 数据来源标记
func (r *Registry) Source() models.DataSource { return models.SourceMock }

// Lookup 返回确定性的模拟登记数据
func (r *Registry) Lookup(ctx context.Context, registration string, _ bool) (*registry.Vehicle, error) {
	reg := models.NormalizeRegistration(registration)
	r.record(ctx)
	if !models.ValidRegistration(reg) {
		return nil, upstream.InvalidInput(registry.APIName, registration, "malformed registration")
	}

	e := pick(reg)
	now := r.now()
	v := &registry.Vehicle{
		Registration: reg,
		Make:         e.make,
		Colour:       e.colour,
		Year:         now.Year() - e.age,
		FuelType:     e.fuel,
		MOTStatus:    "Valid",
		TaxStatus:    "Taxed",
	}
	if e.cc > 0 {
		cc := e.cc
		v.EngineCC = &cc
	}
	if e.age >= 3 {
		exp := now.AddDate(0, 2, 0)
		v.MOTExpiry = &exp
	} else {
		v.MOTStatus = "No details held by DVLA"
	}
	return v, nil
}

// Invalidate 无缓存
func (r *Registry) Invalidate(context.Context, string) error { return nil }

// TestConnection 总是可用
func (r *Registry) TestConnection(context.Context) (upstream.ConnectionStatus, error) {
	return upstream.ConnectionStatus{API: registry.APIName, OK: true, Message: "mock data"}, nil
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) record(ctx context.Context) {
	if r.Recorder != nil {
		r.Recorder.RecordCall(ctx, registry.APIName, false, nil)
	}
}

// History 模拟 MOT 历史
type History struct {
	Now      func() time.Time
	Recorder metrics.Recorder
}

// Source 数据来源标记
func (h *History) Source() models.DataSource { return models.SourceMock }

// Lookup 按车龄生成每年一次的检测记录，三年内新车无记录
func (h *History) Lookup(ctx context.Context, registration string, _ bool) (*mot.History, error) {
	reg := models.NormalizeRegistration(registration)
	if h.Recorder != nil {
		h.Recorder.RecordCall(ctx, mot.APIName, false, nil)
	}
	if !models.ValidRegistration(reg) {
		return nil, upstream.InvalidInput(mot.APIName, registration, "malformed registration")
	}

	e := pick(reg)
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}

	out := &mot.History{
		Registration: reg,
		Make:         e.make,
		Model:        e.model,
		Colour:       e.colour,
		FuelType:     e.fuel,
		Year:         now.Year() - e.age,
		Tests:        []models.MOTTest{},
	}
	if e.cc > 0 {
		cc := e.cc
		out.EngineCC = &cc
	}

	for i := 0; i < e.age-2; i++ {
		completed := now.AddDate(-i, -2, 0)
		expiry := completed.AddDate(1, 0, 0)
		odo := (e.age - i) * 8500
		test := models.MOTTest{
			CompletedAt:   completed,
			Passed:        true,
			ExpiryDate:    &expiry,
			OdometerValue: &odo,
			OdometerUnit:  "mi",
			Defects:       []models.Defect{},
		}
		if e.age > 10 && i == 0 {
			test.Defects = append(test.Defects,
				models.Defect{Text: "Nearside Front Tyre worn close to legal limit", Severity: models.DefectAdvisory},
				models.Defect{Text: "Brake pipe slightly corroded", Severity: models.DefectAdvisory},
			)
		}
		out.Tests = append(out.Tests, test)
	}
	return out, nil
}

// Invalidate 无缓存
func (h *History) Invalidate(context.Context, string) error { return nil }

// TestConnection 总是可用
func (h *History) TestConnection(context.Context) (upstream.ConnectionStatus, error) {
	return upstream.ConnectionStatus{API: mot.APIName, OK: true, Message: "mock data"}, nil
}
