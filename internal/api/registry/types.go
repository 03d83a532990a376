package registry

import (
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// vehicleResponse DVLA Vehicle Enquiry 响应
type vehicleResponse struct {
	RegistrationNumber       string `json:"registrationNumber"`
	Make                     string `json:"make"`
	Colour                   string `json:"colour"`
	YearOfManufacture        int    `json:"yearOfManufacture"`
	EngineCapacity           *int   `json:"engineCapacity"`
	FuelType                 string `json:"fuelType"`
	MOTStatus                string `json:"motStatus"`
	MOTExpiryDate            string `json:"motExpiryDate"`
	TaxStatus                string `json:"taxStatus"`
	TaxDueDate               string `json:"taxDueDate"`
	CO2Emissions             *int   `json:"co2Emissions"`
	MonthOfFirstRegistration string `json:"monthOfFirstRegistration"`
	MarkedForExport          bool   `json:"markedForExport"`
	Wheelplan                string `json:"wheelplan"`
	EuroStatus               string `json:"euroStatus"`
}

// Vehicle 解析后的登记信息
type Vehicle struct {
	Registration    string          `json:"registration"`
	Make            string          `json:"make"`
	Colour          string          `json:"colour"`
	Year            int             `json:"year"`
	FuelType        models.FuelType `json:"fuel_type"`
	EngineCC        *int            `json:"engine_cc,omitempty"`
	MOTStatus       string          `json:"mot_status,omitempty"`
	MOTExpiry       *time.Time      `json:"mot_expiry,omitempty"`
	TaxStatus       string          `json:"tax_status,omitempty"`
	TaxDue          *time.Time      `json:"tax_due,omitempty"`
	FirstRegistered *time.Time      `json:"first_registered,omitempty"`
	CO2Emissions    *int            `json:"co2_emissions,omitempty"`
	MarkedForExport bool            `json:"marked_for_export"`
}

func (r *vehicleResponse) toVehicle(reg string) *Vehicle {
	v := &Vehicle{
		Registration:    reg,
		Make:            r.Make,
		Colour:          r.Colour,
		Year:            r.YearOfManufacture,
		FuelType:        models.NormalizeFuelType(r.FuelType),
		MOTStatus:       r.MOTStatus,
		MOTExpiry:       parseDate("2006-01-02", r.MOTExpiryDate),
		TaxStatus:       r.TaxStatus,
		TaxDue:          parseDate("2006-01-02", r.TaxDueDate),
		FirstRegistered: parseDate("2006-01", r.MonthOfFirstRegistration),
		CO2Emissions:    r.CO2Emissions,
		MarkedForExport: r.MarkedForExport,
	}
	// 纯电车型 DVLA 返回 0 排量
	if r.EngineCapacity != nil && *r.EngineCapacity > 0 {
		cc := *r.EngineCapacity
		v.EngineCC = &cc
	}
	return v
}

func parseDate(layout, s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return nil
	}
	return &t
}
