package models

import "time"

// BookingState 预约状态
type BookingState string

const (
	StatePendingPayment BookingState = "pending_payment"
	StateConfirmed      BookingState = "confirmed"
	StateCompleted      BookingState = "completed"
	StateCancelled      BookingState = "cancelled"
	StateExpired        BookingState = "expired"
)

// Active 是否占用工位
func (s BookingState) Active() bool {
	return s == StatePendingPayment || s == StateConfirmed
}

// Terminal 是否为终态
func (s BookingState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateExpired
}

// Slot 可预约的时间段 + 工位
type Slot struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ResourceID    string    `json:"resource_id"`
	ResourceClass string    `json:"resource_class"`
}

// Overlaps 同一工位上时间是否重叠（半开区间）
func (s Slot) Overlaps(o Slot) bool {
	return s.ResourceID == o.ResourceID && s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Customer 客户联系方式
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// PriceQuote 报价快照，金额单位为便士
type PriceQuote struct {
	ServiceID  string   `json:"service_id"`
	FuelType   FuelType `json:"fuel_type"`
	EngineCC   *int     `json:"engine_cc,omitempty"`
	BasePence  int64    `json:"base_pence"`
	VATPence   int64    `json:"vat_pence"`
	TotalPence int64    `json:"total_pence"`
	Currency   string   `json:"currency"`
	Tier       string   `json:"tier,omitempty"`
	Warning    bool     `json:"warning"`
	WarningMsg string   `json:"warning_msg,omitempty"`
}

// Booking 预约记录，只能由状态机推进
type Booking struct {
	Reference           string       `json:"reference"`
	Customer            Customer     `json:"customer"`
	Registration        string       `json:"registration"`
	Services            []string     `json:"services"`
	Slot                Slot         `json:"slot"`
	Quotes              []PriceQuote `json:"quotes"`
	TotalPence          int64        `json:"total_pence"`
	Currency            string       `json:"currency"`
	State               BookingState `json:"state"`
	HoldExpiresAt       time.Time    `json:"hold_expires_at"`
	PaymentReference    string       `json:"payment_reference,omitempty"`
	SpecialRequirements string       `json:"special_requirements,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// BookingDraft 创建预约的请求数据
type BookingDraft struct {
	Customer            Customer  `json:"customer"`
	Registration        string    `json:"registration"`
	Services            []string  `json:"services"`
	FuelType            FuelType  `json:"fuel_type,omitempty"`
	EngineCC            *int      `json:"engine_cc,omitempty"`
	SlotStart           time.Time `json:"slot_start"`
	ResourceID          string    `json:"resource_id"`
	SpecialRequirements string    `json:"special_requirements,omitempty"`
}

// PaymentConfirmation 外部支付确认事件
type PaymentConfirmation struct {
	BookingReference string `json:"booking_reference"`
	AmountPence      int64  `json:"amount"`
	Success          bool   `json:"success"`
	PaymentReference string `json:"payment_reference,omitempty"`
}
