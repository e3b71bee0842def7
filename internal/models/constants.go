package models

type BookingType string

const (
	TypeCourse   BookingType = "course"
	TypeActivity BookingType = "activity"
	TypeMaterial BookingType = "material"
)

func (t BookingType) Valid() bool {
	switch t {
	case TypeCourse, TypeActivity, TypeMaterial:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPaid, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// AllStatuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusPaid, StatusCompleted, StatusCancelled, StatusNoShow,
}

type PaymentType string

const (
	PaymentCharge PaymentType = "charge"
	PaymentRefund PaymentType = "refund"
)

func (t PaymentType) Valid() bool {
	return t == PaymentCharge || t == PaymentRefund
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// IsFinal reports statuses a payment never leaves.
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// Condition is the state of a rented equipment unit.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionDamaged   Condition = "damaged"
)

var conditionRank = map[Condition]int{
	ConditionExcellent: 4,
	ConditionGood:      3,
	ConditionFair:      2,
	ConditionPoor:      1,
	ConditionDamaged:   0,
}

func (c Condition) Valid() bool {
	_, ok := conditionRank[c]
	return ok
}

// Rank orders conditions; higher is better. Unknown conditions rank -1.
func (c Condition) Rank() int {
	r, ok := conditionRank[c]
	if !ok {
		return -1
	}
	return r
}

const (
	// DefaultCurrency используется, если в конфигурации валюта не задана
	DefaultCurrency = "EUR"

	// DefaultDamageFeeRate доля стоимости аренды за каждую ступень ухудшения состояния
	DefaultDamageFeeRate = 0.25

	// DefaultPageSize размер страницы по умолчанию
	DefaultPageSize = 20

	// MaxPageSize верхняя граница размера страницы
	MaxPageSize = 200

	// ReferencePrefix префикс человекочитаемого номера бронирования
	ReferencePrefix = "BK-"

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)
