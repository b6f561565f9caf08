package domain

import "time"

type ItemCategory string

const (
	CategoryTextbook          ItemCategory = "textbook"
	CategoryElectronics       ItemCategory = "electronics"
	CategoryCamera            ItemCategory = "camera"
	CategoryTools             ItemCategory = "tools"
	CategorySports            ItemCategory = "sports"
	CategoryMusicalInstrument ItemCategory = "musical-instrument"
	CategoryFurniture         ItemCategory = "furniture"
	CategoryClothing          ItemCategory = "clothing"
	CategoryBooks             ItemCategory = "books"
	CategoryOther             ItemCategory = "other"
)

type ItemCondition string

const (
	ConditionNew       ItemCondition = "new"
	ConditionExcellent ItemCondition = "excellent"
	ConditionGood      ItemCondition = "good"
	ConditionFair      ItemCondition = "fair"
	ConditionPoor      ItemCondition = "poor"
)

// Valid reports whether c is one of the enumerated conditions.
func (c ItemCondition) Valid() bool {
	switch c {
	case ConditionNew, ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

type DemandLevel string

const (
	DemandLow    DemandLevel = "low"
	DemandMedium DemandLevel = "medium"
	DemandHigh   DemandLevel = "high"
)

type Item struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    ItemCategory  `json:"category"`
	Condition   ItemCondition `json:"condition"`
	// Declared replacement value, used by risk assessment and deposits.
	ValuePaise int64 `json:"value_paise"`
	// Listed price for one reference rental period, in whole currency units.
	ListedPrice int64       `json:"listed_price"`
	Demand      DemandLevel `json:"demand"`
	IsAvailable bool        `json:"is_available"`
	ViewCount   int64       `json:"view_count"`
	RentalCount int64       `json:"rental_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	DelistedAt  *time.Time  `json:"delisted_at,omitempty"`
}

// ToPaise converts whole currency units to minor units.
func ToPaise(units int64) int64 {
	return units * 100
}

// ToUnits converts minor units to fractional currency units.
func ToUnits(paise int64) float64 {
	return float64(paise) / 100
}
