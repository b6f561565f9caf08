package domain

import "github.com/shopspring/decimal"

type AbuseLevel string

const (
	AbuseNone     AbuseLevel = "none"
	AbuseMinor    AbuseLevel = "minor"
	AbuseModerate AbuseLevel = "moderate"
	AbuseSevere   AbuseLevel = "severe"
)

type CategoryPricing struct {
	Category     ItemCategory `json:"category"`
	BasePrice    int64        `json:"base_price"`
	MinPrice     int64        `json:"min_price"`
	MaxPrice     int64        `json:"max_price"`
	PricePerHour int64        `json:"price_per_hour"`
	PricePerDay  int64        `json:"price_per_day"`
}

type PriceBreakdown struct {
	DurationCost        decimal.Decimal `json:"duration_cost"`
	Discount            decimal.Decimal `json:"discount"`
	ConditionAdjustment decimal.Decimal `json:"condition_adjustment"`
	DemandAdjustment    decimal.Decimal `json:"demand_adjustment"`
}

// PriceSuggestion amounts are whole currency units.
type PriceSuggestion struct {
	Category       ItemCategory   `json:"category"`
	SuggestedPrice int64          `json:"suggested_price"`
	MinPrice       int64          `json:"min_price"`
	MaxPrice       int64          `json:"max_price"`
	BasePrice      int64          `json:"base_price"`
	Breakdown      PriceBreakdown `json:"breakdown"`
}
