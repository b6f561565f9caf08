package domain

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very-high"
)

type FactorPolarity string

const (
	// FactorPositive lowers the score.
	FactorPositive FactorPolarity = "positive"
	FactorNegative FactorPolarity = "negative"
)

type RiskFactor struct {
	Name     string         `json:"name"`
	Impact   float64        `json:"impact"`
	Polarity FactorPolarity `json:"polarity"`
}

type RiskInput struct {
	Trust          Trust
	ItemValue      float64 // currency units
	DurationHours  int
	HasCollateral  bool
	AccountAgeDays int
	HourOfDay      int
	DayOfWeek      time.Weekday
}

// RiskAssessment is the snapshot embedded in a transaction at creation.
type RiskAssessment struct {
	Score              int          `json:"score"`
	Level              RiskLevel    `json:"level"`
	Factors            []RiskFactor `json:"factors"`
	CollateralRequired bool         `json:"collateral_required"`
	SuggestedDeposit   float64      `json:"suggested_deposit"`
}
