// Package pricing suggests fair rental prices inside per-category bounds and
// flags listings priced far above the suggestion.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
)

const hoursPerDay = 24

var categoryTable = map[domain.ItemCategory]domain.CategoryPricing{
	domain.CategoryTextbook:          {BasePrice: 20, MinPrice: 10, MaxPrice: 50, PricePerHour: 5, PricePerDay: 20},
	domain.CategoryElectronics:       {BasePrice: 100, MinPrice: 50, MaxPrice: 800, PricePerHour: 25, PricePerDay: 150},
	domain.CategoryCamera:            {BasePrice: 150, MinPrice: 80, MaxPrice: 1200, PricePerHour: 40, PricePerDay: 250},
	domain.CategoryTools:             {BasePrice: 60, MinPrice: 30, MaxPrice: 400, PricePerHour: 15, PricePerDay: 80},
	domain.CategorySports:            {BasePrice: 50, MinPrice: 25, MaxPrice: 300, PricePerHour: 10, PricePerDay: 60},
	domain.CategoryMusicalInstrument: {BasePrice: 120, MinPrice: 60, MaxPrice: 900, PricePerHour: 30, PricePerDay: 180},
	domain.CategoryFurniture:         {BasePrice: 80, MinPrice: 40, MaxPrice: 600, PricePerHour: 15, PricePerDay: 90},
	domain.CategoryClothing:          {BasePrice: 40, MinPrice: 20, MaxPrice: 250, PricePerHour: 10, PricePerDay: 45},
	domain.CategoryBooks:             {BasePrice: 15, MinPrice: 8, MaxPrice: 40, PricePerHour: 4, PricePerDay: 15},
	domain.CategoryOther:             {BasePrice: 40, MinPrice: 20, MaxPrice: 300, PricePerHour: 10, PricePerDay: 50},
}

var conditionMultipliers = map[domain.ItemCondition]decimal.Decimal{
	domain.ConditionNew:       decimal.RequireFromString("1.20"),
	domain.ConditionExcellent: decimal.RequireFromString("1.10"),
	domain.ConditionGood:      decimal.RequireFromString("1.00"),
	domain.ConditionFair:      decimal.RequireFromString("0.85"),
	domain.ConditionPoor:      decimal.RequireFromString("0.70"),
}

var demandMultipliers = map[domain.DemandLevel]decimal.Decimal{
	domain.DemandLow:    decimal.RequireFromString("0.90"),
	domain.DemandMedium: decimal.RequireFromString("1.00"),
	domain.DemandHigh:   decimal.RequireFromString("1.15"),
}

// Volume discounts by total rental days, largest threshold first.
var volumeDiscounts = []struct {
	minDays int
	rate    decimal.Decimal
}{
	{minDays: 7, rate: decimal.RequireFromString("0.15")},
	{minDays: 3, rate: decimal.RequireFromString("0.10")},
}

var (
	abuseMinorPct    = decimal.NewFromInt(20)
	abuseModeratePct = decimal.NewFromInt(40)
	abuseSeverePct   = decimal.NewFromInt(70)
	hundred          = decimal.NewFromInt(100)
	one              = decimal.NewFromInt(1)
)

// Engine is the price engine. It holds no mutable state and is safe for
// concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Categories lists every priced category.
func (e *Engine) Categories() []domain.ItemCategory {
	return []domain.ItemCategory{
		domain.CategoryTextbook, domain.CategoryElectronics, domain.CategoryCamera, domain.CategoryTools,
		domain.CategorySports, domain.CategoryMusicalInstrument, domain.CategoryFurniture,
		domain.CategoryClothing, domain.CategoryBooks, domain.CategoryOther,
	}
}

// Bounds returns the pricing row for category. Unknown categories are priced as
// "other" and the substitution is logged.
func (e *Engine) Bounds(category domain.ItemCategory) domain.CategoryPricing {
	row, ok := categoryTable[category]
	if !ok {
		logger.Warn("Unknown item category, falling back to other", "category", category)
		row = categoryTable[domain.CategoryOther]
		category = domain.CategoryOther
	}
	row.Category = category
	return row
}

// SuggestPrice computes the additive fair price for renting an item of the
// given category, condition and demand for durationHours.
func (e *Engine) SuggestPrice(category domain.ItemCategory, durationHours int, condition domain.ItemCondition, demand domain.DemandLevel) (domain.PriceSuggestion, error) {
	if durationHours <= 0 {
		return domain.PriceSuggestion{}, domain.NewValidationError("duration must be at least one hour", "field", "duration_hours")
	}
	condMult, ok := conditionMultipliers[condition]
	if !ok {
		return domain.PriceSuggestion{}, domain.NewValidationError("unknown item condition", "condition", string(condition))
	}
	demandMult, ok := demandMultipliers[demand]
	if !ok {
		return domain.PriceSuggestion{}, domain.NewValidationError("unknown demand level", "demand", string(demand))
	}

	row := e.Bounds(category)
	durationCost, discount := durationCost(row, durationHours)

	conditionAdj := durationCost.Mul(condMult.Sub(one))
	demandAdj := durationCost.Mul(demandMult.Sub(one))

	raw := decimal.NewFromInt(row.BasePrice).Add(durationCost).Add(conditionAdj).Add(demandAdj)
	clamped := decimal.Max(decimal.NewFromInt(row.MinPrice), decimal.Min(raw, decimal.NewFromInt(row.MaxPrice)))

	return domain.PriceSuggestion{
		Category:       row.Category,
		SuggestedPrice: clamped.Round(0).IntPart(),
		MinPrice:       row.MinPrice,
		MaxPrice:       row.MaxPrice,
		BasePrice:      row.BasePrice,
		Breakdown: domain.PriceBreakdown{
			DurationCost:        durationCost,
			Discount:            discount,
			ConditionAdjustment: conditionAdj,
			DemandAdjustment:    demandAdj,
		},
	}, nil
}

// durationCost returns the discounted duration term and the discount taken.
// Beyond one day the first 24 hours are covered by the base price.
func durationCost(row domain.CategoryPricing, hours int) (decimal.Decimal, decimal.Decimal) {
	perHour := decimal.NewFromInt(row.PricePerHour)
	if hours <= hoursPerDay {
		return perHour.Mul(decimal.NewFromInt(int64(hours))), decimal.Zero
	}

	extra := hours - hoursPerDay
	fullDays := extra / hoursPerDay
	remainder := extra % hoursPerDay
	cost := decimal.NewFromInt(row.PricePerDay).Mul(decimal.NewFromInt(int64(fullDays))).
		Add(perHour.Mul(decimal.NewFromInt(int64(remainder))))

	totalDays := hours / hoursPerDay
	for _, tier := range volumeDiscounts {
		if totalDays >= tier.minDays {
			discount := cost.Mul(tier.rate)
			return cost.Sub(discount), discount
		}
	}
	return cost, decimal.Zero
}

// ValidatePrice rejects prices outside the category corridor.
func (e *Engine) ValidatePrice(price int64, category domain.ItemCategory) error {
	row := e.Bounds(category)
	if price < row.MinPrice || price > row.MaxPrice {
		return domain.ErrPriceOutOfBounds.With(
			"category", string(row.Category),
			"min", decimal.NewFromInt(row.MinPrice).String(),
			"max", decimal.NewFromInt(row.MaxPrice).String(),
		)
	}
	return nil
}

// CheckAbuse grades how far actual sits above suggested.
func (e *Engine) CheckAbuse(actual, suggested int64) domain.AbuseLevel {
	if suggested <= 0 {
		return domain.AbuseSevere
	}
	if actual <= suggested {
		return domain.AbuseNone
	}
	pct := decimal.NewFromInt(actual - suggested).Div(decimal.NewFromInt(suggested)).Mul(hundred)
	switch {
	case pct.LessThanOrEqual(abuseMinorPct):
		return domain.AbuseNone
	case pct.LessThanOrEqual(abuseModeratePct):
		return domain.AbuseMinor
	case pct.LessThanOrEqual(abuseSeverePct):
		return domain.AbuseModerate
	default:
		return domain.AbuseSevere
	}
}

// LateFee is the penalty for an overdue return in whole currency units: every
// started hour at the category hourly rate, capped at the category maximum.
func (e *Engine) LateFee(category domain.ItemCategory, overdue time.Duration) int64 {
	if overdue <= 0 {
		return 0
	}
	row := e.Bounds(category)
	hours := int64(math.Ceil(overdue.Hours()))
	fee := hours * row.PricePerHour
	if fee > row.MaxPrice {
		return row.MaxPrice
	}
	return fee
}
