// Package risk scores borrowers before a hold is placed and maintains the trust
// profile afterwards.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"peerlend-backend/internal/domain"
)

const (
	startingScore = 50

	collateralScoreThreshold = 60
	collateralValueThreshold = 1000
	collateralTrustThreshold = 40

	// Overdue beyond this is graded very-late rather than late.
	veryLateAfter = 24 * time.Hour
)

var trustDeltas = map[domain.TrustOutcome]int{
	domain.OutcomeOnTime:   2,
	domain.OutcomeLate:     -5,
	domain.OutcomeVeryLate: -15,
	domain.OutcomeDisputed: -20,
}

// Lead times before the expected return, furthest first.
var reminderLeadTimes = map[domain.RiskLevel][]time.Duration{
	domain.RiskLow:      {4 * time.Hour},
	domain.RiskMedium:   {24 * time.Hour, 2 * time.Hour},
	domain.RiskHigh:     {48 * time.Hour, 12 * time.Hour, time.Hour},
	domain.RiskVeryHigh: {72 * time.Hour, 24 * time.Hour, 6 * time.Hour, 30 * time.Minute},
}

var (
	trustWeight       = decimal.RequireFromString("0.4")
	onTimeBaseline    = decimal.RequireFromString("0.7")
	historyWeight     = decimal.NewFromInt(30)
	neutralTrustScore = decimal.NewFromInt(50)
)

// Engine is the risk engine. It is pure and safe for concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

type scorer struct {
	score   decimal.Decimal
	factors []domain.RiskFactor
}

func (s *scorer) add(name string, impact decimal.Decimal) {
	if impact.IsZero() {
		return
	}
	s.score = s.score.Add(impact)
	polarity := domain.FactorNegative
	if impact.IsNegative() {
		polarity = domain.FactorPositive
	}
	s.factors = append(s.factors, domain.RiskFactor{Name: name, Impact: impact.InexactFloat64(), Polarity: polarity})
}

func (s *scorer) addInt(name string, impact int64) {
	s.add(name, decimal.NewFromInt(impact))
}

// AssessRisk applies the weighted adjustment model. Lower scores are safer.
func (e *Engine) AssessRisk(in domain.RiskInput) domain.RiskAssessment {
	s := &scorer{score: decimal.NewFromInt(startingScore)}

	s.add("trust_score", decimal.NewFromInt(int64(in.Trust.Score)).Sub(neutralTrustScore).Mul(trustWeight).Neg())

	if in.Trust.TotalBorrows > 0 {
		onTimeRate := decimal.NewFromInt(int64(in.Trust.OnTimeReturns)).Div(decimal.NewFromInt(int64(in.Trust.TotalBorrows)))
		s.add("return_history", onTimeRate.Sub(onTimeBaseline).Mul(historyWeight).Neg())
		s.addInt("past_disputes", int64(in.Trust.Disputes)*5)
	} else {
		s.addInt("no_borrow_history", 10)
	}

	switch {
	case in.ItemValue > 1000:
		s.addInt("high_value_item", 10)
	case in.ItemValue < 200:
		s.addInt("low_value_item", -5)
	}

	switch {
	case in.DurationHours > 168:
		s.addInt("long_rental", 8)
	case in.DurationHours <= 24:
		s.addInt("short_rental", -5)
	}

	if in.HasCollateral {
		s.addInt("collateral_offered", -10)
	}

	switch {
	case in.AccountAgeDays < 7:
		s.addInt("new_account", 5)
	case in.AccountAgeDays > 90:
		s.addInt("established_account", -3)
	}

	if in.HourOfDay >= 23 || in.HourOfDay <= 5 {
		s.addInt("late_night_request", 3)
	}
	if in.DayOfWeek == time.Saturday || in.DayOfWeek == time.Sunday {
		s.addInt("weekend_request", 2)
	}

	score := clamp(int(s.score.Round(0).IntPart()), 0, 100)
	required := score > collateralScoreThreshold ||
		in.ItemValue > collateralValueThreshold ||
		in.Trust.Score < collateralTrustThreshold

	assessment := domain.RiskAssessment{
		Score:              score,
		Level:              Level(score),
		Factors:            s.factors,
		CollateralRequired: required,
	}
	if required {
		assessment.SuggestedDeposit = SuggestedDeposit(in.ItemValue)
	}
	return assessment
}

// Level maps a score to its band.
func Level(score int) domain.RiskLevel {
	switch {
	case score < 25:
		return domain.RiskLow
	case score < 50:
		return domain.RiskMedium
	case score < 75:
		return domain.RiskHigh
	default:
		return domain.RiskVeryHigh
	}
}

// SuggestedDeposit is the collateral for an item of the given value.
func SuggestedDeposit(itemValue float64) float64 {
	rate := decimal.RequireFromString("0.2")
	switch {
	case itemValue > 2000:
		rate = decimal.RequireFromString("0.5")
	case itemValue > 1000:
		rate = decimal.RequireFromString("0.3")
	}
	return decimal.NewFromFloat(itemValue).Mul(rate).Round(2).InexactFloat64()
}

// ScheduleReminders returns the future reminder instants for a rental due at
// expectedReturn, in ascending order.
func (e *Engine) ScheduleReminders(expectedReturn time.Time, score int, now time.Time) []time.Time {
	var out []time.Time
	for _, lead := range reminderLeadTimes[Level(score)] {
		at := expectedReturn.Add(-lead)
		if at.After(now) {
			out = append(out, at)
		}
	}
	return out
}

// UpdateTrust applies the bounded delta for outcome. Callers must apply each
// (transaction, outcome) pair once; the trust ledger in the repository layer
// enforces that.
func (e *Engine) UpdateTrust(current int, outcome domain.TrustOutcome) int {
	return clamp(current+trustDeltas[outcome], domain.MinTrustScore, domain.MaxTrustScore)
}

// ClassifyReturn grades a return against its due time.
func (e *Engine) ClassifyReturn(expectedReturn, returnedAt time.Time) domain.TrustOutcome {
	overdue := returnedAt.Sub(expectedReturn)
	switch {
	case overdue <= 0:
		return domain.OutcomeOnTime
	case overdue > veryLateAfter:
		return domain.OutcomeVeryLate
	default:
		return domain.OutcomeLate
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
