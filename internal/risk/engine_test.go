package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlend-backend/internal/domain"
)

func reliableBorrower() domain.RiskInput {
	return domain.RiskInput{
		Trust: domain.Trust{
			Score:         90,
			TotalBorrows:  20,
			OnTimeReturns: 19,
		},
		ItemValue:      500,
		DurationHours:  24,
		AccountAgeDays: 200,
		HourOfDay:      14,
		DayOfWeek:      time.Wednesday,
	}
}

func TestAssessRisk(t *testing.T) {
	e := NewEngine()

	t.Run("Reliable borrower", func(t *testing.T) {
		a := e.AssessRisk(reliableBorrower())
		assert.Equal(t, 19, a.Score)
		assert.Equal(t, domain.RiskLow, a.Level)
		assert.False(t, a.CollateralRequired)
		assert.Zero(t, a.SuggestedDeposit)

		require.Len(t, a.Factors, 4)
		assert.Equal(t, "trust_score", a.Factors[0].Name)
		assert.InDelta(t, -16, a.Factors[0].Impact, 1e-9)
		assert.Equal(t, "return_history", a.Factors[1].Name)
		assert.InDelta(t, -7.5, a.Factors[1].Impact, 1e-9)
		assert.Equal(t, "short_rental", a.Factors[2].Name)
		assert.Equal(t, "established_account", a.Factors[3].Name)
		for _, f := range a.Factors {
			assert.Equal(t, domain.FactorPositive, f.Polarity)
		}
	})

	t.Run("New borrower at night on a weekend", func(t *testing.T) {
		a := e.AssessRisk(domain.RiskInput{
			Trust:          domain.Trust{Score: 50},
			ItemValue:      1500,
			DurationHours:  200,
			AccountAgeDays: 2,
			HourOfDay:      23,
			DayOfWeek:      time.Saturday,
		})
		// 50 + 10 + 10 + 8 + 5 + 3 + 2
		assert.Equal(t, 88, a.Score)
		assert.Equal(t, domain.RiskVeryHigh, a.Level)
		assert.True(t, a.CollateralRequired)
		assert.InDelta(t, 450, a.SuggestedDeposit, 1e-9)
	})

	t.Run("Disputes and collateral", func(t *testing.T) {
		in := reliableBorrower()
		in.Trust.Disputes = 2
		in.HasCollateral = true
		a := e.AssessRisk(in)
		// 18.5 + 10 - 10
		assert.Equal(t, 19, a.Score)
		names := make([]string, 0, len(a.Factors))
		for _, f := range a.Factors {
			names = append(names, f.Name)
		}
		assert.Contains(t, names, "past_disputes")
		assert.Contains(t, names, "collateral_offered")
	})

	t.Run("Low trust requires collateral", func(t *testing.T) {
		in := reliableBorrower()
		in.Trust.Score = 39
		a := e.AssessRisk(in)
		assert.True(t, a.CollateralRequired)
		assert.InDelta(t, 100, a.SuggestedDeposit, 1e-9)
	})

	t.Run("Score clamps at zero", func(t *testing.T) {
		a := e.AssessRisk(domain.RiskInput{
			Trust:          domain.Trust{Score: 100, TotalBorrows: 50, OnTimeReturns: 50},
			ItemValue:      50,
			DurationHours:  2,
			HasCollateral:  true,
			AccountAgeDays: 400,
			HourOfDay:      12,
			DayOfWeek:      time.Tuesday,
		})
		assert.Equal(t, 0, a.Score)
		assert.Equal(t, domain.RiskLow, a.Level)
	})
}

func TestAssessRiskScoreAlwaysInRange(t *testing.T) {
	e := NewEngine()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		total := rng.Intn(60)
		onTime := 0
		if total > 0 {
			onTime = rng.Intn(total + 1)
		}
		a := e.AssessRisk(domain.RiskInput{
			Trust: domain.Trust{
				Score:         rng.Intn(101),
				TotalBorrows:  total,
				OnTimeReturns: onTime,
				Disputes:      rng.Intn(10),
			},
			ItemValue:      rng.Float64() * 5000,
			DurationHours:  1 + rng.Intn(400),
			HasCollateral:  rng.Intn(2) == 0,
			AccountAgeDays: rng.Intn(1000),
			HourOfDay:      rng.Intn(24),
			DayOfWeek:      time.Weekday(rng.Intn(7)),
		})
		require.GreaterOrEqual(t, a.Score, 0)
		require.LessOrEqual(t, a.Score, 100)
		require.Equal(t, Level(a.Score), a.Level)
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, domain.RiskLow, Level(0))
	assert.Equal(t, domain.RiskLow, Level(24))
	assert.Equal(t, domain.RiskMedium, Level(25))
	assert.Equal(t, domain.RiskMedium, Level(49))
	assert.Equal(t, domain.RiskHigh, Level(50))
	assert.Equal(t, domain.RiskHigh, Level(74))
	assert.Equal(t, domain.RiskVeryHigh, Level(75))
	assert.Equal(t, domain.RiskVeryHigh, Level(100))
}

func TestSuggestedDeposit(t *testing.T) {
	assert.InDelta(t, 100, SuggestedDeposit(500), 1e-9)
	assert.InDelta(t, 200, SuggestedDeposit(1000), 1e-9)
	assert.InDelta(t, 600, SuggestedDeposit(2000), 1e-9)
	assert.InDelta(t, 1500, SuggestedDeposit(3000), 1e-9)
}

func TestScheduleReminders(t *testing.T) {
	e := NewEngine()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	due := now.Add(100 * time.Hour)

	t.Run("Low risk", func(t *testing.T) {
		got := e.ScheduleReminders(due, 10, now)
		assert.Equal(t, []time.Time{due.Add(-4 * time.Hour)}, got)
	})

	t.Run("Very high risk", func(t *testing.T) {
		got := e.ScheduleReminders(due, 90, now)
		assert.Equal(t, []time.Time{
			due.Add(-72 * time.Hour),
			due.Add(-24 * time.Hour),
			due.Add(-6 * time.Hour),
			due.Add(-30 * time.Minute),
		}, got)
	})

	t.Run("Past instants are dropped", func(t *testing.T) {
		soon := now.Add(20 * time.Hour)
		got := e.ScheduleReminders(soon, 60, now)
		assert.Equal(t, []time.Time{soon.Add(-12 * time.Hour), soon.Add(-time.Hour)}, got)
	})

	t.Run("Overdue rental gets nothing", func(t *testing.T) {
		assert.Empty(t, e.ScheduleReminders(now.Add(-time.Hour), 30, now))
	})
}

func TestUpdateTrust(t *testing.T) {
	e := NewEngine()

	assert.Equal(t, 100, e.UpdateTrust(98, domain.OutcomeOnTime))
	assert.Equal(t, 0, e.UpdateTrust(5, domain.OutcomeDisputed))
	assert.Equal(t, 45, e.UpdateTrust(50, domain.OutcomeLate))
	assert.Equal(t, 35, e.UpdateTrust(50, domain.OutcomeVeryLate))
	assert.Equal(t, 52, e.UpdateTrust(50, domain.OutcomeOnTime))
	assert.Equal(t, 50, e.UpdateTrust(50, "unknown"))
}

func TestClassifyReturn(t *testing.T) {
	e := NewEngine()
	due := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, domain.OutcomeOnTime, e.ClassifyReturn(due, due))
	assert.Equal(t, domain.OutcomeOnTime, e.ClassifyReturn(due, due.Add(-time.Hour)))
	assert.Equal(t, domain.OutcomeLate, e.ClassifyReturn(due, due.Add(time.Minute)))
	assert.Equal(t, domain.OutcomeLate, e.ClassifyReturn(due, due.Add(24*time.Hour)))
	assert.Equal(t, domain.OutcomeVeryLate, e.ClassifyReturn(due, due.Add(25*time.Hour)))
}
