package domain

import "time"

const (
	// New accounts start from a neutral reputation.
	DefaultTrustScore = 50
	MinTrustScore     = 0
	MaxTrustScore     = 100
)

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	DeviceToken string    `json:"-"` // push registration, optional
	Trust       Trust     `json:"trust"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Trust is the reputation profile read by risk assessment and mutated once per
// transaction outcome.
type Trust struct {
	Score         int `json:"score"`
	TotalBorrows  int `json:"total_borrows"`
	OnTimeReturns int `json:"on_time_returns"`
	LateReturns   int `json:"late_returns"`
	Disputes      int `json:"disputes"`
}

// AccountAgeDays returns whole days since account creation.
func (u *User) AccountAgeDays(now time.Time) int {
	if now.Before(u.CreatedAt) {
		return 0
	}
	return int(now.Sub(u.CreatedAt).Hours() / 24)
}

type TrustOutcome string

const (
	OutcomeOnTime   TrustOutcome = "on-time"
	OutcomeLate     TrustOutcome = "late"
	OutcomeVeryLate TrustOutcome = "very-late"
	OutcomeDisputed TrustOutcome = "disputed"
)

// RecordOutcome bumps the history counters matching an outcome. The score itself
// is computed by the risk engine.
func (t *Trust) RecordOutcome(outcome TrustOutcome) {
	switch outcome {
	case OutcomeOnTime:
		t.TotalBorrows++
		t.OnTimeReturns++
	case OutcomeLate, OutcomeVeryLate:
		t.TotalBorrows++
		t.LateReturns++
	case OutcomeDisputed:
		t.Disputes++
	}
}
