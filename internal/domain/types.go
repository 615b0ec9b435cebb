package domain

import (
	"errors"
	"time"
)

// ErrNoConfig is returned when a user has no stored schedule configuration.
var ErrNoConfig = errors.New("no schedule config")

type PeriodUnit string

const (
	UnitMinutes PeriodUnit = "minutes"
	UnitHours   PeriodUnit = "hours"
	UnitDays    PeriodUnit = "days"
)

// Defaults for half-filled settings rows.
const (
	DefaultIncrement = 1000
	DefaultStepMin   = 200
	DefaultStepMax   = 500
)

// AmountPolicy decides how many steps a single firing submits.
// Exactly one mode is active: a fixed increment, or a uniform draw
// from [Min, Max] when Random is set.
type AmountPolicy struct {
	Random    bool `json:"random"`
	Increment int  `json:"increment"`
	Min       int  `json:"min"`
	Max       int  `json:"max"`
}

// Normalize clamps invalid values to usable defaults so a partial
// settings row degrades instead of breaking the job.
func (p AmountPolicy) Normalize() AmountPolicy {
	if p.Increment <= 0 {
		p.Increment = DefaultIncrement
	}
	if p.Min <= 0 {
		p.Min = DefaultStepMin
	}
	if p.Max <= 0 {
		p.Max = DefaultStepMax
	}
	if p.Min > p.Max {
		p.Min, p.Max = p.Max, p.Min
	}
	return p
}

// UserScheduleConfig is the per-user scheduling row. The scheduler reads
// it fresh on every firing; nothing caches it past a single decision.
type UserScheduleConfig struct {
	UserID      string
	Enabled     bool
	Period      int
	Unit        PeriodUnit
	Amount      AmountPolicy
	WindowStart Clock
	WindowEnd   Clock
	UpdatedAt   time.Time
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEvent is one structured entry in a user's job log. Events are
// append-only and expire two days after creation.
type LogEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// OAuthToken is the stored credential material for one user.
type OAuthToken struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
