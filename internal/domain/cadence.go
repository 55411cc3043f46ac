package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used for cadence event dates.
const DateLayout = "2006-01-02"

// EventKind classifies a single day of engagement.
type EventKind string

const (
	KindActionCompleted EventKind = "ACTION_COMPLETED"
	KindMilestone       EventKind = "MILESTONE"
	KindMissed          EventKind = "MISSED"
	KindReset           EventKind = "RESET"
)

var EventKinds = []EventKind{KindActionCompleted, KindMilestone, KindMissed, KindReset}

// Compliant reports whether the day counts as a performed required action.
func (k EventKind) Compliant() bool {
	return k == KindActionCompleted || k == KindMilestone
}

// ParseEventKind accepts kinds case-insensitively.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range EventKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid event kind %q", s)
}

// CadenceEvent is one dated record of a user's daily engagement.
type CadenceEvent struct {
	UserID    string
	Date      time.Time
	Kind      EventKind
	CreatedAt string
}

// Day truncates t to its calendar date (as seen in t's location) at UTC midnight.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// FormatDay renders a date as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DateLayout)
}

// RhythmState is the engagement classification, ordered from low to high.
type RhythmState string

const (
	StateNotStarted      RhythmState = "NOT_STARTED"
	StateOffRhythm       RhythmState = "OFF_RHYTHM"
	StateStartingToFlow  RhythmState = "STARTING_TO_FLOW"
	StateOnCadence       RhythmState = "ON_CADENCE"
	StateFlowingInRhythm RhythmState = "FLOWING_IN_RHYTHM"
)

var RhythmStates = []RhythmState{
	StateNotStarted,
	StateOffRhythm,
	StateStartingToFlow,
	StateOnCadence,
	StateFlowingInRhythm,
}

// Level is the position of s in the engagement order, or -1 if unknown.
func (s RhythmState) Level() int {
	for i, known := range RhythmStates {
		if s == known {
			return i
		}
	}
	return -1
}

// Next returns the next higher state; ok is false at the ceiling.
func (s RhythmState) Next() (RhythmState, bool) {
	lvl := s.Level()
	if lvl < 0 || lvl+1 >= len(RhythmStates) {
		return "", false
	}
	return RhythmStates[lvl+1], true
}

type TodayStatus string

const (
	TodayComplete   TodayStatus = "COMPLETE"
	TodayIncomplete TodayStatus = "INCOMPLETE"
)

type BehavioralConstraints struct {
	SuppressEscalation bool `json:"suppress_escalation"`
}

// Peer alignment is not computed yet; these values are always emitted.
const (
	PeerAlignmentEnabled = false
	PeerPercentile       = 0
	PeerComparison       = "UNAVAILABLE"
)

type RhythmStateResult struct {
	RhythmState                  RhythmState            `json:"rhythm_state" enum:"NOT_STARTED,OFF_RHYTHM,STARTING_TO_FLOW,ON_CADENCE,FLOWING_IN_RHYTHM"`
	StreakDays                   int                    `json:"streak_days"`
	WeeksOnCadence               int                    `json:"weeks_on_cadence"`
	NextThreshold                *RhythmState           `json:"next_threshold" nullable:"true"`
	DaysRemainingToNextThreshold int                    `json:"days_remaining_to_next_threshold"`
	TodayStatus                  TodayStatus            `json:"today_status" enum:"COMPLETE,INCOMPLETE"`
	InternalDegradation          bool                   `json:"internal_degradation"`
	BehavioralConstraints        *BehavioralConstraints `json:"behavioral_constraints"`
	ComputedAt                   string                 `json:"computed_at" format:"date-time"`
	PeerAlignmentEnabled         bool                   `json:"peer_alignment_enabled"`
	PeerPercentile               int                    `json:"peer_percentile"`
	PeerComparison               string                 `json:"peer_comparison"`
}
