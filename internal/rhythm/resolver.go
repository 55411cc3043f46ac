// Package rhythm infers a user's engagement rhythm from a window of dated
// cadence events.
//
// Resolution runs in two phases. The density windows produce an optimistic
// potential state (Classify), then Degrade applies the miss rules, which can
// lower the state by one level at most. Everything in this package is pure:
// the same Input always yields the same result.
package rhythm

import (
	"time"

	"agencyhub/internal/domain"
)

// PlaceholderStreakDays is emitted as streak_days until streaks are defined.
const PlaceholderStreakDays = 0

// Threshold is the guidance attached to a final state.
type Threshold struct {
	Next          *domain.RhythmState
	DaysRemaining int
}

// Thresholds are fixed estimates matching the classification rules, not
// guarantees.
var Thresholds = map[domain.RhythmState]Threshold{
	domain.StateNotStarted:      {Next: statePtr(domain.StateStartingToFlow), DaysRemaining: 1},
	domain.StateOffRhythm:       {Next: statePtr(domain.StateStartingToFlow), DaysRemaining: 1},
	domain.StateStartingToFlow:  {Next: statePtr(domain.StateOnCadence), DaysRemaining: 6},
	domain.StateOnCadence:       {Next: statePtr(domain.StateFlowingInRhythm), DaysRemaining: 21},
	domain.StateFlowingInRhythm: {Next: nil, DaysRemaining: 0},
}

func statePtr(s domain.RhythmState) *domain.RhythmState { return &s }

// Input is one resolution request.
type Input struct {
	// Today is the calendar day to resolve for; only its date is used.
	Today time.Time
	// Events is the user's lookback window, ideally ordered by date desc.
	Events []domain.CadenceEvent
	// HasHistory reports whether the user has any event at all, including
	// ones older than the window.
	HasHistory bool
	// ComputedAt stamps the result.
	ComputedAt time.Time
}

// Evaluation exposes the intermediate steps of a resolution.
type Evaluation struct {
	Signals   Signals
	Rule      string
	Potential domain.RhythmState
	Final     domain.RhythmState
	Result    domain.RhythmStateResult
}

// Resolve classifies the input.
func Resolve(in Input) domain.RhythmStateResult {
	return Evaluate(in).Result
}

// Evaluate classifies the input and keeps the intermediate signals.
func Evaluate(in Input) Evaluation {
	if len(in.Events) == 0 && !in.HasHistory {
		res := newResult(domain.StateNotStarted, in.ComputedAt)
		return Evaluation{Rule: "no-history", Potential: res.RhythmState, Final: res.RhythmState, Result: res}
	}

	h := newHistory(in.Today, in.Events)
	s := h.signals(in.HasHistory)
	potential, rule := Classify(s)
	final := Degrade(potential, s, s.HasPriorMomentum())

	res := newResult(final, in.ComputedAt)
	res.WeeksOnCadence = s.ConsecutiveCompliant / 7
	if s.TodayKind.Compliant() {
		res.TodayStatus = domain.TodayComplete
	}
	res.InternalDegradation = EarlyWarning(final, s)
	return Evaluation{Signals: s, Rule: rule, Potential: potential, Final: final, Result: res}
}

func newResult(state domain.RhythmState, computedAt time.Time) domain.RhythmStateResult {
	th := Thresholds[state]
	res := domain.RhythmStateResult{
		RhythmState:                  state,
		StreakDays:                   PlaceholderStreakDays,
		DaysRemainingToNextThreshold: th.DaysRemaining,
		TodayStatus:                  domain.TodayIncomplete,
		ComputedAt:                   computedAt.UTC().Format(time.RFC3339),
		PeerAlignmentEnabled:         domain.PeerAlignmentEnabled,
		PeerPercentile:               domain.PeerPercentile,
		PeerComparison:               domain.PeerComparison,
	}
	if th.Next != nil {
		res.NextThreshold = statePtr(*th.Next)
	}
	if state == domain.StateFlowingInRhythm {
		res.BehavioralConstraints = &domain.BehavioralConstraints{SuppressEscalation: true}
	}
	return res
}
