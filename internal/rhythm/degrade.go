package rhythm

import "agencyhub/internal/domain"

// Degrade lowers a potential state by at most one level when the recent miss
// pattern contradicts it. hasPriorMomentum only matters for STARTING_TO_FLOW:
// a recovering user needs two misses in the last 3 days to fall, a new user one.
func Degrade(potential domain.RhythmState, s Signals, hasPriorMomentum bool) domain.RhythmState {
	switch potential {
	case domain.StateFlowingInRhythm:
		if s.ConsecutiveMissed >= FlowingMissedStreak || s.Last7.Missed >= FlowingMissed7 {
			return domain.StateOnCadence
		}
	case domain.StateOnCadence:
		if s.Last4.Missed >= CadenceMissed4 {
			return domain.StateStartingToFlow
		}
	case domain.StateStartingToFlow:
		need := FragileMissed3
		if hasPriorMomentum {
			need = RecoveryMissed3
		}
		if s.Last3.Missed >= need {
			return domain.StateOffRhythm
		}
	}
	return potential
}

// EarlyWarning reports that a user is trending toward a downgrade of state
// without having crossed its threshold.
func EarlyWarning(state domain.RhythmState, s Signals) bool {
	switch state {
	case domain.StateOnCadence:
		return s.Last4.Missed == 1 || s.TodayKind == domain.KindMissed
	case domain.StateFlowingInRhythm:
		return s.ConsecutiveMissed == 1 || (s.Last7.Missed >= 1 && s.Last7.Missed <= 2)
	default:
		// STARTING_TO_FLOW falls in one step; the floors cannot fall.
		return false
	}
}
