package rhythm

import "agencyhub/internal/domain"

// Classification thresholds.
const (
	MasteryCompliant30  = 21
	CadenceCompliant7   = 6
	CadenceCompliant4   = 3
	MomentumMinimum4    = 1
	MomentumMaximum4    = 3
	PriorMomentumMin21  = 2
	FlowingMissedStreak = 2
	FlowingMissed7      = 3
	CadenceMissed4      = 2
	RecoveryMissed3     = 2
	FragileMissed3      = 1
)

// Rule is one entry of the classification table.
type Rule struct {
	Name  string
	Match func(Signals) bool
	State domain.RhythmState
}

// Rules is evaluated top to bottom; the first match wins.
var Rules = []Rule{
	{
		Name:  "mastery",
		Match: func(s Signals) bool { return s.Last30.Compliant >= MasteryCompliant30 },
		State: domain.StateFlowingInRhythm,
	},
	{
		Name: "full-compliance",
		Match: func(s Signals) bool {
			return s.Last7.Compliant >= CadenceCompliant7 && s.Last4.Compliant >= CadenceCompliant4
		},
		State: domain.StateOnCadence,
	},
	{
		Name: "early-momentum",
		Match: func(s Signals) bool {
			return s.Last4.Compliant >= MomentumMinimum4 && s.Last4.Compliant <= MomentumMaximum4
		},
		State: domain.StateStartingToFlow,
	},
	{
		Name:  "history",
		Match: func(s Signals) bool { return s.HasHistory },
		State: domain.StateOffRhythm,
	},
}

// Classify returns the potential state and the name of the rule that chose it.
func Classify(s Signals) (domain.RhythmState, string) {
	for _, r := range Rules {
		if r.Match(s) {
			return r.State, r.Name
		}
	}
	return domain.StateNotStarted, "none"
}
