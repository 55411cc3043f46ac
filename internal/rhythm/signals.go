package rhythm

import (
	"sort"
	"time"

	"agencyhub/internal/domain"
)

// Density window lengths in days, each inclusive of today.
const (
	Window30 = 30
	Window21 = 21
	Window7  = 7
	Window4  = 4
	Window3  = 3
)

// Tally counts compliant and missed days inside one density window.
// RESET days count as neither.
type Tally struct {
	Compliant int `json:"compliant"`
	Missed    int `json:"missed"`
}

// Signals is everything the classifier and the degradation rules read.
type Signals struct {
	Last30 Tally `json:"last_30"`
	Last21 Tally `json:"last_21"`
	Last7  Tally `json:"last_7"`
	Last4  Tally `json:"last_4"`
	Last3  Tally `json:"last_3"`

	ConsecutiveCompliant int `json:"consecutive_compliant"`
	ConsecutiveMissed    int `json:"consecutive_missed"`

	TodayKind  domain.EventKind `json:"today_kind,omitempty"`
	HasHistory bool             `json:"has_history"`
}

// HasPriorMomentum separates recovering users from brand new ones.
func (s Signals) HasPriorMomentum() bool {
	return s.Last21.Compliant >= PriorMomentumMin21
}

// history is a date-desc view over one user's events, cut at today.
type history struct {
	today  time.Time
	days   []domain.CadenceEvent
	byDate map[time.Time]domain.EventKind
}

func newHistory(today time.Time, events []domain.CadenceEvent) history {
	h := history{
		today:  domain.Day(today),
		days:   make([]domain.CadenceEvent, 0, len(events)),
		byDate: make(map[time.Time]domain.EventKind, len(events)),
	}
	for _, ev := range events {
		d := domain.Day(ev.Date)
		if d.After(h.today) {
			continue
		}
		// one event per date; the first one wins
		if _, dup := h.byDate[d]; dup {
			continue
		}
		ev.Date = d
		h.byDate[d] = ev.Kind
		h.days = append(h.days, ev)
	}
	sort.SliceStable(h.days, func(i, j int) bool { return h.days[i].Date.After(h.days[j].Date) })
	return h
}

// window returns the events dated within the last n days, today included.
func (h history) window(n int) []domain.CadenceEvent {
	cutoff := h.today.AddDate(0, 0, -n)
	idx := sort.Search(len(h.days), func(i int) bool { return !h.days[i].Date.After(cutoff) })
	return h.days[:idx]
}

func tally(events []domain.CadenceEvent) Tally {
	var t Tally
	for _, ev := range events {
		switch {
		case ev.Kind.Compliant():
			t.Compliant++
		case ev.Kind == domain.KindMissed:
			t.Missed++
		}
	}
	return t
}

// walk steps back one day at a time from today. A date with no event ends
// the walk, RESET is skipped, days matching count increment, and anything
// else ends the walk.
func (h history) walk(count func(domain.EventKind) bool) int {
	n := 0
	for d := h.today; ; d = d.AddDate(0, 0, -1) {
		kind, ok := h.byDate[d]
		if !ok {
			return n
		}
		switch {
		case kind == domain.KindReset:
			continue
		case count(kind):
			n++
		default:
			return n
		}
	}
}

func (h history) signals(everRecorded bool) Signals {
	s := Signals{
		Last30:               tally(h.window(Window30)),
		Last21:               tally(h.window(Window21)),
		Last7:                tally(h.window(Window7)),
		Last4:                tally(h.window(Window4)),
		Last3:                tally(h.window(Window3)),
		ConsecutiveCompliant: h.walk(domain.EventKind.Compliant),
		ConsecutiveMissed:    h.walk(func(k domain.EventKind) bool { return k == domain.KindMissed }),
		HasHistory:           everRecorded || len(h.days) > 0,
	}
	if kind, ok := h.byDate[h.today]; ok {
		s.TodayKind = kind
	}
	return s
}

// Measure computes the density signals for events as of today.
func Measure(today time.Time, events []domain.CadenceEvent, everRecorded bool) Signals {
	return newHistory(today, events).signals(everRecorded)
}
