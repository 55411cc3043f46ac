package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"agencyhub/internal/domain"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// With applies fields to e in order.
func With(e *bolt.Event, fields ...Field) *bolt.Event {
	for _, f := range fields {
		e = f(e)
	}
	return e
}

func UserID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("user_id", id)
	}
}

func ActorID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("actor_id", id)
	}
}

// State adds the resolved rhythm state.
func State(s domain.RhythmState) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("rhythm_state", string(s))
	}
}

// Potential adds the pre-degradation rhythm state.
func Potential(s domain.RhythmState) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("potential_state", string(s))
	}
}

func EventKind(k domain.EventKind) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event_kind", string(k))
	}
}

func Method(m string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("method", m)
	}
}

func Path(p string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("path", p)
	}
}

func Status(code int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("status", code)
	}
}

func URL(u string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("url", u)
	}
}

func Count(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("count", n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

func Degraded(v bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("internal_degradation", v)
	}
}

// Err adds an error field; nil errors are skipped.
func Err(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}
