package flash

import "sync"

// Progress is passed to a ProgressFunc. Done is set on exactly one call, the
// last one of a flash attempt, whether it succeeded or not.
type Progress struct {
	Fraction float64
	Done     bool
	Partial  bool
}

type ProgressFunc func(Progress)

// Throttle drops updates advancing less than minStep since the last one
// passed on. Done and the 0 and 1 boundaries always get through.
func Throttle(fn ProgressFunc, minStep float64) ProgressFunc {
	var mu sync.Mutex
	last := -1.0
	return func(p Progress) {
		mu.Lock()
		pass := p.Done || p.Fraction == 0 || p.Fraction == 1 || last < 0 || p.Fraction-last >= minStep
		if pass && !p.Done {
			last = p.Fraction
		}
		mu.Unlock()
		if pass {
			fn(p)
		}
	}
}

// reporter keeps fractions within [0,1] and non-decreasing and guarantees
// a single terminal call.
type reporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last float64
	done bool
}

func newReporter(fn ProgressFunc) *reporter {
	return &reporter{fn: fn}
}

func (r *reporter) report(fraction float64, partial bool) {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	r.mu.Lock()
	if r.done || fraction < r.last {
		r.mu.Unlock()
		return
	}
	r.last = fraction
	r.mu.Unlock()
	if r.fn != nil {
		r.fn(Progress{Fraction: fraction, Partial: partial})
	}
}

func (r *reporter) finish(partial bool) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()
	if r.fn != nil {
		r.fn(Progress{Fraction: r.last, Done: true, Partial: partial})
	}
}
