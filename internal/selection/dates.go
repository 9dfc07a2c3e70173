package selection

import (
	"fmt"
	"time"
)

// DatePolicy selects how an add-on derives its pricing window.
type DatePolicy string

const (
	// PolicyInheritParent prices a single user-chosen day inside the accommodation stay.
	PolicyInheritParent DatePolicy = "inherit_parent"
	// PolicyCustom prices a configured window which the user may narrow but not exceed.
	PolicyCustom DatePolicy = "custom"
	// PolicyFree prices an independent range chosen by the user.
	PolicyFree DatePolicy = "free"
)

const dateLayout = "2006-01-02"

// DateRange is a half-open range of calendar days; To is exclusive.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewDateRange builds a range from two calendar dates in YYYY-MM-DD form.
func NewDateRange(from, to string) (DateRange, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse from: %w", err)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse to: %w", err)
	}
	return DateRange{From: start, To: end}, nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether either bound is unset.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() || r.To.IsZero()
}

// Valid reports whether the range is set and ends after it starts.
func (r DateRange) Valid() bool {
	return !r.IsZero() && Day(r.To).After(Day(r.From))
}

// Normalize truncates both bounds to calendar days.
func (r DateRange) Normalize() DateRange {
	return DateRange{From: Day(r.From), To: Day(r.To)}
}

// Contains reports whether day falls inside the half-open range.
func (r DateRange) Contains(day time.Time) bool {
	if !r.Valid() {
		return false
	}
	d := Day(day)
	n := r.Normalize()
	return !d.Before(n.From) && d.Before(n.To)
}

// Within reports whether r lies entirely inside outer.
func (r DateRange) Within(outer DateRange) bool {
	if !r.Valid() || !outer.Valid() {
		return false
	}
	in, out := r.Normalize(), outer.Normalize()
	return !in.From.Before(out.From) && !in.To.After(out.To)
}

// Nights counts the nights covered by the range.
func (r DateRange) Nights() int {
	if !r.Valid() {
		return 0
	}
	n := r.Normalize()
	return int(n.To.Sub(n.From) / (24 * time.Hour))
}

// String renders the range as from/to calendar dates.
func (r DateRange) String() string {
	if r.IsZero() {
		return ""
	}
	n := r.Normalize()
	return n.From.Format(dateLayout) + "/" + n.To.Format(dateLayout)
}

// ResolveWindow returns the pricing window of the add-on given the
// accommodation stay. The boolean is false when a required date input is
// missing; that is not an error, the add-on simply cannot be priced yet.
func (a *AddonSelection) ResolveWindow(stay DateRange) (DateRange, bool) {
	if a == nil {
		return DateRange{}, false
	}
	switch a.Policy {
	case PolicyInheritParent:
		if !stay.Valid() {
			return DateRange{}, false
		}
		day := Day(a.Day)
		if day.IsZero() || !stay.Contains(day) {
			day = Day(stay.From)
		}
		return DateRange{From: day, To: day.AddDate(0, 0, 1)}, true
	case PolicyCustom:
		if !a.Window.Valid() {
			return DateRange{}, false
		}
		if a.Range.IsZero() {
			return a.Window.Normalize(), true
		}
		narrowed := clampRange(a.Range.Normalize(), a.Window.Normalize())
		return narrowed, narrowed.Valid()
	case PolicyFree:
		if !a.Range.Valid() {
			return DateRange{}, false
		}
		return a.Range.Normalize(), true
	default:
		return DateRange{}, false
	}
}

func clampRange(r, bounds DateRange) DateRange {
	out := r
	if out.From.Before(bounds.From) {
		out.From = bounds.From
	}
	if out.To.After(bounds.To) {
		out.To = bounds.To
	}
	return out
}
