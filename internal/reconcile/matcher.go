package reconcile

import (
	"fmt"
	"sort"

	"github.com/zombor/billcheck/internal/billing"
	"github.com/zombor/billcheck/internal/extraction"
)

// MatchPolicy decides which measurement wins when several overlap a
// billing period.
type MatchPolicy int

const (
	// FirstCreated picks the earliest-created overlapping measurement.
	FirstCreated MatchPolicy = iota
	// GreatestOverlap picks the measurement sharing the most days with the
	// billing period. Ties go to the earliest-created one.
	GreatestOverlap
)

func (p MatchPolicy) String() string {
	switch p {
	case FirstCreated:
		return "first"
	case GreatestOverlap:
		return "overlap"
	default:
		return fmt.Sprintf("MatchPolicy(%d)", int(p))
	}
}

// ParseMatchPolicy reads the flag form of a policy.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch s {
	case "first", "":
		return FirstCreated, nil
	case "overlap":
		return GreatestOverlap, nil
	default:
		return 0, fmt.Errorf("unknown match policy %q (want first or overlap)", s)
	}
}

// Period is a closed interval of calendar days.
type Period struct {
	Start extraction.Date
	End   extraction.Date
}

// measured returns the calendar days a measurement covers.
func measured(m *billing.Measurement) Period {
	return Period{Start: extraction.DateOf(m.Start), End: extraction.DateOf(m.End)}
}

// Overlaps reports whether m shares at least one day with p.
func (p Period) Overlaps(m *billing.Measurement) bool {
	mp := measured(m)
	return !mp.Start.After(p.End.Time) && !mp.End.Before(p.Start.Time)
}

// sharedDays counts the days m and p have in common, both ends included.
func (p Period) sharedDays(m *billing.Measurement) int {
	mp := measured(m)
	start, end := p.Start, p.End
	if mp.Start.After(start.Time) {
		start = mp.Start
	}
	if mp.End.Before(end.Time) {
		end = mp.End
	}
	if end.Before(start.Time) {
		return 0
	}
	return int(end.Sub(start.Time).Hours()/24) + 1
}

// Matcher finds the measurements that can back an invoice.
type Matcher struct {
	Policy MatchPolicy
}

// Overlapping returns the measurements overlapping period in creation order.
func (mt Matcher) Overlapping(period Period, measurements []*billing.Measurement) []*billing.Measurement {
	found := make([]*billing.Measurement, 0)
	for _, m := range measurements {
		if period.Overlaps(m) {
			found = append(found, m)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Seq < found[j].Seq })
	return found
}

// Select picks one overlapping measurement according to the policy. It
// returns ErrNoMatchingMeasurement when nothing overlaps.
func (mt Matcher) Select(period Period, measurements []*billing.Measurement) (*billing.Measurement, error) {
	candidates := mt.Overlapping(period, measurements)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoMatchingMeasurement, period.Start, period.End)
	}

	best := candidates[0]
	if mt.Policy == GreatestOverlap {
		bestDays := period.sharedDays(best)
		for _, m := range candidates[1:] {
			if days := period.sharedDays(m); days > bestDays {
				best, bestDays = m, days
			}
		}
	}
	return best, nil
}
