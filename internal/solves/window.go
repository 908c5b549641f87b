package solves

import "time"

// RollingWindow is the lookback of the rolling policy.
const RollingWindow = 24 * time.Hour

// NormalizeDay truncates t to 00:00:00.000 of its calendar day in loc.
func NormalizeDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Filter returns the submissions that qualify under policy at now, in their
// original order. Unknown policies fall back to the calendar day.
func Filter(policy WindowPolicy, now time.Time, loc *time.Location, subs []Submission) []Submission {
	out := make([]Submission, 0, len(subs))
	switch policy {
	case WindowRolling24h:
		upper := now.Unix()
		lower := now.Add(-RollingWindow).Unix()
		for _, s := range subs {
			if s.Timestamp >= lower && s.Timestamp <= upper {
				out = append(out, s)
			}
		}
	default:
		today := NormalizeDay(now, loc)
		for _, s := range subs {
			if NormalizeDay(s.SolvedAt(), loc).Equal(today) {
				out = append(out, s)
			}
		}
	}
	return out
}
