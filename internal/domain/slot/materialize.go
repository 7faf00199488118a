package slot

import (
	"fmt"
	"sort"
	"time"

	"github.com/mediconnect/mediconnect/internal/platform/clock"
)

// Materialize expands rules into the sessions of every date in [start, end]
// that serve filter. counts holds the live bookings per (date, start time).
// Sessions with no room left are omitted. Output is ordered by date, start
// time, then rule id. Inactive rules are skipped.
func Materialize(rules []*Rule, start, end string, filter ConsultationType, counts map[SlotTime]int) ([]Session, error) {
	from, err := time.Parse(clock.DateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q", start)
	}
	to, err := time.Parse(clock.DateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q", end)
	}

	byDay := make(map[DayOfWeek][]*Rule, len(weekOrder))
	for _, r := range rules {
		if !r.Active || !r.ConsultationType.Serves(filter) {
			continue
		}
		byDay[r.DayOfWeek] = append(byDay[r.DayOfWeek], r)
	}

	var sessions []Session
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := FromWeekday(d.Weekday())
		date := d.Format(clock.DateLayout)
		for _, r := range byDay[day] {
			booked := counts[SlotTime{Date: date, Time: r.StartTime}]
			available := r.MaxPatients - booked
			if available <= 0 {
				continue
			}
			sessions = append(sessions, Session{
				ID:               SessionKey{RuleID: r.ID, Date: date, StartTime: r.StartTime}.String(),
				RuleID:           r.ID,
				DoctorID:         r.DoctorID,
				Date:             date,
				DayOfWeek:        day,
				StartTime:        r.StartTime,
				EndTime:          r.EndTime,
				ConsultationType: r.ConsultationType,
				Capacity:         r.MaxPatients,
				Booked:           booked,
				Available:        available,
			})
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.RuleID.String() < b.RuleID.String()
	})
	return sessions, nil
}

// GroupByDate indexes sessions by date, keeping their order.
func GroupByDate(sessions []Session) map[string][]Session {
	out := make(map[string][]Session)
	for _, s := range sessions {
		out[s.Date] = append(out[s.Date], s)
	}
	return out
}

// SortRules orders rules Saturday-first, then by start time.
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		oi, oj := rules[i].DayOfWeek.Order(), rules[j].DayOfWeek.Order()
		if oi != oj {
			return oi < oj
		}
		return rules[i].StartTime < rules[j].StartTime
	})
}
