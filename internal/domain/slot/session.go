package slot

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/platform/clock"
)

// SessionKey identifies one dated occurrence of a rule. Its string form is
// "<rule-uuid>_<YYYY-MM-DD>_<HHMM>".
type SessionKey struct {
	RuleID    uuid.UUID
	Date      string
	StartTime string
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.RuleID, k.Date, strings.Replace(k.StartTime, ":", "", 1))
}

// ParseSessionID is the inverse of SessionKey.String and rejects anything
// that would not print back identically.
func ParseSessionID(s string) (SessionKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return SessionKey{}, fmt.Errorf("invalid session id %q", s)
	}
	ruleID, err := uuid.Parse(parts[0])
	if err != nil {
		return SessionKey{}, fmt.Errorf("invalid session id %q: bad rule id", s)
	}
	date, err := clock.ParseDate(parts[1])
	if err != nil {
		return SessionKey{}, fmt.Errorf("invalid session id %q: bad date", s)
	}
	if len(parts[2]) != 4 {
		return SessionKey{}, fmt.Errorf("invalid session id %q: bad time", s)
	}
	start, err := clock.ParseTimeOfDay(parts[2][:2] + ":" + parts[2][2:])
	if err != nil {
		return SessionKey{}, fmt.Errorf("invalid session id %q: bad time", s)
	}

	key := SessionKey{RuleID: ruleID, Date: date, StartTime: start}
	if key.String() != s {
		return SessionKey{}, fmt.Errorf("invalid session id %q: not canonical", s)
	}
	return key, nil
}

// SlotTime is the (date, start time) pair bookings are counted under.
type SlotTime struct {
	Date string
	Time string
}

// Session is a materialized, bookable occurrence of a rule.
type Session struct {
	ID               string           `json:"id"`
	RuleID           uuid.UUID        `json:"slotRuleId"`
	DoctorID         uuid.UUID        `json:"doctorId"`
	Date             string           `json:"date"`
	DayOfWeek        DayOfWeek        `json:"dayOfWeek"`
	StartTime        string           `json:"startTime"`
	EndTime          string           `json:"endTime"`
	ConsultationType ConsultationType `json:"consultationType"`
	Capacity         int              `json:"maxPatients"`
	Booked           int              `json:"bookedCount"`
	Available        int              `json:"available_spots"`
}

// Availability is the answer to an availability query.
type Availability struct {
	Sessions []Session            `json:"slots"`
	ByDate   map[string][]Session `json:"slotsByDate"`
}

// SessionQuery filters an availability query. Empty dates take defaults.
type SessionQuery struct {
	StartDate string
	EndDate   string
	Type      string
}
