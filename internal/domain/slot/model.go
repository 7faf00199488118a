package slot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DayOfWeek names a weekday. The working week starts on Saturday.
type DayOfWeek string

const (
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
)

var weekOrder = []DayOfWeek{Saturday, Sunday, Monday, Tuesday, Wednesday, Thursday, Friday}

// ParseDayOfWeek accepts any letter case.
func ParseDayOfWeek(s string) (DayOfWeek, error) {
	d := DayOfWeek(strings.ToUpper(strings.TrimSpace(s)))
	if d.Order() < 0 {
		return "", fmt.Errorf("invalid dayOfWeek %q", s)
	}
	return d, nil
}

// Order is the position in the Saturday-first week, or -1.
func (d DayOfWeek) Order() int {
	for i, w := range weekOrder {
		if w == d {
			return i
		}
	}
	return -1
}

func FromWeekday(w time.Weekday) DayOfWeek {
	switch w {
	case time.Saturday:
		return Saturday
	case time.Sunday:
		return Sunday
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	default:
		return Friday
	}
}

type ConsultationType string

const (
	Physical     ConsultationType = "PHYSICAL"
	Telemedicine ConsultationType = "TELEMEDICINE"
	Both         ConsultationType = "BOTH"
)

func ParseConsultationType(s string) (ConsultationType, error) {
	c := ConsultationType(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case Physical, Telemedicine, Both:
		return c, nil
	}
	return "", fmt.Errorf("invalid consultation type %q", s)
}

// Serves reports whether a rule of type c can host a requested visit type.
// An empty request matches everything.
func (c ConsultationType) Serves(requested ConsultationType) bool {
	if requested == "" || requested == Both {
		return true
	}
	return c == Both || c == requested
}

// VisitType is the concrete type recorded on an appointment when the patient
// did not choose one.
func (c ConsultationType) VisitType() ConsultationType {
	if c == Both {
		return Physical
	}
	return c
}

// Rule is a weekly recurring availability window. StartTime and EndTime are
// "HH:MM" in the business timezone.
type Rule struct {
	ID               uuid.UUID        `json:"id"`
	DoctorID         uuid.UUID        `json:"doctorId"`
	DayOfWeek        DayOfWeek        `json:"dayOfWeek"`
	StartTime        string           `json:"startTime"`
	EndTime          string           `json:"endTime"`
	ConsultationType ConsultationType `json:"consultationType"`
	MaxPatients      int              `json:"maxPatients"`
	Active           bool             `json:"isActive"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

const maxPatientsLimit = 500

// CreateRuleInput is the body of POST /slots. DoctorID is only honoured for
// admins; doctors always create rules for themselves.
type CreateRuleInput struct {
	DoctorID         *uuid.UUID `json:"doctorId,omitempty"`
	DayOfWeek        string     `json:"dayOfWeek" validate:"required"`
	StartTime        string     `json:"startTime" validate:"required,hhmm"`
	EndTime          string     `json:"endTime" validate:"required,hhmm"`
	ConsultationType string     `json:"consultationType"`
	MaxPatients      int        `json:"maxPatients" validate:"required,min=1,max=500"`
}

// RulePatch is the body of PUT /slots/:id; nil fields are left unchanged.
type RulePatch struct {
	DayOfWeek        *string `json:"dayOfWeek,omitempty"`
	StartTime        *string `json:"startTime,omitempty"`
	EndTime          *string `json:"endTime,omitempty"`
	ConsultationType *string `json:"consultationType,omitempty"`
	MaxPatients      *int    `json:"maxPatients,omitempty"`
	Active           *bool   `json:"isActive,omitempty"`
}

func (p RulePatch) empty() bool {
	return p.DayOfWeek == nil && p.StartTime == nil && p.EndTime == nil &&
		p.ConsultationType == nil && p.MaxPatients == nil && p.Active == nil
}
