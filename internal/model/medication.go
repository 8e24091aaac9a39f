package model

import (
	"encoding/json"
	"slices"
	"time"
)

type Medication struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Name      string      `json:"name"`
	Dose      string      `json:"dose"`
	Times     []TimeOfDay `json:"times"`
	Duration  int         `json:"duration"`
	StartDate Date        `json:"startDate"`
	EndDate   Date        `json:"endDate"`
	Adherence Adherence   `json:"takenDates"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy so callers can derive a new state without
// touching the original.
func (m Medication) Clone() Medication {
	c := m
	c.Times = slices.Clone(m.Times)
	c.Adherence = m.Adherence.Clone()
	return c
}

// Adherence maps a date to the scheduled times marked taken that day.
// Times are kept sorted; dates with no times are absent.
type Adherence map[Date][]TimeOfDay

type takenDate struct {
	Date  Date        `json:"date"`
	Times []TimeOfDay `json:"times"`
}

func (a Adherence) Clone() Adherence {
	c := make(Adherence, len(a))
	for d, ts := range a {
		c[d] = slices.Clone(ts)
	}
	return c
}

// Dates returns the dates with at least one taken time, ascending.
func (a Adherence) Dates() []Date {
	dates := make([]Date, 0, len(a))
	for d, ts := range a {
		if len(ts) > 0 {
			dates = append(dates, d)
		}
	}
	slices.Sort(dates)
	return dates
}

func (a Adherence) Has(d Date, t TimeOfDay) bool {
	return slices.Contains(a[d], t)
}

// MarshalJSON encodes as [{date, times}] sorted by date.
func (a Adherence) MarshalJSON() ([]byte, error) {
	out := make([]takenDate, 0, len(a))
	for _, d := range a.Dates() {
		out = append(out, takenDate{Date: d, Times: a[d]})
	}
	return json.Marshal(out)
}

func (a *Adherence) UnmarshalJSON(data []byte) error {
	var in []takenDate
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m := make(Adherence, len(in))
	for _, td := range in {
		if len(td.Times) == 0 {
			continue
		}
		ts := append(m[td.Date], td.Times...)
		slices.Sort(ts)
		m[td.Date] = slices.Compact(ts)
	}
	*a = m
	return nil
}

// GuardedMedications groups the medications of one protected user.
type GuardedMedications struct {
	User        User         `json:"user"`
	Medications []Medication `json:"medications"`
}

type MedicationsResponse struct {
	UserMedications     []Medication         `json:"userMedications"`
	GuardianMedications []GuardedMedications `json:"guardianMedications"`
}

type CreateMedicationRequest struct {
	Name      string   `json:"name"`
	Dose      string   `json:"dose"`
	Times     []string `json:"times"`
	Duration  int      `json:"duration"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate,omitempty"`
}

type ToggleRequest struct {
	Date Date      `json:"date"`
	Time TimeOfDay `json:"time"`
}
