// Package adherence tracks which scheduled doses of a medication were taken.
// Every function is pure: inputs are never mutated and results are derived
// on demand rather than stored.
package adherence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/model"
)

// IsWithinSchedule reports whether (date, t) is a dose slot of m.
func IsWithinSchedule(m model.Medication, date model.Date, t model.TimeOfDay) bool {
	if date.Before(m.StartDate) || date.After(m.EndDate) {
		return false
	}
	return slices.Contains(m.Times, t)
}

// ExpectedDoseCount is the total number of dose slots over the course.
func ExpectedDoseCount(m model.Medication) int {
	return m.Duration * len(m.Times)
}

// CompletedCount is the number of slots marked taken.
func CompletedCount(m model.Medication) int {
	n := 0
	for _, ts := range m.Adherence {
		n += len(ts)
	}
	return n
}

// Toggle flips the taken state of (date, t) and returns the new medication.
// Applying it twice yields the original adherence.
func Toggle(m model.Medication, date model.Date, t model.TimeOfDay) (model.Medication, error) {
	if date.Before(m.StartDate) || date.After(m.EndDate) {
		return m, apperr.Validation(fmt.Sprintf("date %s is outside %s to %s", date, m.StartDate, m.EndDate))
	}
	if !slices.Contains(m.Times, t) {
		return m, apperr.Validation(fmt.Sprintf("time %s is not scheduled for %s", t, m.Name))
	}

	next := m.Clone()
	if next.Adherence == nil {
		next.Adherence = model.Adherence{}
	}
	taken := next.Adherence[date]
	if i := slices.Index(taken, t); i >= 0 {
		taken = slices.Delete(taken, i, i+1)
	} else {
		taken = append(taken, t)
		slices.Sort(taken)
	}
	if len(taken) == 0 {
		delete(next.Adherence, date)
	} else {
		next.Adherence[date] = taken
	}
	return next, nil
}

// SelectSlot picks the time a quick "take" applies to: the first scheduled
// time at or after now, wrapping to the earliest time once the day's slots
// have passed. times may be in any order.
func SelectSlot(times []model.TimeOfDay, now model.TimeOfDay) (model.TimeOfDay, error) {
	if len(times) == 0 {
		return "", apperr.Validation("medication has no scheduled times")
	}
	sorted := slices.Sorted(slices.Values(times))
	for _, t := range sorted {
		if t >= now {
			return t, nil
		}
	}
	return sorted[0], nil
}

// Take toggles the slot selected for now on now's calendar date.
func Take(m model.Medication, now time.Time) (model.Medication, model.Date, model.TimeOfDay, error) {
	slot, err := SelectSlot(m.Times, model.TimeOfDayOf(now))
	if err != nil {
		return m, "", "", err
	}
	date := model.DateOf(now)
	next, err := Toggle(m, date, slot)
	if err != nil {
		return m, "", "", err
	}
	return next, date, slot, nil
}

// NewMedication validates a create request and builds the medication it
// describes. The end date is always derived from start and duration.
func NewMedication(ownerID string, req model.CreateMedicationRequest) (model.Medication, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Medication{}, apperr.Validation("name is required")
	}
	if req.Duration < 1 {
		return model.Medication{}, apperr.Validation("duration must be at least one day")
	}
	start, err := model.ParseDate(req.StartDate)
	if err != nil {
		return model.Medication{}, apperr.Validation(err.Error())
	}
	times, err := normalizeTimes(req.Times)
	if err != nil {
		return model.Medication{}, err
	}

	m := model.Medication{
		OwnerID:   ownerID,
		Name:      name,
		Dose:      strings.TrimSpace(req.Dose),
		Times:     times,
		Duration:  req.Duration,
		StartDate: start,
		EndDate:   start.AddDays(req.Duration - 1),
		Adherence: model.Adherence{},
	}

	if req.EndDate != "" {
		end, err := model.ParseDate(req.EndDate)
		if err != nil {
			return model.Medication{}, apperr.Validation(err.Error())
		}
		if end != m.EndDate {
			return model.Medication{}, apperr.Validation(fmt.Sprintf("end date %s does not match %d days from %s", end, req.Duration, start))
		}
	}
	return m, nil
}

func normalizeTimes(raw []string) ([]model.TimeOfDay, error) {
	if len(raw) == 0 {
		return nil, apperr.Validation("at least one time is required")
	}
	times := make([]model.TimeOfDay, 0, len(raw))
	for _, s := range raw {
		t, err := model.ParseTimeOfDay(s)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		if slices.Contains(times, t) {
			return nil, apperr.Validation(fmt.Sprintf("time %s is listed twice", t))
		}
		times = append(times, t)
	}
	slices.Sort(times)
	return times, nil
}

// Normalize returns a copy of m with its times and taken doses sorted.
// Servers do not promise any order.
func Normalize(m model.Medication) model.Medication {
	n := m.Clone()
	slices.Sort(n.Times)
	for _, ts := range n.Adherence {
		slices.Sort(ts)
	}
	return n
}

// Validate checks the invariants of a medication received from elsewhere.
func Validate(m model.Medication) error {
	if m.Duration < 1 {
		return apperr.Validation("duration must be at least one day")
	}
	if m.EndDate.Before(m.StartDate) {
		return apperr.Validation("end date is before start date")
	}
	if m.StartDate.AddDays(m.Duration-1) != m.EndDate {
		return apperr.Validation("end date does not match duration")
	}
	if !slices.IsSorted(m.Times) || len(slices.Compact(slices.Clone(m.Times))) != len(m.Times) {
		return apperr.Validation("times must be sorted and unique")
	}
	for date, ts := range m.Adherence {
		for _, t := range ts {
			if !IsWithinSchedule(m, date, t) {
				return apperr.Validation(fmt.Sprintf("taken dose %s %s is outside the schedule", date, t))
			}
		}
	}
	return nil
}

// Day is one calendar day of a course.
type Day struct {
	Date     model.Date
	Taken    []model.TimeOfDay
	Complete bool
}

// Days lists every date of the course with the doses taken on it.
func Days(m model.Medication) []Day {
	days := make([]Day, 0, max(m.Duration, 0))
	for d := m.StartDate; !d.After(m.EndDate); d = d.AddDays(1) {
		taken := m.Adherence[d]
		days = append(days, Day{
			Date:     d,
			Taken:    slices.Clone(taken),
			Complete: len(m.Times) > 0 && len(taken) == len(m.Times),
		})
		if len(days) > m.Duration {
			break
		}
	}
	return days
}
