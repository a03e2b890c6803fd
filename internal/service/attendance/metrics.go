package attendance

import (
	"math"
	"sort"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
)

// Metrics is the hour-based attendance summary over a date range.
type Metrics struct {
	Range                attendance.DateRange
	TotalRecords         int
	ScheduledHours       float64
	AttendedHours        float64
	AttendancePercentage float64

	// Day tallies are display counts, independent of the percentage. They
	// count dates that appear in the history: AbsentDays is the dates whose
	// records carry no check-in, as the HRIS writes for a missed shift. A
	// scheduled date with no record at all is not counted.
	PresentDays int
	LateDays    int
	AbsentDays  int
}

// Aggregate sums scheduled and attended hours over the entries dated
// within r. The percentage is attended over scheduled hours, rounded to
// one decimal and clamped to [0, 100]; it is 0 when nothing was scheduled.
func Aggregate(entries []attendance.HistoryEntry, r attendance.DateRange, defaultTolerance attendance.ToleranceSettings) Metrics {
	m := Metrics{Range: r}
	days := make(map[time.Time][]attendance.HistoryEntry)

	for _, e := range entries {
		date := entryDate(e)
		if date.IsZero() || !r.Includes(date) {
			continue
		}
		m.TotalRecords++
		days[dayOf(date)] = append(days[dayOf(date)], e)

		if e.Template == nil {
			continue
		}
		scheduled, attended := entryHours(e, date)
		m.ScheduledHours += scheduled
		m.AttendedHours += attended
	}

	if m.ScheduledHours > 0 {
		pct := m.AttendedHours * 100 / m.ScheduledHours
		m.AttendancePercentage = math.Max(0, math.Min(100, math.Round(pct*10)/10))
	}
	m.ScheduledHours = roundHours(m.ScheduledHours)
	m.AttendedHours = roundHours(m.AttendedHours)

	for _, dayEntries := range days {
		switch classifyDay(dayEntries, defaultTolerance) {
		case attendance.LabelPresent:
			m.PresentDays++
		case attendance.LabelLate:
			m.LateDays++
		default:
			m.AbsentDays++
		}
	}

	return m
}

// entryHours returns the scheduled and attended hours of one record. The
// record's own times are used; an open record counts as nothing attended.
func entryHours(e attendance.HistoryEntry, date time.Time) (scheduled, attended float64) {
	start, end := anchorTemplate(*e.Template, date)
	window := end.Sub(start)

	scheduled = window.Hours()
	if e.Template.DurationHours != nil && *e.Template.DurationHours > 0 {
		scheduled = *e.Template.DurationHours
	}

	rec := e.Record
	if rec.TimeIn == nil || rec.TimeOut == nil {
		return scheduled, 0
	}

	wt := CalculateWorkedTime(start, end, []attendance.AttendanceRecord{rec}, *rec.TimeOut)
	attended = math.Min(wt.Worked.Hours(), scheduled)
	return scheduled, attended
}

// classifyDay labels a date by its earliest check-in. A date whose records
// carry no check-in is absent.
func classifyDay(entries []attendance.HistoryEntry, defaultTolerance attendance.ToleranceSettings) attendance.CheckInLabel {
	sort.SliceStable(entries, func(i, j int) bool {
		return recordBefore(entries[i].Record, entries[j].Record)
	})

	first := entries[0]
	if first.Record.TimeIn == nil {
		return ""
	}
	if first.Template == nil {
		return attendance.LabelPresent
	}

	tol := defaultTolerance
	if first.Tolerance != nil {
		tol = *first.Tolerance
	}
	start, _ := anchorTemplate(*first.Template, entryDate(first))
	if first.Record.TimeIn.After(start.Add(tol.LateTolerance())) {
		return attendance.LabelLate
	}
	return attendance.LabelPresent
}

// anchorTemplate places a template on date in the date's location.
func anchorTemplate(t attendance.ShiftTemplate, date time.Time) (time.Time, time.Time) {
	loc := date.Location()
	start := t.StartTime.On(date, loc)
	end := t.EndTime.On(date, loc)
	if t.IsOvernight() {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

func entryDate(e attendance.HistoryEntry) time.Time {
	if !e.Record.Date.IsZero() {
		return e.Record.Date
	}
	if e.Record.TimeIn != nil {
		return dayOf(*e.Record.TimeIn)
	}
	return time.Time{}
}

func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
