package attendance

import (
	"sort"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
)

// shiftCandidate is a schedule anchored to concrete instants.
type shiftCandidate struct {
	shift attendance.ShiftSchedule
	start time.Time
	end   time.Time
	index int
}

// ResolveShift picks the effective shift out of today's schedules.
//
// An open record pins the shift it was checked into, so checkout always
// targets that shift whatever the current time. Otherwise the shift whose
// buffered window contains now wins, then the nearest upcoming shift, then
// the most recent past one. Schedules with unusable templates are ignored;
// nil is returned when nothing is left.
func ResolveShift(
	shifts []attendance.ShiftSchedule,
	now time.Time,
	open *attendance.AttendanceRecord,
	tol attendance.ToleranceSettings,
) *attendance.Resolution {
	if open != nil && open.TimeIn != nil {
		if open.ScheduleID != nil {
			for i, s := range shifts {
				if s.ID != *open.ScheduleID || !s.Template.Valid() {
					continue
				}
				c := anchorShift(s, i, *open.TimeIn, tol)
				return buildResolution(c, now, tol, true)
			}
		}
		if c, ok := selectShift(shifts, *open.TimeIn, tol); ok {
			return buildResolution(c, now, tol, true)
		}
	}

	c, ok := selectShift(shifts, now, tol)
	if !ok {
		return nil
	}
	return buildResolution(c, now, tol, false)
}

// selectShift applies the current > upcoming > past > first priority
// against ref.
func selectShift(shifts []attendance.ShiftSchedule, ref time.Time, tol attendance.ToleranceSettings) (shiftCandidate, bool) {
	var current, upcoming, past, valid []shiftCandidate

	for i, s := range shifts {
		if !s.Template.Valid() {
			continue
		}
		c := anchorShift(s, i, ref, tol)
		valid = append(valid, c)

		bufferedStart := c.start.Add(-tol.CheckinBefore())
		switch {
		case !ref.Before(bufferedStart) && !ref.After(c.end):
			current = append(current, c)
		case c.start.After(ref):
			upcoming = append(upcoming, c)
		default:
			past = append(past, c)
		}
	}

	if len(current) > 0 {
		sort.SliceStable(current, func(i, j int) bool { return earlierStart(current[i], current[j]) })
		return current[0], true
	}
	if len(upcoming) > 0 {
		sort.SliceStable(upcoming, func(i, j int) bool { return earlierStart(upcoming[i], upcoming[j]) })
		return upcoming[0], true
	}
	if len(past) > 0 {
		sort.SliceStable(past, func(i, j int) bool { return earlierStart(past[j], past[i]) })
		return past[0], true
	}
	if len(valid) > 0 {
		return valid[0], true
	}
	return shiftCandidate{}, false
}

// anchorShift places a schedule on the calendar relative to ref. The end of
// an overnight shift rolls to the next day. When ref falls in the tail of
// the previous day's instance of an overnight shift, that instance is used.
func anchorShift(s attendance.ShiftSchedule, index int, ref time.Time, tol attendance.ToleranceSettings) shiftCandidate {
	loc := ref.Location()
	day := s.Date
	if day.IsZero() {
		day = ref
	}

	start := s.Template.StartTime.On(day, loc)
	end := s.Template.EndTime.On(day, loc)
	if s.Template.IsOvernight() {
		end = end.AddDate(0, 0, 1)

		prevStart, prevEnd := start.AddDate(0, 0, -1), end.AddDate(0, 0, -1)
		if ref.Before(start.Add(-tol.CheckinBefore())) && !ref.After(prevEnd) && !ref.Before(prevStart.Add(-tol.CheckinBefore())) {
			start, end = prevStart, prevEnd
		}
	}

	return shiftCandidate{shift: s, start: start, end: end, index: index}
}

func earlierStart(a, b shiftCandidate) bool {
	if !a.start.Equal(b.start) {
		return a.start.Before(b.start)
	}
	if a.shift.Sequence != b.shift.Sequence {
		return a.shift.Sequence < b.shift.Sequence
	}
	return a.shift.ID < b.shift.ID
}

func buildResolution(c shiftCandidate, now time.Time, tol attendance.ToleranceSettings, forced bool) *attendance.Resolution {
	window := attendance.Window{
		Earliest: c.start.Add(-tol.CheckinBefore()),
		Latest:   c.end,
	}
	isCurrent := window.Contains(now)

	return &attendance.Resolution{
		Shift:              c.shift,
		Start:              c.start,
		End:                c.end,
		CheckinWindow:      window,
		LateAfter:          c.start.Add(tol.LateTolerance()),
		CheckoutReminderAt: c.end.Add(tol.CheckoutAfter()),
		IsCurrent:          isCurrent,
		IsUpcoming:         !isCurrent && c.start.After(now),
		Forced:             forced,
	}
}

// ClassifyCheckIn labels a check-in as present or late. Late tolerance only
// affects this label; eligibility runs until shift end.
func ClassifyCheckIn(res *attendance.Resolution, timeIn time.Time) attendance.CheckInLabel {
	if res == nil || !timeIn.After(res.LateAfter) {
		return attendance.LabelPresent
	}
	return attendance.LabelLate
}
