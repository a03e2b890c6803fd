package attendance

import (
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
)

// CalculateWorkedTime measures attendance against the shift window
// [start, end].
//
// Worked time runs from the earliest check-in (not before start) to the
// latest checkout (not after end); an open record extends it to now. It is
// never negative and never exceeds the shift duration. Shortage counts
// from the shift start, not from the arrival, up to now or the last
// checkout of a closed session.
func CalculateWorkedTime(start, end time.Time, records []attendance.AttendanceRecord, now time.Time) attendance.WorkedTime {
	duration := end.Sub(start)
	if duration < 0 {
		duration = 0
	}

	var earliestIn, latestOut, lastCheckout *time.Time
	hasOpen := false

	for _, r := range records {
		if r.TimeIn == nil {
			continue
		}
		if earliestIn == nil || r.TimeIn.Before(*earliestIn) {
			in := *r.TimeIn
			earliestIn = &in
		}
		if r.TimeOut == nil {
			hasOpen = true
			continue
		}
		if lastCheckout == nil || r.TimeOut.After(*lastCheckout) {
			raw := *r.TimeOut
			lastCheckout = &raw
		}
		out := minTime(*r.TimeOut, end)
		if latestOut == nil || out.After(*latestOut) {
			latestOut = &out
		}
	}

	if hasOpen {
		out := minTime(now, end)
		if latestOut == nil || out.After(*latestOut) {
			latestOut = &out
		}
	}

	result := attendance.WorkedTime{Duration: duration}

	if earliestIn != nil && latestOut != nil {
		effIn := maxTime(*earliestIn, start)
		effOut := *latestOut
		result.EffectiveIn = &effIn
		result.EffectiveOut = &effOut
		if effOut.After(effIn) {
			result.Worked = effOut.Sub(effIn)
		}
	}
	if result.Worked > duration {
		result.Worked = duration
	}

	if duration > 0 {
		result.ProgressPercent = float64(result.Worked) / float64(duration) * 100
		if result.ProgressPercent > 100 {
			result.ProgressPercent = 100
		}
	}

	shortageRef := now
	if !hasOpen && lastCheckout != nil {
		shortageRef = minTime(now, *lastCheckout)
	}
	elapsed := shortageRef.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed < duration {
		result.Shortage = duration - elapsed
	}

	return result
}

// WorkedTimeForShift evaluates the records belonging to the resolved shift.
func WorkedTimeForShift(res *attendance.Resolution, records []attendance.AttendanceRecord, now time.Time) attendance.WorkedTime {
	if res == nil {
		return attendance.WorkedTime{}
	}
	return CalculateWorkedTime(res.Start, res.End, RecordsForShift(res, records), now)
}

// RecordsForShift returns the records tied to the resolved shift. Records
// without a schedule id are attributed by their check-in time.
func RecordsForShift(res *attendance.Resolution, records []attendance.AttendanceRecord) []attendance.AttendanceRecord {
	var out []attendance.AttendanceRecord
	for _, r := range records {
		switch {
		case r.ScheduleID != nil:
			if *r.ScheduleID == res.Shift.ID {
				out = append(out, r)
			}
		case r.TimeIn != nil && !r.TimeIn.Before(res.CheckinWindow.Earliest) && !r.TimeIn.After(res.End):
			out = append(out, r)
		}
	}
	return out
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
