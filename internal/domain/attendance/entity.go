package attendance

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day expressed as minutes since midnight.
type ClockTime int

// NewClockTime builds a ClockTime from hour and minute.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

// Valid reports whether c lies within a single day.
func (c ClockTime) Valid() bool {
	return c >= 0 && c < 24*60
}

// String formats c as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On anchors c on the calendar day of date in loc.
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}

// ShiftTemplate is the canonical shift definition produced by schedule
// ingestion. EndTime before StartTime denotes an overnight shift.
type ShiftTemplate struct {
	StartTime     ClockTime
	EndTime       ClockTime
	DurationHours *float64
}

// IsOvernight reports whether the shift wraps to the next day.
func (t ShiftTemplate) IsOvernight() bool {
	return t.EndTime < t.StartTime
}

// Valid reports whether both ends are usable times of day.
func (t ShiftTemplate) Valid() bool {
	return t.StartTime.Valid() && t.EndTime.Valid() && t.StartTime != t.EndTime
}

// ShiftSchedule assigns a template to a staff member for a date. Several
// schedules may share a date; Sequence only breaks ordering ties.
type ShiftSchedule struct {
	ID       string
	Date     time.Time // zero means "the reference day"
	Template ShiftTemplate
	Sequence int
}

// ToleranceSettings are the per-location minute buffers around a shift.
type ToleranceSettings struct {
	CheckinBeforeShiftMinutes int
	LateToleranceMinutes      int
	CheckoutAfterShiftMinutes int
}

const (
	DefaultCheckinBeforeShiftMinutes = 30
	DefaultLateToleranceMinutes      = 15
	DefaultCheckoutAfterShiftMinutes = 60
)

// DefaultTolerance returns the tolerance used when a location has none.
func DefaultTolerance() ToleranceSettings {
	return ToleranceSettings{
		CheckinBeforeShiftMinutes: DefaultCheckinBeforeShiftMinutes,
		LateToleranceMinutes:      DefaultLateToleranceMinutes,
		CheckoutAfterShiftMinutes: DefaultCheckoutAfterShiftMinutes,
	}
}

func (t ToleranceSettings) CheckinBefore() time.Duration {
	return time.Duration(t.CheckinBeforeShiftMinutes) * time.Minute
}

func (t ToleranceSettings) LateTolerance() time.Duration {
	return time.Duration(t.LateToleranceMinutes) * time.Minute
}

func (t ToleranceSettings) CheckoutAfter() time.Duration {
	return time.Duration(t.CheckoutAfterShiftMinutes) * time.Minute
}

// WorkLocation is the geofenced site a staff member is assigned to.
type WorkLocation struct {
	ID           string
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Tolerance    ToleranceSettings
}

// AttendanceRecord is one check-in/check-out cycle. A record is open while
// TimeIn is set and TimeOut is not.
type AttendanceRecord struct {
	ID         string
	ScheduleID *string
	Date       time.Time
	TimeIn     *time.Time
	TimeOut    *time.Time

	// Pending marks a tentative record created by an optimistic update
	// that the server has not confirmed yet.
	Pending bool
}

// IsOpen reports whether the record has a check-in without a check-out.
func (r AttendanceRecord) IsOpen() bool {
	return r.TimeIn != nil && r.TimeOut == nil
}

// HasAttendance reports whether the record carries a check-in.
func (r AttendanceRecord) HasAttendance() bool {
	return r.TimeIn != nil
}

// IsBlank reports whether the record carries neither an id nor any
// timestamp, as when the server accepts a write without echoing it.
func (r AttendanceRecord) IsBlank() bool {
	return r.ID == "" && r.TimeIn == nil && r.TimeOut == nil
}

// BelongsTo reports whether the record is tied to the schedule id.
func (r AttendanceRecord) BelongsTo(scheduleID string) bool {
	return r.ScheduleID != nil && *r.ScheduleID == scheduleID
}

// Clone returns a deep copy so snapshots never alias live pointers.
func (r AttendanceRecord) Clone() AttendanceRecord {
	c := r
	if r.ScheduleID != nil {
		id := *r.ScheduleID
		c.ScheduleID = &id
	}
	if r.TimeIn != nil {
		in := *r.TimeIn
		c.TimeIn = &in
	}
	if r.TimeOut != nil {
		out := *r.TimeOut
		c.TimeOut = &out
	}
	return c
}

// Status is the attendance state machine state.
type Status string

const (
	StatusNotCheckedIn       Status = "NOT_CHECKED_IN"
	StatusCheckedInOpen      Status = "CHECKED_IN_OPEN"
	StatusCheckedOutClosable Status = "CHECKED_OUT_CLOSABLE"
)

// CheckInLabel is the display label of a check-in relative to the shift.
type CheckInLabel string

const (
	LabelPresent CheckInLabel = "present"
	LabelLate    CheckInLabel = "late"
)

// Window is a closed time interval.
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Earliest) && !t.After(w.Latest)
}

// Resolution is the effective shift picked for a reference time together
// with its anchored, overnight-adjusted window.
type Resolution struct {
	Shift         ShiftSchedule
	Start         time.Time
	End           time.Time
	CheckinWindow Window

	// LateAfter is the instant after which a check-in is labeled late.
	// It never affects eligibility.
	LateAfter time.Time

	// CheckoutReminderAt is informational only; checkout is never gated.
	CheckoutReminderAt time.Time

	IsCurrent  bool
	IsUpcoming bool

	// Forced is set when an open record pinned the shift.
	Forced bool
}

// Duration is the scheduled length of the shift window.
func (r Resolution) Duration() time.Duration {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}

// DailyState is the derived read-model for one staff member's day. It is
// never authoritative; the server's record set is.
type DailyState struct {
	EffectiveShift  *Resolution
	TodayRecords    []AttendanceRecord
	WorkLocation    *WorkLocation
	IsCheckedIn     bool
	CanCheckIn      bool
	CanCheckOut     bool
	IsOnDuty        bool
	Status          Status
	Stale           bool
	LastRefreshedAt time.Time
}

// Clone returns a deep copy of the state.
func (s DailyState) Clone() DailyState {
	c := s
	if s.EffectiveShift != nil {
		shift := *s.EffectiveShift
		c.EffectiveShift = &shift
	}
	if s.WorkLocation != nil {
		loc := *s.WorkLocation
		c.WorkLocation = &loc
	}
	if s.TodayRecords != nil {
		c.TodayRecords = make([]AttendanceRecord, len(s.TodayRecords))
		for i, r := range s.TodayRecords {
			c.TodayRecords[i] = r.Clone()
		}
	}
	return c
}

// OpenRecord returns the most recent open record, if any.
func (s DailyState) OpenRecord() *AttendanceRecord {
	var open *AttendanceRecord
	for i := range s.TodayRecords {
		r := &s.TodayRecords[i]
		if !r.IsOpen() {
			continue
		}
		if open == nil || r.TimeIn.After(*open.TimeIn) {
			open = r
		}
	}
	return open
}

// WorkedTime is the output of the worked-time calculation for one shift.
type WorkedTime struct {
	Worked          time.Duration
	Duration        time.Duration
	Shortage        time.Duration
	ProgressPercent float64
	EffectiveIn     *time.Time
	EffectiveOut    *time.Time
}

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Position is a location fix as returned by a LocationProvider.
type Position struct {
	Coordinates
	AccuracyMeters float64
	Timestamp      time.Time
}

// HistoryEntry pairs a historical record with the template of its shift.
type HistoryEntry struct {
	Record    AttendanceRecord
	Template  *ShiftTemplate
	Tolerance *ToleranceSettings
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Includes reports whether the calendar date of t falls within the range.
func (r DateRange) Includes(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(truncateDay(r.Start)) && !d.After(truncateDay(r.End))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
