package attendance

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/geo"
	"github.com/google/uuid"
)

// pendingPrefix marks ids of tentative records.
const pendingPrefix = "pending-"

// Update carries the result of one refresh. A part whose error is set
// failed to load and keeps its last known good value.
type Update struct {
	Schedules   []attendance.ShiftSchedule
	ScheduleErr error

	Records    []attendance.AttendanceRecord
	RecordsErr error

	WorkLocation *attendance.WorkLocation
	LocationErr  error
}

// Failed reports whether any part of the update failed.
func (u Update) Failed() bool {
	return u.ScheduleErr != nil || u.RecordsErr != nil || u.LocationErr != nil
}

// Snapshot is an opaque copy of the machine used to roll back an
// optimistic change.
type Snapshot struct {
	state     attendance.DailyState
	schedules []attendance.ShiftSchedule
}

// State returns the captured read-model.
func (s Snapshot) State() attendance.DailyState {
	return s.state.Clone()
}

// CheckOutTarget is the record and schedule a checkout applies to.
type CheckOutTarget struct {
	Record     attendance.AttendanceRecord
	ScheduleID *string
}

// Machine is the attendance state machine for one staff member's day. It
// owns the read-model and re-derives flags after every change. Safe for
// concurrent use.
type Machine struct {
	mu               sync.RWMutex
	schedules        []attendance.ShiftSchedule
	state            attendance.DailyState
	defaultTolerance attendance.ToleranceSettings
	closed           bool
}

// NewMachine returns a machine in NOT_CHECKED_IN with nothing loaded.
func NewMachine(defaultTolerance attendance.ToleranceSettings) *Machine {
	return &Machine{
		defaultTolerance: defaultTolerance,
		state:            attendance.DailyState{Status: attendance.StatusNotCheckedIn},
	}
}

// Apply merges a refresh result into the state.
func (m *Machine) Apply(u Update, now time.Time) attendance.DailyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ScheduleErr == nil {
		m.schedules = cloneSchedules(u.Schedules)
	}
	if u.RecordsErr == nil {
		m.state.TodayRecords = cloneRecords(u.Records)
	}
	if u.LocationErr == nil {
		m.state.WorkLocation = cloneLocation(u.WorkLocation)
	}
	m.state.Stale = u.Failed()
	if !u.Failed() {
		m.state.LastRefreshedAt = now
	}

	m.deriveLocked(now)
	return m.state.Clone()
}

// ReplaceRecords installs an authoritative record set from the server.
func (m *Machine) ReplaceRecords(records []attendance.AttendanceRecord, now time.Time) attendance.DailyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.TodayRecords = cloneRecords(records)
	m.deriveLocked(now)
	return m.state.Clone()
}

// State returns the stored read-model.
func (m *Machine) State() attendance.DailyState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// StateAt returns the read-model with the shift resolution and flags
// re-evaluated at now. The stored state is not modified.
func (m *Machine) StateAt(now time.Time) attendance.DailyState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return derive(m.schedules, m.state.Clone(), now, m.toleranceLocked())
}

// Tolerance returns the tolerance of the assigned location, or the default.
func (m *Machine) Tolerance() attendance.ToleranceSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toleranceLocked()
}

// EvaluateCheckIn checks every check-in precondition at now and returns the
// shift the check-in would be recorded against.
func (m *Machine) EvaluateCheckIn(now time.Time, pos attendance.Position) (*attendance.Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.OpenRecord() != nil {
		return nil, attendance.NewValidationError(attendance.ErrAlreadyCheckedIn)
	}

	loc := m.state.WorkLocation
	if loc == nil {
		return nil, attendance.NewValidationError(attendance.ErrNoWorkLocation)
	}

	res := ResolveShift(m.schedules, now, nil, m.toleranceLocked())
	if res == nil {
		return nil, attendance.NewValidationError(attendance.ErrNoScheduleFound)
	}
	if !res.CheckinWindow.Contains(now) {
		return nil, attendance.NewValidationError(fmt.Errorf("%w: opens %s, closes %s",
			attendance.ErrOutsideCheckinWindow,
			res.CheckinWindow.Earliest.Format("15:04"),
			res.CheckinWindow.Latest.Format("15:04")))
	}

	check := geo.CheckLocation(pos.Coordinates, *loc)
	if !check.WithinRadius {
		return nil, attendance.NewValidationError(fmt.Errorf("%w: %.0fm from %s, allowed %.0fm",
			attendance.ErrOutsideAllowedRadius, check.DistanceMeters, loc.Name, loc.RadiusMeters))
	}

	return res, nil
}

// EvaluateCheckOut returns the record a checkout targets. Checkout is not
// gated by time, shift or location; it only needs attendance today.
func (m *Machine) EvaluateCheckOut() (CheckOutTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if open := m.state.OpenRecord(); open != nil {
		rec := open.Clone()
		return CheckOutTarget{Record: rec, ScheduleID: rec.ScheduleID}, nil
	}

	var latest *attendance.AttendanceRecord
	for i := range m.state.TodayRecords {
		r := &m.state.TodayRecords[i]
		if !r.HasAttendance() {
			continue
		}
		if latest == nil || r.TimeIn.After(*latest.TimeIn) {
			latest = r
		}
	}
	if latest == nil {
		return CheckOutTarget{}, attendance.NewValidationError(attendance.ErrNotCheckedIn)
	}

	rec := latest.Clone()
	return CheckOutTarget{Record: rec, ScheduleID: rec.ScheduleID}, nil
}

// Snapshot captures the machine for a later Restore.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{state: m.state.Clone(), schedules: cloneSchedules(m.schedules)}
}

// Restore puts the machine back exactly as it was when s was taken.
func (m *Machine) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.state.Clone()
	m.schedules = cloneSchedules(s.schedules)
}

// ApplyTentativeCheckIn adds a pending open record for res at now.
func (m *Machine) ApplyTentativeCheckIn(res *attendance.Resolution, now time.Time) attendance.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := now
	rec := attendance.AttendanceRecord{
		ID:      pendingPrefix + uuid.NewString(),
		Date:    dayOf(now),
		TimeIn:  &in,
		Pending: true,
	}
	if res != nil {
		id := res.Shift.ID
		rec.ScheduleID = &id
	}

	m.state.TodayRecords = append(m.state.TodayRecords, rec)
	m.deriveLocked(now)
	return rec.Clone()
}

// ApplyTentativeCheckOut closes the target record at now. When the target
// is already closed a pending closed record is appended instead, so the
// state still reflects the checkout the user asked for.
func (m *Machine) ApplyTentativeCheckOut(target CheckOutTarget, now time.Time) attendance.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := now
	for i := range m.state.TodayRecords {
		r := &m.state.TodayRecords[i]
		if r.ID != target.Record.ID || !r.IsOpen() {
			continue
		}
		r.TimeOut = &out
		r.Pending = true
		m.deriveLocked(now)
		return r.Clone()
	}

	rec := target.Record.Clone()
	rec.ID = pendingPrefix + uuid.NewString()
	rec.TimeOut = &out
	rec.Pending = true
	m.state.TodayRecords = append(m.state.TodayRecords, rec)
	m.deriveLocked(now)
	return rec.Clone()
}

// CommitRecord replaces the tentative record with the server's canonical
// one. If the tentative record is gone the canonical one is merged by id.
func (m *Machine) CommitRecord(tentativeID string, rec attendance.AttendanceRecord, now time.Time) attendance.DailyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec = rec.Clone()
	rec.Pending = false

	records := make([]attendance.AttendanceRecord, 0, len(m.state.TodayRecords)+1)
	for _, r := range m.state.TodayRecords {
		if r.ID == tentativeID || (rec.ID != "" && r.ID == rec.ID) {
			continue
		}
		records = append(records, r)
	}
	records = append(records, rec)

	m.state.TodayRecords = records
	m.deriveLocked(now)
	return m.state.Clone()
}

// Close marks the machine as torn down. In-flight results must then be
// discarded by their owners.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Closed reports whether Close was called.
func (m *Machine) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Machine) toleranceLocked() attendance.ToleranceSettings {
	if m.state.WorkLocation != nil {
		return m.state.WorkLocation.Tolerance
	}
	return m.defaultTolerance
}

func (m *Machine) deriveLocked(now time.Time) {
	m.state = derive(m.schedules, m.state, now, m.toleranceLocked())
}

// derive recomputes the effective shift and the flags from the records.
func derive(schedules []attendance.ShiftSchedule, s attendance.DailyState, now time.Time, tol attendance.ToleranceSettings) attendance.DailyState {
	sort.SliceStable(s.TodayRecords, func(i, j int) bool {
		return recordBefore(s.TodayRecords[i], s.TodayRecords[j])
	})

	open := s.OpenRecord()
	hasAny := false
	for _, r := range s.TodayRecords {
		if r.HasAttendance() {
			hasAny = true
			break
		}
	}

	s.EffectiveShift = ResolveShift(schedules, now, open, tol)
	s.IsCheckedIn = open != nil
	s.CanCheckIn = open == nil
	s.CanCheckOut = open != nil || hasAny
	s.IsOnDuty = s.EffectiveShift != nil

	switch {
	case open != nil:
		s.Status = attendance.StatusCheckedInOpen
	case hasAny:
		s.Status = attendance.StatusCheckedOutClosable
	default:
		s.Status = attendance.StatusNotCheckedIn
	}

	return s
}

// recordBefore orders records by check-in time; records without one sort last.
func recordBefore(a, b attendance.AttendanceRecord) bool {
	switch {
	case a.TimeIn == nil:
		return false
	case b.TimeIn == nil:
		return true
	default:
		return a.TimeIn.Before(*b.TimeIn)
	}
}

func cloneSchedules(in []attendance.ShiftSchedule) []attendance.ShiftSchedule {
	if in == nil {
		return nil
	}
	out := make([]attendance.ShiftSchedule, len(in))
	for i, s := range in {
		out[i] = s
		if s.Template.DurationHours != nil {
			h := *s.Template.DurationHours
			out[i].Template.DurationHours = &h
		}
	}
	return out
}

func cloneRecords(in []attendance.AttendanceRecord) []attendance.AttendanceRecord {
	if in == nil {
		return nil
	}
	out := make([]attendance.AttendanceRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func cloneLocation(in *attendance.WorkLocation) *attendance.WorkLocation {
	if in == nil {
		return nil
	}
	c := *in
	return &c
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
