package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/stretchr/testify/require"
)

var wib = time.FixedZone("WIB", 7*60*60)

// at returns 2025-03-<day> hh:mm in WIB.
func at(day, hh, mm int) time.Time {
	return time.Date(2025, time.March, day, hh, mm, 0, 0, wib)
}

func ptr[T any](v T) *T { return &v }

func newShift(t *testing.T, id, start, end string, date time.Time, seq int) attendance.ShiftSchedule {
	t.Helper()
	s, err := attendance.ParseClockTime(start)
	require.NoError(t, err)
	e, err := attendance.ParseClockTime(end)
	require.NoError(t, err)
	return attendance.ShiftSchedule{
		ID:       id,
		Date:     date,
		Template: attendance.ShiftTemplate{StartTime: s, EndTime: e},
		Sequence: seq,
	}
}

func newRecord(id string, scheduleID string, in, out *time.Time) attendance.AttendanceRecord {
	r := attendance.AttendanceRecord{ID: id, TimeIn: in, TimeOut: out}
	if scheduleID != "" {
		r.ScheduleID = ptr(scheduleID)
	}
	if in != nil {
		r.Date = dayOf(*in)
	}
	return r
}

// office is a work location in central Jakarta with a 100m radius.
func office() *attendance.WorkLocation {
	return &attendance.WorkLocation{
		ID:           "loc-1",
		Name:         "HQ",
		Latitude:     -6.2000,
		Longitude:    106.8166,
		RadiusMeters: 100,
		Tolerance:    attendance.DefaultTolerance(),
	}
}

func atOffice() attendance.Position {
	return attendance.Position{Coordinates: attendance.Coordinates{Latitude: -6.2000, Longitude: 106.8166}, AccuracyMeters: 5}
}

func farAway() attendance.Position {
	return attendance.Position{Coordinates: attendance.Coordinates{Latitude: -6.9175, Longitude: 107.6191}, AccuracyMeters: 5}
}

// fakeGateway is an in-memory upstream API.
type fakeGateway struct {
	mu sync.Mutex

	schedules []attendance.ShiftSchedule
	records   []attendance.AttendanceRecord
	location  *attendance.WorkLocation
	history   []attendance.HistoryEntry

	scheduleErr error
	recordsErr  error
	locationErr error

	checkIn  func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error)
	checkOut func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error)

	// onSchedule runs inside TodaySchedule before it returns.
	onSchedule func()

	scheduleCalls int
	recordCalls   int
	checkInCalls  int
	checkOutCalls int
	lastRequest   attendance.UpstreamCheckRequest
}

func (f *fakeGateway) TodaySchedule(ctx context.Context) ([]attendance.ShiftSchedule, error) {
	f.mu.Lock()
	f.scheduleCalls++
	hook := f.onSchedule
	schedules, err := f.schedules, f.scheduleErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return schedules, err
}

func (f *fakeGateway) TodayRecords(ctx context.Context) ([]attendance.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCalls++
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	out := make([]attendance.AttendanceRecord, len(f.records))
	for i, r := range f.records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (f *fakeGateway) WorkLocation(ctx context.Context) (*attendance.WorkLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, f.locationErr
}

func (f *fakeGateway) CheckIn(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
	f.mu.Lock()
	f.checkInCalls++
	f.lastRequest = req
	fn := f.checkIn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeGateway) CheckOut(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
	f.mu.Lock()
	f.checkOutCalls++
	f.lastRequest = req
	fn := f.checkOut
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeGateway) ListHistory(ctx context.Context, employeeID string, dateRange attendance.DateRange) ([]attendance.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeGateway) setRecords(records ...attendance.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

func (f *fakeGateway) calls() (schedule, records, checkIn, checkOut int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduleCalls, f.recordCalls, f.checkInCalls, f.checkOutCalls
}
