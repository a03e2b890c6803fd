package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
)

var wib = time.FixedZone("WIB", 7*60*60)

type fakeHistory struct {
	entries map[string][]attendance.HistoryEntry
	ranges  []attendance.DateRange
	err     error
}

func (f *fakeHistory) ListHistory(_ context.Context, employeeID string, r attendance.DateRange) ([]attendance.HistoryEntry, error) {
	f.ranges = append(f.ranges, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[employeeID], nil
}

func dayEntry(day, inHour, outHour int) attendance.HistoryEntry {
	in := time.Date(2025, time.March, day, inHour, 0, 0, 0, wib)
	out := time.Date(2025, time.March, day, outHour, 0, 0, 0, wib)
	return attendance.HistoryEntry{
		Record: attendance.AttendanceRecord{
			ID:      "r",
			Date:    time.Date(2025, time.March, day, 0, 0, 0, 0, wib),
			TimeIn:  &in,
			TimeOut: &out,
		},
		Template: &attendance.ShiftTemplate{
			StartTime: attendance.NewClockTime(8, 0),
			EndTime:   attendance.NewClockTime(16, 0),
		},
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"--source", "postgres", "--employee", "e1,e2", "--employee", "e3", "--format", "yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, opts.Employees)
	assert.Equal(t, formatYAML, opts.Format)

	opts, err = parseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, sourceUpstream, opts.Source)
	assert.Equal(t, []string{""}, opts.Employees)

	_, err = parseOptions([]string{"--source", "postgres"})
	assert.ErrorContains(t, err, "--employee")

	_, err = parseOptions([]string{"--format", "csv"})
	assert.ErrorContains(t, err, "csv")

	_, err = parseOptions([]string{"--source", "sqlite"})
	assert.ErrorContains(t, err, "sqlite")
}

func TestReporter_DefaultRangeIsCurrentMonth(t *testing.T) {
	rep := reporter{
		location: wib,
		now:      func() time.Time { return time.Date(2025, time.March, 14, 20, 0, 0, 0, time.UTC) },
	}
	// 20:00 UTC is already the 15th in WIB
	filter := rep.filter(options{})
	assert.Equal(t, "2025-03-01", filter.StartDate)
	assert.Equal(t, "2025-03-15", filter.EndDate)

	filter = rep.filter(options{Start: "2025-02-01", End: "2025-02-28"})
	assert.Equal(t, "2025-02-01", filter.StartDate)
	assert.Equal(t, "2025-02-28", filter.EndDate)
}

func TestReporter_BuildPerEmployee(t *testing.T) {
	history := &fakeHistory{entries: map[string][]attendance.HistoryEntry{
		"e1": {dayEntry(3, 8, 16), dayEntry(4, 8, 12)},
		"e2": {dayEntry(3, 9, 16)},
	}}
	rep := reporter{tolerance: attendance.DefaultTolerance(), location: wib}

	reports, err := rep.build(context.Background(), history, options{
		Employees: []string{"e1", "e2", "e3"},
		Start:     "2025-03-01",
		End:       "2025-03-31",
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Len(t, history.ranges, 3)

	assert.Equal(t, "e1", reports[0].EmployeeID)
	assert.Equal(t, 2, reports[0].Metrics.TotalRecords)
	assert.Equal(t, 16.0, reports[0].Metrics.ScheduledHours)
	assert.Equal(t, 12.0, reports[0].Metrics.AttendedHours)
	assert.Equal(t, 75.0, reports[0].Metrics.AttendancePercentage)

	assert.Equal(t, 1, reports[1].Metrics.LateDays)
	assert.Equal(t, 0, reports[2].Metrics.TotalRecords)
}

func TestReporter_BuildErrors(t *testing.T) {
	rep := reporter{tolerance: attendance.DefaultTolerance(), location: wib}

	_, err := rep.build(context.Background(), &fakeHistory{}, options{Employees: []string{"e1"}, Start: "2025-03-31", End: "2025-03-01"})
	assert.ErrorContains(t, err, "invalid range")

	upstreamErr := errors.New("connection refused")
	_, err = rep.build(context.Background(), &fakeHistory{err: upstreamErr}, options{Employees: []string{"e1"}, Start: "2025-03-01", End: "2025-03-31"})
	assert.ErrorIs(t, err, upstreamErr)
}

func TestWriteReports(t *testing.T) {
	reports := []employeeReport{{
		EmployeeID: "e1",
		Metrics:    attendance.MetricsResponse{StartDate: "2025-03-01", EndDate: "2025-03-31", AttendancePercentage: 75},
	}}

	var buf bytes.Buffer
	require.NoError(t, writeReports(&buf, formatJSON, reports))
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "e1", decoded[0]["employee_id"])
	assert.Equal(t, 75.0, decoded[0]["metrics"].(map[string]interface{})["attendance_percentage"])

	buf.Reset()
	require.NoError(t, writeReports(&buf, formatYAML, reports))
	var fromYAML []employeeReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, reports, fromYAML)
	assert.Contains(t, buf.String(), "attendance_percentage: 75")
}
