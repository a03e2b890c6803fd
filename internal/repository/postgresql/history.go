package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/database"
)

// HistoryRepositoryImpl reads attendance history straight from the HRIS
// database, joined with the shift times each record was made against.
type HistoryRepositoryImpl struct {
	db  *database.DB
	loc *time.Location
}

// NewHistoryRepository returns a reader anchoring dates and shift times in loc.
func NewHistoryRepository(db *database.DB, loc *time.Location) attendance.HistoryRepository {
	if loc == nil {
		loc = time.Local
	}
	return &HistoryRepositoryImpl{db: db, loc: loc}
}

type historyRow struct {
	ID                 string
	WorkScheduleTimeID *string
	Date               time.Time
	ClockIn            *time.Time
	ClockOut           *time.Time
	ShiftStart         *string
	ShiftEnd           *string
	GracePeriodMinutes *int
}

// ListHistory implements attendance.HistoryRepository.
func (r *HistoryRepositoryImpl) ListHistory(ctx context.Context, employeeID string, dateRange attendance.DateRange) ([]attendance.HistoryEntry, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT
			a.id::text,
			a.work_schedule_time_id::text,
			a.date,
			a.clock_in,
			a.clock_out,
			to_char(wst.clock_in_time, 'HH24:MI'),
			to_char(wst.clock_out_time, 'HH24:MI'),
			ws.grace_period_minutes
		FROM attendances a
		LEFT JOIN work_schedule_times wst ON wst.id = a.work_schedule_time_id
		LEFT JOIN work_schedules ws ON ws.id = wst.work_schedule_id
		WHERE a.employee_id = $1
		  AND a.date BETWEEN $2 AND $3
		ORDER BY a.date ASC, a.clock_in ASC NULLS LAST
	`

	rows, err := q.Query(ctx, query, employeeID,
		dateRange.Start.Format("2006-01-02"),
		dateRange.End.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance history: %w", err)
	}
	defer rows.Close()

	var entries []attendance.HistoryEntry
	for rows.Next() {
		var row historyRow
		if err := rows.Scan(
			&row.ID, &row.WorkScheduleTimeID, &row.Date, &row.ClockIn, &row.ClockOut,
			&row.ShiftStart, &row.ShiftEnd, &row.GracePeriodMinutes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attendance history: %w", err)
		}

		entry, err := row.toEntry(r.loc)
		if err != nil {
			slog.Warn("attendance has an unusable shift", "attendance_id", row.ID, "error", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance history: %w", err)
	}

	return entries, nil
}

// toEntry maps a row to a history entry. A row whose shift times cannot be
// read still yields an entry, without a template, alongside the error.
func (row historyRow) toEntry(loc *time.Location) (attendance.HistoryEntry, error) {
	y, m, d := row.Date.Date()
	rec := attendance.AttendanceRecord{
		ID:         row.ID,
		ScheduleID: row.WorkScheduleTimeID,
		Date:       time.Date(y, m, d, 0, 0, 0, 0, loc),
		TimeIn:     inLocation(row.ClockIn, loc),
		TimeOut:    inLocation(row.ClockOut, loc),
	}
	entry := attendance.HistoryEntry{Record: rec}

	if row.GracePeriodMinutes != nil {
		tol := attendance.DefaultTolerance()
		tol.LateToleranceMinutes = *row.GracePeriodMinutes
		entry.Tolerance = &tol
	}

	if row.ShiftStart == nil || row.ShiftEnd == nil {
		return entry, nil
	}

	start, err := attendance.ParseClockTime(*row.ShiftStart)
	if err != nil {
		return entry, err
	}
	end, err := attendance.ParseClockTime(*row.ShiftEnd)
	if err != nil {
		return entry, err
	}
	tpl := attendance.ShiftTemplate{StartTime: start, EndTime: end}
	if !tpl.Valid() {
		return entry, fmt.Errorf("%w: %s-%s", attendance.ErrMalformedShift, start, end)
	}
	entry.Template = &tpl

	return entry, nil
}

func inLocation(t *time.Time, loc *time.Location) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(loc)
	return &local
}
