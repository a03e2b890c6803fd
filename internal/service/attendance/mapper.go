package attendance

import (
	"fmt"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
)

// timePtrToString safely converts a *time.Time to a string.
func timePtrToString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	format := t.Format(time.RFC3339)
	return &format
}

func toStateResponse(state attendance.DailyState, wt *attendance.WorkedTime) attendance.StateResponse {
	resp := attendance.StateResponse{
		Status:      state.Status,
		IsCheckedIn: state.IsCheckedIn,
		CanCheckIn:  state.CanCheckIn,
		CanCheckOut: state.CanCheckOut,
		IsOnDuty:    state.IsOnDuty,
		Stale:       state.Stale,
		Records:     make([]attendance.RecordResponse, 0, len(state.TodayRecords)),
	}
	if !state.LastRefreshedAt.IsZero() {
		resp.LastRefreshedAt = state.LastRefreshedAt.Format(time.RFC3339)
	}
	if state.EffectiveShift != nil {
		shift := toShiftResponse(*state.EffectiveShift)
		resp.Shift = &shift
	}
	for _, r := range state.TodayRecords {
		resp.Records = append(resp.Records, toRecordResponse(r))
	}
	if wt != nil {
		w := toWorkedTimeResponse(*wt)
		resp.WorkedTime = &w
	}
	return resp
}

func toShiftResponse(res attendance.Resolution) attendance.ShiftResponse {
	return attendance.ShiftResponse{
		ScheduleID:         res.Shift.ID,
		StartTime:          res.Shift.Template.StartTime.String(),
		EndTime:            res.Shift.Template.EndTime.String(),
		Start:              res.Start.Format(time.RFC3339),
		End:                res.End.Format(time.RFC3339),
		CheckinOpensAt:     res.CheckinWindow.Earliest.Format(time.RFC3339),
		CheckinClosesAt:    res.CheckinWindow.Latest.Format(time.RFC3339),
		LateAfter:          res.LateAfter.Format(time.RFC3339),
		CheckoutReminderAt: res.CheckoutReminderAt.Format(time.RFC3339),
		IsNextDayCheckout:  res.Shift.Template.IsOvernight(),
		IsCurrent:          res.IsCurrent,
		IsUpcoming:         res.IsUpcoming,
	}
}

func toRecordResponse(r attendance.AttendanceRecord) attendance.RecordResponse {
	resp := attendance.RecordResponse{
		ID:         r.ID,
		ScheduleID: r.ScheduleID,
		TimeIn:     timePtrToString(r.TimeIn),
		TimeOut:    timePtrToString(r.TimeOut),
		Pending:    r.Pending,
	}
	if !r.Date.IsZero() {
		resp.Date = r.Date.Format("2006-01-02")
	}
	return resp
}

func toWorkedTimeResponse(wt attendance.WorkedTime) attendance.WorkedTimeResponse {
	return attendance.WorkedTimeResponse{
		WorkedSeconds:   int64(wt.Worked / time.Second),
		DurationSeconds: int64(wt.Duration / time.Second),
		ShortageSeconds: int64(wt.Shortage / time.Second),
		ProgressPercent: wt.ProgressPercent,
		Worked:          formatHMS(wt.Worked),
	}
}

func toOperationResponse(result attendance.OperationResult, state attendance.StateResponse) attendance.OperationResponse {
	resp := attendance.OperationResponse{
		Outcome: string(result.Outcome),
		Notice:  result.Notice,
		Label:   result.Label,
		State:   state,
	}
	if result.Record != nil {
		rec := toRecordResponse(*result.Record)
		resp.Record = &rec
	}
	return resp
}

// ToMetricsResponse converts aggregated metrics to their wire form.
func ToMetricsResponse(m Metrics) attendance.MetricsResponse {
	return attendance.MetricsResponse{
		StartDate:            m.Range.Start.Format("2006-01-02"),
		EndDate:              m.Range.End.Format("2006-01-02"),
		TotalRecords:         m.TotalRecords,
		ScheduledHours:       m.ScheduledHours,
		AttendedHours:        m.AttendedHours,
		AttendancePercentage: m.AttendancePercentage,
		PresentDays:          m.PresentDays,
		LateDays:             m.LateDays,
		AbsentDays:           m.AbsentDays,
	}
}

// formatHMS renders d as HH:MM:SS.
func formatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
