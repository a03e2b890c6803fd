package attendance

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/pkg/validator"
)

// ========================================
// AGENT REQUEST DTOs
// ========================================

type CheckRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
}

func (r *CheckRequest) Validate() error {
	var errs validator.ValidationErrors

	if r.Latitude == nil {
		errs = append(errs, validator.ValidationError{
			Field:   "latitude",
			Message: "latitude is required",
		})
	} else if !validator.IsValidLatitude(*r.Latitude) {
		errs = append(errs, validator.ValidationError{
			Field:   "latitude",
			Message: "latitude must be between -90 and 90",
		})
	}

	if r.Longitude == nil {
		errs = append(errs, validator.ValidationError{
			Field:   "longitude",
			Message: "longitude is required",
		})
	} else if !validator.IsValidLongitude(*r.Longitude) {
		errs = append(errs, validator.ValidationError{
			Field:   "longitude",
			Message: "longitude must be between -180 and 180",
		})
	}

	if r.Accuracy < 0 || math.IsNaN(r.Accuracy) {
		errs = append(errs, validator.ValidationError{
			Field:   "accuracy",
			Message: "accuracy must be a positive number",
		})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// HasPosition reports whether both coordinates were supplied.
func (r *CheckRequest) HasPosition() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Position converts the request to a location fix taken at now.
func (r *CheckRequest) Position(now time.Time) Position {
	var pos Position
	if r.Latitude != nil {
		pos.Latitude = *r.Latitude
	}
	if r.Longitude != nil {
		pos.Longitude = *r.Longitude
	}
	pos.AccuracyMeters = r.Accuracy
	pos.Timestamp = now
	return pos
}

type MetricsFilter struct {
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD
}

func (f *MetricsFilter) Validate() error {
	var errs validator.ValidationErrors

	start, startOK := validator.IsValidDate(f.StartDate)
	if !startOK {
		errs = append(errs, validator.ValidationError{
			Field:   "start_date",
			Message: "start_date must be in YYYY-MM-DD format",
		})
	}

	end, endOK := validator.IsValidDate(f.EndDate)
	if !endOK {
		errs = append(errs, validator.ValidationError{
			Field:   "end_date",
			Message: "end_date must be in YYYY-MM-DD format",
		})
	}

	if startOK && endOK && end.Before(start) {
		errs = append(errs, validator.ValidationError{
			Field:   "end_date",
			Message: "end_date must not be before start_date",
		})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// Range returns the parsed range. Call Validate first.
func (f *MetricsFilter) Range() DateRange {
	start, _ := validator.IsValidDate(f.StartDate)
	end, _ := validator.IsValidDate(f.EndDate)
	return DateRange{Start: start, End: end}
}

// ========================================
// AGENT RESPONSE DTOs
// ========================================

type StateResponse struct {
	Status          Status              `json:"status"`
	IsCheckedIn     bool                `json:"is_checked_in"`
	CanCheckIn      bool                `json:"can_check_in"`
	CanCheckOut     bool                `json:"can_check_out"`
	IsOnDuty        bool                `json:"is_on_duty"`
	Stale           bool                `json:"stale"`
	LastRefreshedAt string              `json:"last_refreshed_at,omitempty"`
	Shift           *ShiftResponse      `json:"shift,omitempty"`
	Records         []RecordResponse    `json:"records"`
	WorkedTime      *WorkedTimeResponse `json:"worked_time,omitempty"`
}

type ShiftResponse struct {
	ScheduleID         string `json:"schedule_id"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Start              string `json:"start"`
	End                string `json:"end"`
	CheckinOpensAt     string `json:"checkin_opens_at"`
	CheckinClosesAt    string `json:"checkin_closes_at"`
	LateAfter          string `json:"late_after"`
	CheckoutReminderAt string `json:"checkout_reminder_at"`
	IsNextDayCheckout  bool   `json:"is_next_day_checkout"`
	IsCurrent          bool   `json:"is_current"`
	IsUpcoming         bool   `json:"is_upcoming"`
}

type RecordResponse struct {
	ID         string  `json:"id"`
	ScheduleID *string `json:"schedule_id,omitempty"`
	Date       string  `json:"date"`
	TimeIn     *string `json:"time_in,omitempty"`
	TimeOut    *string `json:"time_out,omitempty"`
	Pending    bool    `json:"pending,omitempty"`
}

type WorkedTimeResponse struct {
	WorkedSeconds   int64   `json:"worked_seconds"`
	DurationSeconds int64   `json:"duration_seconds"`
	ShortageSeconds int64   `json:"shortage_seconds"`
	ProgressPercent float64 `json:"progress_percent"`
	Worked          string  `json:"worked"`
}

type OperationResponse struct {
	Outcome string          `json:"outcome"`
	Notice  string          `json:"notice,omitempty"`
	Label   CheckInLabel    `json:"label,omitempty"`
	Record  *RecordResponse `json:"record,omitempty"`
	State   StateResponse   `json:"state"`
}

type MetricsResponse struct {
	StartDate            string  `json:"start_date" yaml:"start_date"`
	EndDate              string  `json:"end_date" yaml:"end_date"`
	TotalRecords         int     `json:"total_records" yaml:"total_records"`
	ScheduledHours       float64 `json:"scheduled_hours" yaml:"scheduled_hours"`
	AttendedHours        float64 `json:"attended_hours" yaml:"attended_hours"`
	AttendancePercentage float64 `json:"attendance_percentage" yaml:"attendance_percentage"`
	PresentDays          int     `json:"present_days" yaml:"present_days"`
	LateDays             int     `json:"late_days" yaml:"late_days"`
	AbsentDays           int     `json:"absent_days" yaml:"absent_days"` // dates whose records have no check-in
}

// ========================================
// UPSTREAM WIRE DTOs
// ========================================

// Envelope is the upstream JSON response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *EnvelopeError  `json:"error,omitempty"`
}

type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FailureCode returns the failure code from either envelope layout.
func (e Envelope) FailureCode() string {
	if e.Code != "" {
		return e.Code
	}
	if e.Error != nil {
		return e.Error.Code
	}
	return ""
}

// FailureMessage returns the failure message from either envelope layout.
func (e Envelope) FailureMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// FlexibleID accepts JSON strings and numbers.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// RawShiftFields holds every field-name variant the upstream API has used
// for shift times.
type RawShiftFields struct {
	JamMasuk        string   `json:"jam_masuk,omitempty"`
	JamKeluar       string   `json:"jam_keluar,omitempty"`
	JamMasukFormat  string   `json:"jam_masuk_format,omitempty"`
	JamKeluarFormat string   `json:"jam_keluar_format,omitempty"`
	StartTime       string   `json:"start_time,omitempty"`
	EndTime         string   `json:"end_time,omitempty"`
	DurasiJam       *float64 `json:"durasi_jam,omitempty"`
	DurationHours   *float64 `json:"duration_hours,omitempty"`
	Durasi          string   `json:"durasi,omitempty"`
}

type RawSchedule struct {
	ID       FlexibleID `json:"id"`
	Tanggal  string     `json:"tanggal,omitempty"`
	Date     string     `json:"date,omitempty"`
	Urutan   *int       `json:"urutan,omitempty"`
	Sequence *int       `json:"sequence,omitempty"`
	RawShiftFields

	ShiftTemplate *RawShiftFields `json:"shift_template,omitempty"`
	ShiftInfo     *RawShiftFields `json:"shift_info,omitempty"`
}

type RawRecord struct {
	ID         FlexibleID  `json:"id"`
	ScheduleID *FlexibleID `json:"schedule_id,omitempty"`
	JadwalID   *FlexibleID `json:"jadwal_id,omitempty"`
	Date       string      `json:"date,omitempty"`
	Tanggal    string      `json:"tanggal,omitempty"`
	TimeIn     string      `json:"time_in,omitempty"`
	TimeOut    string      `json:"time_out,omitempty"`
	JamMasuk   string      `json:"jam_masuk,omitempty"`
	JamKeluar  string      `json:"jam_keluar,omitempty"`
}

type RawHistoryRecord struct {
	RawRecord
	Shift     *RawSchedule      `json:"shift,omitempty"`
	Tolerance *RawToleranceData `json:"tolerance_settings,omitempty"`
}

type RawToleranceData struct {
	CheckinBeforeShiftMinutes *int `json:"checkin_before_shift_minutes,omitempty"`
	LateToleranceMinutes      *int `json:"late_tolerance_minutes,omitempty"`
	CheckoutAfterShiftMinutes *int `json:"checkout_after_shift_minutes,omitempty"`
}

type RawWorkLocation struct {
	ID                FlexibleID        `json:"id"`
	Name              string            `json:"name,omitempty"`
	Nama              string            `json:"nama,omitempty"`
	Latitude          *float64          `json:"latitude"`
	Longitude         *float64          `json:"longitude"`
	RadiusMeters      *float64          `json:"radius_meters,omitempty"`
	Radius            *float64          `json:"radius,omitempty"`
	ToleranceSettings *RawToleranceData `json:"tolerance_settings,omitempty"`
}

// UpstreamCheckRequest is the body of the upstream check-in/out call.
type UpstreamCheckRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`
	ScheduleID *string `json:"schedule_id,omitempty"`
}
