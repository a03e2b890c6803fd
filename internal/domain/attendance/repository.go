package attendance

import (
	"context"
)

// Gateway is the upstream attendance API. Reads are idempotent and may be
// retried; CheckIn and CheckOut are not.
type Gateway interface {
	// TodaySchedule returns the caller's normalized schedules for today.
	TodaySchedule(ctx context.Context) ([]ShiftSchedule, error)

	// TodayRecords returns the caller's attendance records for today.
	TodayRecords(ctx context.Context) ([]AttendanceRecord, error)

	// WorkLocation returns the assigned location, or nil when none is assigned.
	WorkLocation(ctx context.Context) (*WorkLocation, error)

	// CheckIn opens a record. Failure codes are returned as *Error.
	CheckIn(ctx context.Context, req UpstreamCheckRequest) (AttendanceRecord, error)

	// CheckOut closes a record. Failure codes are returned as *Error.
	CheckOut(ctx context.Context, req UpstreamCheckRequest) (AttendanceRecord, error)

	HistoryRepository
}

// HistoryRepository reads historical attendance with shift metadata.
type HistoryRepository interface {
	ListHistory(ctx context.Context, employeeID string, dateRange DateRange) ([]HistoryEntry, error)
}

// LocationProvider supplies the device position.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (Position, error)
}

// FixedLocation is a LocationProvider for a position the caller already has.
type FixedLocation Position

func (f FixedLocation) CurrentLocation(ctx context.Context) (Position, error) {
	return Position(f), nil
}

type upstreamTokenKey struct{}

// WithUpstreamToken attaches the caller's bearer token, forwarded to the
// upstream API on their behalf.
func WithUpstreamToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, upstreamTokenKey{}, token)
}

// UpstreamTokenFrom returns the token attached by WithUpstreamToken.
func UpstreamTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(upstreamTokenKey{}).(string)
	return token
}
