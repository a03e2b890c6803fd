package attendance

import (
	"context"
)

// Outcome describes how a check-in or check-out round-trip ended.
type Outcome string

const (
	// OutcomeCommitted means the server accepted the operation.
	OutcomeCommitted Outcome = "committed"
	// OutcomeReconciled means the server reported an existing state that
	// was adopted instead of the optimistic change.
	OutcomeReconciled Outcome = "reconciled"
	// OutcomeRolledBack means the optimistic change was reverted.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeDiscarded means the session closed while the call was in flight.
	OutcomeDiscarded Outcome = "discarded"
)

// OperationResult is returned by the sync controller for every round-trip.
type OperationResult struct {
	Outcome Outcome
	Notice  string
	Label   CheckInLabel
	Record  *AttendanceRecord
	State   DailyState
}

// AttendanceService is the agent-facing engine for one authenticated caller.
type AttendanceService interface {
	// State returns the current read-model with worked time evaluated now.
	State(ctx context.Context, employeeID string) (StateResponse, error)

	// Refresh reloads today's schedule, records and location.
	Refresh(ctx context.Context, employeeID string) (StateResponse, error)

	// CheckIn runs the optimistic check-in protocol.
	CheckIn(ctx context.Context, employeeID string, req CheckRequest) (OperationResponse, error)

	// CheckOut runs the optimistic check-out protocol.
	CheckOut(ctx context.Context, employeeID string, req CheckRequest) (OperationResponse, error)

	// Metrics aggregates attendance history over a date range.
	Metrics(ctx context.Context, employeeID string, filter MetricsFilter) (MetricsResponse, error)
}
