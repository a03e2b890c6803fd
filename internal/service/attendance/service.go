package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
)

type AttendanceServiceImpl struct {
	registry  *Registry
	history   attendance.HistoryRepository
	clock     clock.Clock
	tolerance attendance.ToleranceSettings
}

// NewAttendanceService returns the engine service. When history is nil,
// metrics are read through the caller's upstream gateway.
func NewAttendanceService(
	registry *Registry,
	history attendance.HistoryRepository,
	clk clock.Clock,
	tolerance attendance.ToleranceSettings,
) attendance.AttendanceService {
	return &AttendanceServiceImpl{
		registry:  registry,
		history:   history,
		clock:     clk,
		tolerance: tolerance,
	}
}

// session opens the caller's session, loading it on first use.
func (a *AttendanceServiceImpl) session(ctx context.Context, employeeID string) (*Session, error) {
	if employeeID == "" {
		return nil, attendance.ErrEmployeeRequired
	}

	s, fresh := a.registry.Open(employeeID, attendance.UpstreamTokenFrom(ctx))
	if fresh {
		if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, attendance.ErrRefreshSkipped) {
			slog.Warn("initial attendance refresh incomplete", "employee_id", employeeID, "error", err)
		}
	}
	return s, nil
}

func (a *AttendanceServiceImpl) stateResponse(s *Session) attendance.StateResponse {
	state := s.State()
	return toStateResponse(state, s.WorkedTime(state, a.clock.Now()))
}

// State implements attendance.AttendanceService.
func (a *AttendanceServiceImpl) State(ctx context.Context, employeeID string) (attendance.StateResponse, error) {
	s, err := a.session(ctx, employeeID)
	if err != nil {
		return attendance.StateResponse{}, err
	}
	return a.stateResponse(s), nil
}

// Refresh implements attendance.AttendanceService.
func (a *AttendanceServiceImpl) Refresh(ctx context.Context, employeeID string) (attendance.StateResponse, error) {
	s, err := a.session(ctx, employeeID)
	if err != nil {
		return attendance.StateResponse{}, err
	}

	_, err = s.Refresh(ctx)
	switch {
	case errors.Is(err, attendance.ErrSessionClosed):
		return attendance.StateResponse{}, err
	case errors.Is(err, attendance.ErrRefreshSkipped):
		// an operation is in flight; its own reload follows
	case err != nil:
		slog.Warn("attendance refresh incomplete", "employee_id", employeeID, "error", err)
	}

	return a.stateResponse(s), nil
}

// CheckIn implements attendance.AttendanceService.
func (a *AttendanceServiceImpl) CheckIn(ctx context.Context, employeeID string, req attendance.CheckRequest) (attendance.OperationResponse, error) {
	if err := req.Validate(); err != nil {
		return attendance.OperationResponse{}, err
	}

	s, err := a.session(ctx, employeeID)
	if err != nil {
		return attendance.OperationResponse{}, err
	}

	location := attendance.FixedLocation(req.Position(a.clock.Now()))
	result, err := s.CheckIn(ctx, location)
	if err != nil {
		return toOperationResponse(result, a.stateResponse(s)), err
	}

	slog.Info("attendance check-in",
		"employee_id", employeeID,
		"outcome", result.Outcome,
		"label", result.Label,
	)
	return toOperationResponse(result, a.stateResponse(s)), nil
}

// CheckOut implements attendance.AttendanceService.
func (a *AttendanceServiceImpl) CheckOut(ctx context.Context, employeeID string, req attendance.CheckRequest) (attendance.OperationResponse, error) {
	var location attendance.LocationProvider
	if req.HasPosition() {
		if err := req.Validate(); err != nil {
			return attendance.OperationResponse{}, err
		}
		location = attendance.FixedLocation(req.Position(a.clock.Now()))
	}

	s, err := a.session(ctx, employeeID)
	if err != nil {
		return attendance.OperationResponse{}, err
	}

	result, err := s.CheckOut(ctx, location)
	if err != nil {
		return toOperationResponse(result, a.stateResponse(s)), err
	}

	slog.Info("attendance check-out", "employee_id", employeeID, "outcome", result.Outcome)
	return toOperationResponse(result, a.stateResponse(s)), nil
}

// Metrics implements attendance.AttendanceService.
func (a *AttendanceServiceImpl) Metrics(ctx context.Context, employeeID string, filter attendance.MetricsFilter) (attendance.MetricsResponse, error) {
	if employeeID == "" {
		return attendance.MetricsResponse{}, attendance.ErrEmployeeRequired
	}
	if err := filter.Validate(); err != nil {
		return attendance.MetricsResponse{}, err
	}

	history := a.history
	if history == nil {
		s, err := a.session(ctx, employeeID)
		if err != nil {
			return attendance.MetricsResponse{}, err
		}
		history = s.Gateway()
	}

	dateRange := filter.Range()
	entries, err := history.ListHistory(ctx, employeeID, dateRange)
	if err != nil {
		return attendance.MetricsResponse{}, fmt.Errorf("failed to list attendance history: %w", err)
	}

	return ToMetricsResponse(Aggregate(entries, dateRange, a.tolerance)), nil
}
