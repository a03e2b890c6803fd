package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
)

const (
	opCheckIn  = "check_in"
	opCheckOut = "check_out"
)

// RecordGateway is the part of the upstream API the sync controller needs.
type RecordGateway interface {
	TodayRecords(ctx context.Context) ([]attendance.AttendanceRecord, error)
	CheckIn(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error)
	CheckOut(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error)
}

// command is one optimistic round-trip. apply runs before the upstream
// call; commit or rollback runs after it.
type command struct {
	op       string
	snapshot Snapshot
	apply    func() attendance.AttendanceRecord
	send     func(ctx context.Context) (attendance.AttendanceRecord, error)
	commit   func(tentative, canonical attendance.AttendanceRecord)
	rollback func()
}

// SyncController runs check-in and check-out against the upstream API with
// an optimistic local update, reconciling or rolling back on the response.
type SyncController struct {
	machine *Machine
	gateway RecordGateway
	lock    *OperationLock
	clock   clock.Clock
}

// NewSyncController returns a controller that owns lock for machine.
func NewSyncController(machine *Machine, gateway RecordGateway, lock *OperationLock, clk clock.Clock) *SyncController {
	return &SyncController{
		machine: machine,
		gateway: gateway,
		lock:    lock,
		clock:   clk,
	}
}

// CheckIn validates and submits a check-in at the provider's position.
func (c *SyncController) CheckIn(ctx context.Context, location attendance.LocationProvider) (attendance.OperationResult, error) {
	release, ok := c.lock.TryAcquire(opCheckIn)
	if !ok {
		return attendance.OperationResult{State: c.machine.State()}, attendance.ErrBusy
	}
	defer release()

	pos, err := location.CurrentLocation(ctx)
	if err != nil {
		return attendance.OperationResult{State: c.machine.State()},
			attendance.NewValidationError(fmt.Errorf("%w: %v", attendance.ErrInvalidCoordinates, err))
	}

	now := c.clock.Now()
	res, err := c.machine.EvaluateCheckIn(now, pos)
	if err != nil {
		return attendance.OperationResult{State: c.machine.State()}, err
	}

	scheduleID := res.Shift.ID
	req := attendance.UpstreamCheckRequest{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.AccuracyMeters,
		ScheduleID: &scheduleID,
	}

	result, err := c.run(ctx, &command{
		op:    opCheckIn,
		apply: func() attendance.AttendanceRecord { return c.machine.ApplyTentativeCheckIn(res, now) },
		send: func(ctx context.Context) (attendance.AttendanceRecord, error) {
			return c.gateway.CheckIn(ctx, req)
		},
	})
	if result.Outcome == attendance.OutcomeCommitted {
		result.Label = ClassifyCheckIn(res, now)
	}
	return result, err
}

// CheckOut submits a checkout for the open record, or the latest record of
// the day. The position is sent when available but never gates checkout.
func (c *SyncController) CheckOut(ctx context.Context, location attendance.LocationProvider) (attendance.OperationResult, error) {
	release, ok := c.lock.TryAcquire(opCheckOut)
	if !ok {
		return attendance.OperationResult{State: c.machine.State()}, attendance.ErrBusy
	}
	defer release()

	target, err := c.machine.EvaluateCheckOut()
	if err != nil {
		return attendance.OperationResult{State: c.machine.State()}, err
	}

	var pos attendance.Position
	if location != nil {
		if p, err := location.CurrentLocation(ctx); err == nil {
			pos = p
		} else {
			slog.Warn("checkout without position", "error", err)
		}
	}

	now := c.clock.Now()
	req := attendance.UpstreamCheckRequest{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.AccuracyMeters,
		ScheduleID: target.ScheduleID,
	}

	return c.run(ctx, &command{
		op:    opCheckOut,
		apply: func() attendance.AttendanceRecord { return c.machine.ApplyTentativeCheckOut(target, now) },
		send: func(ctx context.Context) (attendance.AttendanceRecord, error) {
			return c.gateway.CheckOut(ctx, req)
		},
	})
}

func (c *SyncController) run(ctx context.Context, cmd *command) (attendance.OperationResult, error) {
	if cmd.commit == nil {
		cmd.commit = func(tentative, canonical attendance.AttendanceRecord) {
			c.machine.CommitRecord(tentative.ID, canonical, c.clock.Now())
		}
	}
	if cmd.rollback == nil {
		cmd.rollback = func() { c.machine.Restore(cmd.snapshot) }
	}

	cmd.snapshot = c.machine.Snapshot()
	tentative := cmd.apply()

	// The write is not idempotent; once sent it runs to completion even if
	// the caller goes away. The gateway's own timeout still bounds it.
	ctx = context.WithoutCancel(ctx)
	canonical, err := c.send(ctx, cmd)

	if c.machine.Closed() {
		slog.Info("attendance result discarded, session closed", "operation", cmd.op)
		return attendance.OperationResult{Outcome: attendance.OutcomeDiscarded}, attendance.ErrSessionClosed
	}

	switch {
	case err == nil:
		if canonical.IsBlank() {
			// accepted without a record; keep ours until the reload
			canonical = tentative
		}
		cmd.commit(tentative, canonical)
		c.reloadRecords(ctx, cmd.op)
		rec := canonical.Clone()
		rec.Pending = false
		return attendance.OperationResult{
			Outcome: attendance.OutcomeCommitted,
			Record:  &rec,
			State:   c.machine.State(),
		}, nil

	case attendance.KindOf(err) == attendance.KindConflict:
		slog.Info("attendance reconciled with server state",
			"operation", cmd.op,
			"code", attendance.CodeOf(err),
		)
		c.reloadRecords(ctx, cmd.op)
		return attendance.OperationResult{
			Outcome: attendance.OutcomeReconciled,
			Notice:  conflictNotice(err),
			State:   c.machine.State(),
		}, nil

	default:
		cmd.rollback()
		slog.Warn("attendance operation rolled back",
			"operation", cmd.op,
			"code", attendance.CodeOf(err),
			"error", err,
		)
		return attendance.OperationResult{
			Outcome: attendance.OutcomeRolledBack,
			State:   c.machine.State(),
		}, classify(err)
	}
}

// send performs the upstream call. A panic in the gateway is reported as a
// transport failure so the caller still rolls back.
func (c *SyncController) send(ctx context.Context, cmd *command) (rec attendance.AttendanceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = attendance.NewTransportError(fmt.Errorf("%s: upstream call panicked: %v", cmd.op, r))
		}
	}()
	return cmd.send(ctx)
}

// reloadRecords replaces local records with the server's. A failure keeps
// the current state; the next poll catches up.
func (c *SyncController) reloadRecords(ctx context.Context, op string) {
	records, err := c.gateway.TodayRecords(ctx)
	if err != nil {
		slog.Warn("failed to reload records after operation", "operation", op, "error", err)
		return
	}
	if c.machine.Closed() {
		return
	}
	c.machine.ReplaceRecords(records, c.clock.Now())
}

func conflictNotice(err error) string {
	var e *attendance.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch attendance.CodeOf(err) {
	case attendance.CodeAlreadyCheckedIn:
		return "You have already checked in"
	case attendance.CodeHasUnclosedSession:
		return "You still have an open session"
	case attendance.CodeAlreadyCheckedOut:
		return "You have already checked out"
	}
	return err.Error()
}

func classify(err error) error {
	if attendance.KindOf(err) != "" {
		return err
	}
	return attendance.NewTransportError(err)
}
