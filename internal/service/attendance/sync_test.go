package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	machine *Machine
	gateway *fakeGateway
	lock    *OperationLock
	clock   *clock.FakeClock
	ctrl    *SyncController
}

func newSyncFixture(t *testing.T, now time.Time, records ...attendance.AttendanceRecord) *syncFixture {
	t.Helper()
	f := &syncFixture{
		machine: loadedMachine(t, records...),
		gateway: &fakeGateway{records: records},
		lock:    &OperationLock{},
		clock:   clock.Fake(now),
	}
	f.ctrl = NewSyncController(f.machine, f.gateway, f.lock, f.clock)
	return f
}

func TestSyncController_CheckInCommitted(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 20))
	canonical := newRecord("att-1", "s1", ptr(at(10, 8, 20)), nil)
	f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		f.gateway.setRecords(canonical)
		return canonical, nil
	}

	result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
	require.NoError(t, err)

	assert.Equal(t, attendance.OutcomeCommitted, result.Outcome)
	assert.Equal(t, attendance.LabelLate, result.Label)
	require.NotNil(t, result.Record)
	assert.Equal(t, "att-1", result.Record.ID)

	require.Len(t, result.State.TodayRecords, 1)
	assert.Equal(t, "att-1", result.State.TodayRecords[0].ID)
	assert.False(t, result.State.TodayRecords[0].Pending)
	assert.True(t, result.State.IsCheckedIn)

	require.NotNil(t, f.gateway.lastRequest.ScheduleID)
	assert.Equal(t, "s1", *f.gateway.lastRequest.ScheduleID)
	assert.Equal(t, -6.2000, f.gateway.lastRequest.Latitude)

	_, held := f.lock.Held()
	assert.False(t, held)
}

func TestSyncController_TransportErrorRollsBackExactly(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	before := f.machine.State()

	var seenPending bool
	f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		seenPending = f.machine.State().IsCheckedIn
		return attendance.AttendanceRecord{}, attendance.NewTransportError(errors.New("connection reset"))
	}

	result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
	require.Error(t, err)

	assert.True(t, seenPending, "optimistic record should be visible during the call")
	assert.Equal(t, attendance.KindTransport, attendance.KindOf(err))
	assert.Equal(t, attendance.OutcomeRolledBack, result.Outcome)
	assert.Equal(t, before, f.machine.State())
	assert.Equal(t, before, result.State)
}

func TestSyncController_SoftCodesReconcile(t *testing.T) {
	for _, code := range []string{attendance.CodeAlreadyCheckedIn, attendance.CodeHasUnclosedSession} {
		t.Run(code, func(t *testing.T) {
			f := newSyncFixture(t, at(10, 8, 0))
			existing := newRecord("att-7", "s1", ptr(at(10, 7, 50)), nil)
			f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
				f.gateway.setRecords(existing)
				return attendance.AttendanceRecord{}, attendance.NewServerError(code, "")
			}

			result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
			require.NoError(t, err)

			assert.Equal(t, attendance.OutcomeReconciled, result.Outcome)
			assert.NotEmpty(t, result.Notice)
			require.Len(t, result.State.TodayRecords, 1)
			assert.Equal(t, "att-7", result.State.TodayRecords[0].ID)
			assert.True(t, result.State.IsCheckedIn)
		})
	}
}

func TestSyncController_CheckOutAlreadyCheckedOut(t *testing.T) {
	open := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)
	f := newSyncFixture(t, at(10, 16, 5), open)
	closed := newRecord("att-1", "s1", ptr(at(10, 8, 0)), ptr(at(10, 16, 0)))
	f.gateway.checkOut = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		f.gateway.setRecords(closed)
		return attendance.AttendanceRecord{}, attendance.NewServerError(attendance.CodeAlreadyCheckedOut, "already checked out")
	}

	result, err := f.ctrl.CheckOut(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeReconciled, result.Outcome)
	assert.Equal(t, "already checked out", result.Notice)
	assert.Equal(t, attendance.StatusCheckedOutClosable, result.State.Status)
	assert.Equal(t, at(10, 16, 0), *result.State.TodayRecords[0].TimeOut)
}

func TestSyncController_HardCodesRollBack(t *testing.T) {
	for _, code := range []string{attendance.CodeNotCheckedIn, attendance.CodeCheckoutNotAllowed, "SOMETHING_NEW"} {
		t.Run(code, func(t *testing.T) {
			open := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)
			f := newSyncFixture(t, at(10, 12, 0), open)
			before := f.machine.State()
			f.gateway.checkOut = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
				return attendance.AttendanceRecord{}, attendance.NewServerError(code, "rejected")
			}

			result, err := f.ctrl.CheckOut(context.Background(), attendance.FixedLocation(atOffice()))
			require.Error(t, err)
			assert.Equal(t, code, attendance.CodeOf(err))
			assert.Equal(t, attendance.OutcomeRolledBack, result.Outcome)
			assert.Equal(t, before, f.machine.State())
		})
	}
}

func TestSyncController_CheckOutCommitted(t *testing.T) {
	open := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)
	f := newSyncFixture(t, at(10, 17, 30), open)
	closed := newRecord("att-1", "s1", ptr(at(10, 8, 0)), ptr(at(10, 17, 30)))
	f.gateway.checkOut = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		f.gateway.setRecords(closed)
		return closed, nil
	}

	result, err := f.ctrl.CheckOut(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeCommitted, result.Outcome)
	assert.Equal(t, attendance.StatusCheckedOutClosable, result.State.Status)
	require.NotNil(t, f.gateway.lastRequest.ScheduleID)
	assert.Equal(t, "s1", *f.gateway.lastRequest.ScheduleID)
	assert.Zero(t, f.gateway.lastRequest.Latitude)
}

func TestSyncController_ValidationLeavesStateAlone(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	before := f.machine.State()

	_, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(farAway()))
	assert.ErrorIs(t, err, attendance.ErrOutsideAllowedRadius)
	assert.Equal(t, before, f.machine.State())

	_, _, checkIns, _ := f.gateway.calls()
	assert.Zero(t, checkIns)

	_, err = f.ctrl.CheckOut(context.Background(), nil)
	assert.ErrorIs(t, err, attendance.ErrNotCheckedIn)
}

func TestSyncController_BusyWhileInFlight(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	entered := make(chan struct{})
	unblock := make(chan struct{})
	canonical := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)
	f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		close(entered)
		<-unblock
		f.gateway.setRecords(canonical)
		return canonical, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
		done <- err
	}()
	<-entered

	_, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
	assert.ErrorIs(t, err, attendance.ErrBusy)
	_, err = f.ctrl.CheckOut(context.Background(), nil)
	assert.ErrorIs(t, err, attendance.ErrBusy)

	close(unblock)
	require.NoError(t, <-done)

	_, _, checkIns, _ := f.gateway.calls()
	assert.Equal(t, 1, checkIns)
}

func TestSyncController_PanicRollsBack(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	before := f.machine.State()
	f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		panic("decoder exploded")
	}

	result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
	require.Error(t, err)
	assert.Equal(t, attendance.KindTransport, attendance.KindOf(err))
	assert.Equal(t, attendance.OutcomeRolledBack, result.Outcome)
	assert.Equal(t, before, f.machine.State())

	_, held := f.lock.Held()
	assert.False(t, held)
}

func TestSyncController_DiscardsAfterClose(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		f.machine.Close()
		return newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil), nil
	}

	result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
	assert.ErrorIs(t, err, attendance.ErrSessionClosed)
	assert.Equal(t, attendance.OutcomeDiscarded, result.Outcome)

	_, records, _, _ := f.gateway.calls()
	assert.Zero(t, records, "no reload after teardown")
}

func TestSyncController_ReloadFailureKeepsCommit(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	canonical := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)
	f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		f.gateway.mu.Lock()
		f.gateway.recordsErr = errors.New("timeout")
		f.gateway.mu.Unlock()
		return canonical, nil
	}

	result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeCommitted, result.Outcome)
	require.Len(t, result.State.TodayRecords, 1)
	assert.Equal(t, "att-1", result.State.TodayRecords[0].ID)
}

func TestSyncController_AcceptedWithoutRecordKeepsTentative(t *testing.T) {
	t.Run("check-in", func(t *testing.T) {
		f := newSyncFixture(t, at(10, 8, 0))
		f.gateway.checkIn = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
			f.gateway.mu.Lock()
			f.gateway.recordsErr = errors.New("502 bad gateway")
			f.gateway.mu.Unlock()
			return attendance.AttendanceRecord{}, nil
		}

		result, err := f.ctrl.CheckIn(context.Background(), attendance.FixedLocation(atOffice()))
		require.NoError(t, err)
		assert.Equal(t, attendance.OutcomeCommitted, result.Outcome)
		assert.True(t, result.State.IsCheckedIn)
		assert.False(t, result.State.CanCheckIn)
		assert.True(t, result.State.CanCheckOut)

		require.Len(t, result.State.TodayRecords, 1)
		rec := result.State.TodayRecords[0]
		assert.False(t, rec.Pending)
		require.NotNil(t, rec.TimeIn)
		assert.Equal(t, at(10, 8, 0), *rec.TimeIn)

		require.NotNil(t, result.Record)
		assert.False(t, result.Record.Pending)
		assert.Equal(t, rec.ID, result.Record.ID)
	})

	t.Run("check-out", func(t *testing.T) {
		open := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)
		f := newSyncFixture(t, at(10, 16, 5), open)
		f.gateway.checkOut = func(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
			f.gateway.mu.Lock()
			f.gateway.recordsErr = errors.New("502 bad gateway")
			f.gateway.mu.Unlock()
			return attendance.AttendanceRecord{}, nil
		}

		result, err := f.ctrl.CheckOut(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, attendance.OutcomeCommitted, result.Outcome)
		assert.False(t, result.State.IsCheckedIn)

		require.Len(t, result.State.TodayRecords, 1)
		rec := result.State.TodayRecords[0]
		assert.Equal(t, "att-1", rec.ID)
		assert.False(t, rec.Pending)
		require.NotNil(t, rec.TimeOut)
		assert.Equal(t, at(10, 16, 5), *rec.TimeOut)
	})
}

func TestSyncController_CallerCancelDoesNotAbortWrite(t *testing.T) {
	f := newSyncFixture(t, at(10, 8, 0))
	canonical := newRecord("att-1", "s1", ptr(at(10, 8, 0)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var sendErr error
	f.gateway.checkIn = func(sendCtx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
		// the caller hangs up while the server is still working
		cancel()
		sendErr = sendCtx.Err()
		f.gateway.setRecords(canonical)
		return canonical, nil
	}

	result, err := f.ctrl.CheckIn(ctx, attendance.FixedLocation(atOffice()))
	require.NoError(t, err)
	assert.NoError(t, sendErr)
	assert.Error(t, ctx.Err())
	assert.Equal(t, attendance.OutcomeCommitted, result.Outcome)
	assert.True(t, result.State.IsCheckedIn)
	require.Len(t, result.State.TodayRecords, 1)
	assert.Equal(t, "att-1", result.State.TodayRecords[0].ID)
}

func TestOperationLock(t *testing.T) {
	var lock OperationLock
	gen := lock.Generation()

	release, ok := lock.TryAcquire(opCheckIn)
	require.True(t, ok)
	op, held := lock.Held()
	assert.True(t, held)
	assert.Equal(t, opCheckIn, op)

	_, ok = lock.TryAcquire(opCheckOut)
	assert.False(t, ok)

	release()
	release()
	_, held = lock.Held()
	assert.False(t, held)
	assert.Equal(t, gen+2, lock.Generation())

	_, ok = lock.TryAcquireAt(opRefresh, gen)
	assert.False(t, ok, "generation moved")

	release, ok = lock.TryAcquireAt(opRefresh, lock.Generation())
	assert.True(t, ok)
	release()
}
