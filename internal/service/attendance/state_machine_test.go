package attendance

import (
	"errors"
	"strings"
	"testing"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedMachine(t *testing.T, records ...attendance.AttendanceRecord) *Machine {
	t.Helper()
	m := NewMachine(attendance.DefaultTolerance())
	m.Apply(Update{
		Schedules:    []attendance.ShiftSchedule{newShift(t, "s1", "08:00", "16:00", at(10, 0, 0), 0)},
		Records:      records,
		WorkLocation: office(),
	}, at(10, 7, 0))
	return m
}

func TestMachine_DerivedFlags(t *testing.T) {
	t.Run("nothing recorded", func(t *testing.T) {
		state := loadedMachine(t).State()
		assert.Equal(t, attendance.StatusNotCheckedIn, state.Status)
		assert.True(t, state.CanCheckIn)
		assert.False(t, state.CanCheckOut)
		assert.False(t, state.IsCheckedIn)
		assert.True(t, state.IsOnDuty)
		assert.False(t, state.Stale)
		assert.Equal(t, at(10, 7, 0), state.LastRefreshedAt)
	})

	t.Run("open record", func(t *testing.T) {
		state := loadedMachine(t, newRecord("r1", "s1", ptr(at(10, 8, 0)), nil)).State()
		assert.Equal(t, attendance.StatusCheckedInOpen, state.Status)
		assert.True(t, state.IsCheckedIn)
		assert.False(t, state.CanCheckIn)
		assert.True(t, state.CanCheckOut)
	})

	t.Run("closed record keeps checkout available", func(t *testing.T) {
		m := loadedMachine(t, newRecord("r1", "s1", ptr(at(10, 8, 0)), ptr(at(10, 12, 0))))
		for _, now := range []int{6, 12, 23} {
			state := m.StateAt(at(10, now, 0))
			assert.Equal(t, attendance.StatusCheckedOutClosable, state.Status)
			assert.True(t, state.CanCheckOut)
			assert.True(t, state.CanCheckIn)
			assert.False(t, state.IsCheckedIn)
		}
	})

	t.Run("checkout available without any schedule", func(t *testing.T) {
		m := NewMachine(attendance.DefaultTolerance())
		state := m.Apply(Update{Records: []attendance.AttendanceRecord{
			newRecord("r1", "", ptr(at(10, 8, 0)), ptr(at(10, 9, 0))),
		}}, at(10, 23, 0))
		assert.True(t, state.CanCheckOut)
		assert.False(t, state.IsOnDuty)
		assert.Nil(t, state.EffectiveShift)
	})
}

func TestMachine_ApplyKeepsLastGoodParts(t *testing.T) {
	m := loadedMachine(t, newRecord("r1", "s1", ptr(at(10, 8, 0)), nil))
	before := m.State()

	state := m.Apply(Update{
		ScheduleErr: errors.New("timeout"),
		RecordsErr:  errors.New("timeout"),
		LocationErr: errors.New("timeout"),
	}, at(10, 9, 0))

	assert.True(t, state.Stale)
	assert.Equal(t, before.TodayRecords, state.TodayRecords)
	assert.Equal(t, before.WorkLocation, state.WorkLocation)
	assert.Equal(t, before.LastRefreshedAt, state.LastRefreshedAt)
	assert.Equal(t, attendance.StatusCheckedInOpen, state.Status)
	require.NotNil(t, state.EffectiveShift)
	assert.Equal(t, "s1", state.EffectiveShift.Shift.ID)

	state = m.Apply(Update{
		Records:     []attendance.AttendanceRecord{},
		LocationErr: errors.New("timeout"),
		Schedules:   []attendance.ShiftSchedule{newShift(t, "s1", "08:00", "16:00", at(10, 0, 0), 0)},
	}, at(10, 9, 30))
	assert.True(t, state.Stale)
	assert.Empty(t, state.TodayRecords)
	assert.Equal(t, attendance.StatusNotCheckedIn, state.Status)
	assert.NotNil(t, state.WorkLocation)

	state = m.Apply(Update{}, at(10, 10, 0))
	assert.False(t, state.Stale)
	assert.Nil(t, state.WorkLocation)
	assert.Nil(t, state.EffectiveShift)
}

func TestMachine_EvaluateCheckIn(t *testing.T) {
	t.Run("inside the pre-shift buffer", func(t *testing.T) {
		res, err := loadedMachine(t).EvaluateCheckIn(at(10, 7, 35), atOffice())
		require.NoError(t, err)
		assert.Equal(t, "s1", res.Shift.ID)
	})

	t.Run("before the pre-shift buffer", func(t *testing.T) {
		_, err := loadedMachine(t).EvaluateCheckIn(at(10, 7, 25), atOffice())
		assert.ErrorIs(t, err, attendance.ErrOutsideCheckinWindow)
		assert.Equal(t, attendance.KindValidation, attendance.KindOf(err))
	})

	t.Run("late but before shift end", func(t *testing.T) {
		_, err := loadedMachine(t).EvaluateCheckIn(at(10, 15, 59), atOffice())
		assert.NoError(t, err)
	})

	t.Run("outside the radius", func(t *testing.T) {
		_, err := loadedMachine(t).EvaluateCheckIn(at(10, 8, 0), farAway())
		assert.ErrorIs(t, err, attendance.ErrOutsideAllowedRadius)
		assert.True(t, strings.Contains(err.Error(), "HQ"))
	})

	t.Run("already checked in", func(t *testing.T) {
		m := loadedMachine(t, newRecord("r1", "s1", ptr(at(10, 8, 0)), nil))
		_, err := m.EvaluateCheckIn(at(10, 8, 5), atOffice())
		assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedIn)
	})

	t.Run("no work location", func(t *testing.T) {
		m := NewMachine(attendance.DefaultTolerance())
		m.Apply(Update{Schedules: []attendance.ShiftSchedule{newShift(t, "s1", "08:00", "16:00", at(10, 0, 0), 0)}}, at(10, 7, 0))
		_, err := m.EvaluateCheckIn(at(10, 8, 0), atOffice())
		assert.ErrorIs(t, err, attendance.ErrNoWorkLocation)
	})

	t.Run("no schedule", func(t *testing.T) {
		m := NewMachine(attendance.DefaultTolerance())
		m.Apply(Update{WorkLocation: office()}, at(10, 7, 0))
		_, err := m.EvaluateCheckIn(at(10, 8, 0), atOffice())
		assert.ErrorIs(t, err, attendance.ErrNoScheduleFound)
	})
}

func TestMachine_EvaluateCheckOut(t *testing.T) {
	_, err := loadedMachine(t).EvaluateCheckOut()
	assert.ErrorIs(t, err, attendance.ErrNotCheckedIn)

	m := loadedMachine(t,
		newRecord("r1", "s1", ptr(at(10, 8, 0)), ptr(at(10, 9, 0))),
		newRecord("r2", "s1", ptr(at(10, 10, 0)), nil),
	)
	target, err := m.EvaluateCheckOut()
	require.NoError(t, err)
	assert.Equal(t, "r2", target.Record.ID)
	require.NotNil(t, target.ScheduleID)
	assert.Equal(t, "s1", *target.ScheduleID)

	m = loadedMachine(t,
		newRecord("r1", "s1", ptr(at(10, 8, 0)), ptr(at(10, 9, 0))),
		newRecord("r2", "s1", ptr(at(10, 10, 0)), ptr(at(10, 11, 0))),
	)
	target, err = m.EvaluateCheckOut()
	require.NoError(t, err)
	assert.Equal(t, "r2", target.Record.ID)
}

func TestMachine_TentativeCheckInRestoresExactly(t *testing.T) {
	m := loadedMachine(t)
	before := m.State()
	snap := m.Snapshot()

	res, err := m.EvaluateCheckIn(at(10, 8, 0), atOffice())
	require.NoError(t, err)
	rec := m.ApplyTentativeCheckIn(res, at(10, 8, 0))

	assert.True(t, strings.HasPrefix(rec.ID, pendingPrefix))
	assert.True(t, rec.Pending)
	assert.True(t, m.State().IsCheckedIn)

	m.Restore(snap)
	assert.Equal(t, before, m.State())
	assert.Equal(t, before, snap.State())
}

func TestMachine_TentativeCheckOutAndCommit(t *testing.T) {
	m := loadedMachine(t, newRecord("r1", "s1", ptr(at(10, 8, 0)), nil))

	target, err := m.EvaluateCheckOut()
	require.NoError(t, err)
	tentative := m.ApplyTentativeCheckOut(target, at(10, 16, 0))
	assert.Equal(t, "r1", tentative.ID)
	assert.True(t, tentative.Pending)
	assert.Equal(t, attendance.StatusCheckedOutClosable, m.State().Status)

	canonical := newRecord("r1", "s1", ptr(at(10, 8, 0)), ptr(at(10, 16, 0)))
	state := m.CommitRecord(tentative.ID, canonical, at(10, 16, 0))
	require.Len(t, state.TodayRecords, 1)
	assert.False(t, state.TodayRecords[0].Pending)
	assert.Equal(t, at(10, 16, 0), *state.TodayRecords[0].TimeOut)
}

func TestMachine_CommitReplacesPendingRecord(t *testing.T) {
	m := loadedMachine(t)
	res, err := m.EvaluateCheckIn(at(10, 8, 0), atOffice())
	require.NoError(t, err)
	tentative := m.ApplyTentativeCheckIn(res, at(10, 8, 0))

	state := m.CommitRecord(tentative.ID, newRecord("att-9", "s1", ptr(at(10, 8, 0)), nil), at(10, 8, 0))
	require.Len(t, state.TodayRecords, 1)
	assert.Equal(t, "att-9", state.TodayRecords[0].ID)
	assert.True(t, state.IsCheckedIn)
}

func TestMachine_Close(t *testing.T) {
	m := NewMachine(attendance.DefaultTolerance())
	assert.False(t, m.Closed())
	m.Close()
	assert.True(t, m.Closed())
}
