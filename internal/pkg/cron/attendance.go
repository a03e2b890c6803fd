package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
)

// SessionPool is the set of live attendance sessions driven by the jobs.
type SessionPool interface {
	RefreshAll(ctx context.Context) (refreshed, skipped int, err error)
	TickAll(now time.Time) int
	RemindCheckouts(now time.Time) int
	ExpireIdle(now time.Time) int
}

// AttendanceIntervals configures how often each attendance job runs.
type AttendanceIntervals struct {
	Poll   time.Duration
	Tick   time.Duration
	Expiry time.Duration
}

type AttendanceJobs struct {
	sessions  SessionPool
	clock     clock.Clock
	intervals AttendanceIntervals
}

func NewAttendanceJobs(sessions SessionPool, clk clock.Clock, intervals AttendanceIntervals) *AttendanceJobs {
	if intervals.Expiry <= 0 {
		intervals.Expiry = time.Minute
	}
	return &AttendanceJobs{
		sessions:  sessions,
		clock:     clk,
		intervals: intervals,
	}
}

func (j *AttendanceJobs) RegisterJobs(scheduler *Scheduler) {
	if j.intervals.Poll > 0 {
		scheduler.AddJob("attendance_refresh", j.intervals.Poll, j.RefreshSessions)
	}
	if j.intervals.Tick > 0 {
		scheduler.AddQuietJob("worked_time_tick", j.intervals.Tick, j.TickWorkedTime)
	}
	scheduler.AddJob("checkout_reminder", j.intervals.Expiry, j.RemindCheckouts)
	scheduler.AddJob("expire_idle_sessions", j.intervals.Expiry, j.ExpireIdleSessions)
}

// RefreshSessions polls upstream for every live session.
func (j *AttendanceJobs) RefreshSessions(ctx context.Context) error {
	refreshed, skipped, err := j.sessions.RefreshAll(ctx)
	if refreshed > 0 || skipped > 0 {
		slog.Info("Cron: attendance sessions refreshed", "refreshed", refreshed, "skipped", skipped)
	}
	if err != nil {
		return fmt.Errorf("refresh attendance sessions: %w", err)
	}
	return nil
}

// TickWorkedTime pushes the running worked time to subscribers.
func (j *AttendanceJobs) TickWorkedTime(ctx context.Context) error {
	published := j.sessions.TickAll(j.clock.Now())
	if published > 0 {
		slog.Debug("Cron: worked time published", "sessions", published)
	}
	return nil
}

// RemindCheckouts notifies staff still checked in past their reminder instant.
func (j *AttendanceJobs) RemindCheckouts(ctx context.Context) error {
	if reminded := j.sessions.RemindCheckouts(j.clock.Now()); reminded > 0 {
		slog.Info("Cron: checkout reminders sent", "count", reminded)
	}
	return nil
}

// ExpireIdleSessions drops sessions nobody has used recently.
func (j *AttendanceJobs) ExpireIdleSessions(ctx context.Context) error {
	if expired := j.sessions.ExpireIdle(j.clock.Now()); expired > 0 {
		slog.Info("Cron: idle attendance sessions expired", "count", expired)
	}
	return nil
}
