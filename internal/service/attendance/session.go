package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/sse"
	"golang.org/x/sync/errgroup"
)

const opRefresh = "refresh"

// Publisher pushes session events to live subscribers.
type Publisher interface {
	Publish(employeeID string, event sse.Event)
	SubscriberCount(employeeID string) int
}

// GatewayFactory builds an upstream gateway that authenticates with the
// token returned by token at call time.
type GatewayFactory func(token func() string) attendance.Gateway

// Session is one staff member's live attendance state: the state machine,
// its operation lock and the sync controller sharing them.
type Session struct {
	employeeID string
	machine    *Machine
	lock       *OperationLock
	sync       *SyncController
	gateway    attendance.Gateway
	clock      clock.Clock
	publisher  Publisher

	mu       sync.Mutex
	token    string
	lastSeen time.Time

	// remindedAt is the reminder instant last announced, one per shift.
	remindedAt time.Time
}

func newSession(employeeID, token string, newGateway GatewayFactory, clk clock.Clock, publisher Publisher, tolerance attendance.ToleranceSettings) *Session {
	s := &Session{
		employeeID: employeeID,
		machine:    NewMachine(tolerance),
		lock:       &OperationLock{},
		clock:      clk,
		publisher:  publisher,
		token:      token,
		lastSeen:   clk.Now(),
	}
	s.gateway = newGateway(s.Token)
	s.sync = NewSyncController(s.machine, s.gateway, s.lock, clk)
	return s
}

// EmployeeID returns the owner of the session.
func (s *Session) EmployeeID() string { return s.employeeID }

// Token returns the caller's current upstream token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// LastSeen returns the time of the last request made through the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(token string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" {
		s.token = token
	}
	s.lastSeen = now
}

// Gateway returns the session's upstream gateway.
func (s *Session) Gateway() attendance.Gateway { return s.gateway }

// State returns the read-model evaluated at the current time.
func (s *Session) State() attendance.DailyState {
	return s.machine.StateAt(s.clock.Now())
}

// WorkedTime evaluates the effective shift's worked time at now.
func (s *Session) WorkedTime(state attendance.DailyState, now time.Time) *attendance.WorkedTime {
	if state.EffectiveShift == nil {
		return nil
	}
	wt := WorkedTimeForShift(state.EffectiveShift, state.TodayRecords, now)
	return &wt
}

// Refresh reloads today's schedule, records and location from upstream.
//
// It is skipped while an operation holds the lock, and its result is
// discarded if an operation started or finished during the fetch. A part
// that fails to load keeps its last good value and marks the state stale;
// the joined part errors are returned alongside the applied state.
func (s *Session) Refresh(ctx context.Context) (attendance.DailyState, error) {
	if s.machine.Closed() {
		return attendance.DailyState{}, attendance.ErrSessionClosed
	}
	if op, held := s.lock.Held(); held {
		slog.Debug("attendance refresh skipped", "employee_id", s.employeeID, "operation", op)
		return s.State(), attendance.ErrRefreshSkipped
	}

	generation := s.lock.Generation()
	update := s.fetch(ctx)

	if s.machine.Closed() {
		return attendance.DailyState{}, attendance.ErrSessionClosed
	}

	release, ok := s.lock.TryAcquireAt(opRefresh, generation)
	if !ok {
		slog.Debug("attendance refresh discarded", "employee_id", s.employeeID)
		return s.State(), attendance.ErrRefreshSkipped
	}
	state := s.machine.Apply(update, s.clock.Now())
	release()

	s.publishState(state)

	if update.Failed() {
		return state, errors.Join(update.ScheduleErr, update.RecordsErr, update.LocationErr)
	}
	return state, nil
}

// fetch loads the three parts concurrently. Each failure is kept on its
// own part so one failing call does not cancel the others.
func (s *Session) fetch(ctx context.Context) Update {
	var u Update
	var g errgroup.Group

	g.Go(func() error {
		schedules, err := s.gateway.TodaySchedule(ctx)
		u.Schedules, u.ScheduleErr = schedules, wrapFetch("schedule", err)
		return nil
	})
	g.Go(func() error {
		records, err := s.gateway.TodayRecords(ctx)
		u.Records, u.RecordsErr = records, wrapFetch("records", err)
		return nil
	})
	g.Go(func() error {
		loc, err := s.gateway.WorkLocation(ctx)
		u.WorkLocation, u.LocationErr = loc, wrapFetch("work location", err)
		return nil
	})

	_ = g.Wait()
	return u
}

func wrapFetch(part string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to fetch %s: %w", part, err)
}

// CheckIn runs the optimistic check-in protocol.
func (s *Session) CheckIn(ctx context.Context, location attendance.LocationProvider) (attendance.OperationResult, error) {
	result, err := s.sync.CheckIn(ctx, location)
	s.afterOperation(result)
	return result, err
}

// CheckOut runs the optimistic check-out protocol.
func (s *Session) CheckOut(ctx context.Context, location attendance.LocationProvider) (attendance.OperationResult, error) {
	result, err := s.sync.CheckOut(ctx, location)
	s.afterOperation(result)
	return result, err
}

func (s *Session) afterOperation(result attendance.OperationResult) {
	if result.Outcome == "" || result.Outcome == attendance.OutcomeDiscarded {
		return
	}
	s.publishState(s.State())
	if result.Notice != "" && s.publisher != nil {
		s.publisher.Publish(s.employeeID, sse.Event{
			Event: sse.EventNotice,
			Data:  map[string]string{"outcome": string(result.Outcome), "notice": result.Notice},
		})
	}
}

// Tick publishes the worked time of an open attendance at now. It never
// mutates state and reports whether an event was published.
func (s *Session) Tick(now time.Time) bool {
	if s.machine.Closed() || s.publisher == nil || s.publisher.SubscriberCount(s.employeeID) == 0 {
		return false
	}

	state := s.machine.StateAt(now)
	if !state.IsCheckedIn {
		return false
	}
	wt := s.WorkedTime(state, now)
	if wt == nil {
		return false
	}

	s.publisher.Publish(s.employeeID, sse.Event{
		Event: sse.EventWorkedTime,
		Data:  toWorkedTimeResponse(*wt),
	})
	return true
}

// RemindCheckout publishes a one-off notice once an open attendance runs
// past its shift's checkout reminder instant. Checkout is never forced.
func (s *Session) RemindCheckout(now time.Time) bool {
	if s.machine.Closed() || s.publisher == nil {
		return false
	}

	state := s.machine.StateAt(now)
	res := state.EffectiveShift
	if !state.IsCheckedIn || res == nil || res.CheckoutReminderAt.IsZero() || now.Before(res.CheckoutReminderAt) {
		return false
	}

	s.mu.Lock()
	if s.remindedAt.Equal(res.CheckoutReminderAt) {
		s.mu.Unlock()
		return false
	}
	s.remindedAt = res.CheckoutReminderAt
	s.mu.Unlock()

	s.publisher.Publish(s.employeeID, sse.Event{
		Event: sse.EventNotice,
		Data: map[string]string{
			"notice":    "checkout_reminder",
			"shift_id":  res.Shift.ID,
			"shift_end": res.End.Format(time.RFC3339),
		},
	})
	return true
}

func (s *Session) publishState(state attendance.DailyState) {
	if s.publisher == nil {
		return
	}
	now := s.clock.Now()
	s.publisher.Publish(s.employeeID, sse.Event{
		Event: sse.EventState,
		Data:  toStateResponse(state, s.WorkedTime(state, now)),
	})
}

// Close tears the session down. Operations still in flight complete but
// their results are discarded.
func (s *Session) Close() {
	s.machine.Close()
}

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool {
	return s.machine.Closed()
}

// Registry owns the live sessions, one per employee.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	newGateway  GatewayFactory
	clock       clock.Clock
	publisher   Publisher
	tolerance   attendance.ToleranceSettings
	idleTimeout time.Duration
}

// NewRegistry returns an empty registry. Sessions unused for idleTimeout
// are closed by ExpireIdle.
func NewRegistry(newGateway GatewayFactory, clk clock.Clock, publisher Publisher, tolerance attendance.ToleranceSettings, idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		newGateway:  newGateway,
		clock:       clk,
		publisher:   publisher,
		tolerance:   tolerance,
		idleTimeout: idleTimeout,
	}
}

// Open returns the employee's session, creating it on first use. The
// returned bool is true for a new session, which has not been refreshed.
func (r *Registry) Open(employeeID, token string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if s, ok := r.sessions[employeeID]; ok && !s.Closed() {
		s.touch(token, now)
		return s, false
	}

	s := newSession(employeeID, token, r.newGateway, r.clock, r.publisher, r.tolerance)
	r.sessions[employeeID] = s
	slog.Info("attendance session opened", "employee_id", employeeID)
	return s, true
}

// Get returns the employee's live session.
func (r *Registry) Get(employeeID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[employeeID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) list() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// RefreshAll polls every live session. Sessions with an operation in
// flight are skipped for this cycle.
func (r *Registry) RefreshAll(ctx context.Context) (refreshed, skipped int, err error) {
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, s := range r.list() {
		g.Go(func() error {
			_, err := s.Refresh(gctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, attendance.ErrRefreshSkipped), errors.Is(err, attendance.ErrSessionClosed):
				skipped++
			case err != nil:
				refreshed++
				errs = append(errs, fmt.Errorf("employee %s: %w", s.employeeID, err))
			default:
				refreshed++
			}
			return nil
		})
	}

	_ = g.Wait()
	return refreshed, skipped, errors.Join(errs...)
}

// TickAll publishes worked time for every session with an open attendance.
func (r *Registry) TickAll(now time.Time) int {
	published := 0
	for _, s := range r.list() {
		if s.Tick(now) {
			published++
		}
	}
	return published
}

// RemindCheckouts sends due checkout reminders.
func (r *Registry) RemindCheckouts(now time.Time) int {
	reminded := 0
	for _, s := range r.list() {
		if s.RemindCheckout(now) {
			reminded++
		}
	}
	return reminded
}

// ExpireIdle closes and drops sessions unused for the idle timeout.
func (r *Registry) ExpireIdle(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for id, s := range r.sessions {
		if s.Closed() || now.Sub(s.LastSeen()) >= r.idleTimeout {
			s.Close()
			delete(r.sessions, id)
			expired++
		}
	}
	return expired
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
}
