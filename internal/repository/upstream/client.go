// Package upstream is the HTTP gateway to the HRIS attendance API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
)

// API paths relative to the configured base URL.
const (
	PathTodaySchedule = "/api/v1/attendance/today-schedule"
	PathTodayRecords  = "/api/v1/attendance/today"
	PathWorkLocation  = "/api/v1/attendance/work-location"
	PathHistory       = "/api/v1/attendance/history"
	PathCheckIn       = "/api/v1/attendance/check-in"
	PathCheckOut      = "/api/v1/attendance/check-out"
)

// maxResponseSize bounds response body reads.
const maxResponseSize int64 = 4 << 20

// errTemporary marks failures worth retrying on idempotent reads.
var errTemporary = errors.New("temporary upstream failure")

// Config configures the gateway.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	ReadRetries    int
	RetryBaseDelay time.Duration

	// Location anchors dates and clock-only timestamps.
	Location *time.Location
}

// Client implements attendance.Gateway over HTTP. GET requests are retried
// with exponential backoff; check-in and check-out are sent exactly once.
type Client struct {
	cfg   Config
	http  *http.Client
	token func() string
	clock clock.Clock
}

// NewClient returns a gateway authenticating with the token returned by
// token. A token attached to the request context takes precedence.
func NewClient(cfg Config, httpClient *http.Client, token func() string, clk clock.Clock) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:   cfg,
		http:  httpClient,
		token: token,
		clock: clk,
	}
}

// NewFactory returns a per-session gateway constructor sharing one
// http.Client.
func NewFactory(cfg Config, httpClient *http.Client, clk clock.Clock) func(token func() string) attendance.Gateway {
	return func(token func() string) attendance.Gateway {
		return NewClient(cfg, httpClient, token, clk)
	}
}

// TodaySchedule implements attendance.Gateway.
func (c *Client) TodaySchedule(ctx context.Context) ([]attendance.ShiftSchedule, error) {
	data, err := c.get(ctx, PathTodaySchedule, nil)
	if err != nil {
		return nil, err
	}

	var raw []attendance.RawSchedule
	if err := decodeList(data, &raw, "schedules", "shifts"); err != nil {
		return nil, err
	}

	schedules, errs := attendance.NormalizeSchedules(raw, c.cfg.Location)
	for _, e := range errs {
		slog.Warn("dropped malformed schedule", "error", e)
	}
	return schedules, nil
}

// TodayRecords implements attendance.Gateway.
func (c *Client) TodayRecords(ctx context.Context) ([]attendance.AttendanceRecord, error) {
	data, err := c.get(ctx, PathTodayRecords, nil)
	if err != nil {
		return nil, err
	}

	var raw []attendance.RawRecord
	if err := decodeList(data, &raw, "records", "attendances"); err != nil {
		return nil, err
	}

	records, errs := attendance.NormalizeRecords(raw, c.cfg.Location)
	for _, e := range errs {
		slog.Warn("attendance record has unreadable fields", "error", e)
	}
	return records, nil
}

// WorkLocation implements attendance.Gateway.
func (c *Client) WorkLocation(ctx context.Context) (*attendance.WorkLocation, error) {
	data, err := c.get(ctx, PathWorkLocation, nil)
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}

	var raw attendance.RawWorkLocation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, attendance.NewDataError(fmt.Errorf("%w: work location: %v", attendance.ErrUpstreamResponse, err))
	}
	return attendance.NormalizeWorkLocation(&raw)
}

// ListHistory implements attendance.HistoryRepository. The upstream API
// scopes history by the caller's token, so employeeID is informational.
func (c *Client) ListHistory(ctx context.Context, employeeID string, dateRange attendance.DateRange) ([]attendance.HistoryEntry, error) {
	query := url.Values{}
	query.Set("start_date", dateRange.Start.Format("2006-01-02"))
	query.Set("end_date", dateRange.End.Format("2006-01-02"))

	data, err := c.get(ctx, PathHistory, query)
	if err != nil {
		return nil, err
	}

	var raw []attendance.RawHistoryRecord
	if err := decodeList(data, &raw, "records", "history"); err != nil {
		return nil, err
	}

	entries, errs := attendance.NormalizeHistory(raw, c.cfg.Location)
	for _, e := range errs {
		slog.Warn("history record has unreadable fields", "employee_id", employeeID, "error", e)
	}
	return entries, nil
}

// CheckIn implements attendance.Gateway.
func (c *Client) CheckIn(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
	return c.postRecord(ctx, PathCheckIn, req)
}

// CheckOut implements attendance.Gateway.
func (c *Client) CheckOut(ctx context.Context, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
	return c.postRecord(ctx, PathCheckOut, req)
}

func (c *Client) postRecord(ctx context.Context, path string, req attendance.UpstreamCheckRequest) (attendance.AttendanceRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return attendance.AttendanceRecord{}, fmt.Errorf("failed to encode request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return attendance.AttendanceRecord{}, err
	}

	// A success without a record body leaves the caller's tentative record
	// in place; signal it with a blank record.
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || isNull(trimmed) {
		return attendance.AttendanceRecord{}, nil
	}

	var raw attendance.RawRecord
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return attendance.AttendanceRecord{}, attendance.NewTransportError(fmt.Errorf("%w: %s: %v", attendance.ErrUpstreamResponse, path, err))
	}
	if raw == (attendance.RawRecord{}) {
		return attendance.AttendanceRecord{}, nil
	}

	records, errs := attendance.NormalizeRecords([]attendance.RawRecord{raw}, c.cfg.Location)
	for _, e := range errs {
		slog.Warn("attendance record has unreadable fields", "error", e)
	}
	return records[0], nil
}

// get performs an idempotent read, retrying temporary failures.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, attendance.NewTransportError(ctx.Err())
			case <-c.clock.After(delay):
			}
			slog.Debug("retrying upstream read", "path", path, "attempt", attempt, "error", lastErr)
		}

		data, err := c.do(ctx, http.MethodGet, path, query, nil)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, errTemporary) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// do sends one request and unwraps the response envelope.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, attendance.NewTransportError(fmt.Errorf("%w: %s %s: %v", errTemporary, method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, attendance.NewTransportError(fmt.Errorf("%w: reading %s: %v", errTemporary, path, err))
	}

	var env attendance.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, attendance.NewTransportError(fmt.Errorf("%w: %s returned %d", errTemporary, path, resp.StatusCode))
		}
		return nil, attendance.NewTransportError(fmt.Errorf("%w: %s returned %d with a non-JSON body", attendance.ErrUpstreamResponse, path, resp.StatusCode))
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		code := env.FailureCode()
		if code == "" && resp.StatusCode >= http.StatusInternalServerError {
			return nil, attendance.NewTransportError(fmt.Errorf("%w: %s returned %d: %s", errTemporary, path, resp.StatusCode, env.FailureMessage()))
		}
		return nil, attendance.NewServerError(code, env.FailureMessage())
	}

	return env.Data, nil
}

func (c *Client) bearer(ctx context.Context) string {
	if token := attendance.UpstreamTokenFrom(ctx); token != "" {
		return token
	}
	if c.token != nil {
		return c.token()
	}
	return ""
}

// decodeList accepts a bare JSON array or an object wrapping one under any
// of keys. null decodes to an empty list; an object with none of keys is a
// DataError so callers keep their last good list.
func decodeList[T any](data json.RawMessage, out *[]T, keys ...string) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || isNull(trimmed) {
		*out = nil
		return nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, out); err != nil {
			return attendance.NewTransportError(fmt.Errorf("%w: %v", attendance.ErrUpstreamResponse, err))
		}
		return nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return attendance.NewTransportError(fmt.Errorf("%w: %v", attendance.ErrUpstreamResponse, err))
	}
	for _, key := range keys {
		if inner, ok := wrapper[key]; ok {
			return decodeList(inner, out)
		}
	}
	return attendance.NewDataError(fmt.Errorf("%w: object carries none of %v", attendance.ErrUpstreamResponse, keys))
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
