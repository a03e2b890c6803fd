package attendance

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeSchedules turns the upstream schedule payload into canonical
// schedules. Entries whose times cannot be read are dropped and reported
// as data errors; the remaining entries are still usable.
func NormalizeSchedules(raw []RawSchedule, loc *time.Location) ([]ShiftSchedule, []error) {
	schedules := make([]ShiftSchedule, 0, len(raw))
	var errs []error

	for i, r := range raw {
		s, err := normalizeSchedule(r, i, loc)
		if err != nil {
			errs = append(errs, NewDataError(fmt.Errorf("schedule %q: %w", r.ID, err)))
			continue
		}
		schedules = append(schedules, s)
	}

	return schedules, errs
}

func normalizeSchedule(r RawSchedule, index int, loc *time.Location) (ShiftSchedule, error) {
	tpl, err := normalizeTemplate(r)
	if err != nil {
		return ShiftSchedule{}, err
	}

	date, err := parseDate(firstNonEmpty(r.Tanggal, r.Date), loc)
	if err != nil {
		return ShiftSchedule{}, err
	}

	seq := index
	switch {
	case r.Urutan != nil:
		seq = *r.Urutan
	case r.Sequence != nil:
		seq = *r.Sequence
	}

	return ShiftSchedule{
		ID:       string(r.ID),
		Date:     date,
		Template: tpl,
		Sequence: seq,
	}, nil
}

func normalizeTemplate(r RawSchedule) (ShiftTemplate, error) {
	levels := []RawShiftFields{r.RawShiftFields}
	if r.ShiftTemplate != nil {
		levels = append(levels, *r.ShiftTemplate)
	}
	if r.ShiftInfo != nil {
		levels = append(levels, *r.ShiftInfo)
	}

	var startStr, endStr, durStr string
	var durHours *float64
	for _, l := range levels {
		startStr = firstNonEmpty(startStr, l.JamMasuk, l.JamMasukFormat, l.StartTime)
		endStr = firstNonEmpty(endStr, l.JamKeluar, l.JamKeluarFormat, l.EndTime)
		durStr = firstNonEmpty(durStr, l.Durasi)
		if durHours == nil {
			if l.DurationHours != nil {
				durHours = l.DurationHours
			} else if l.DurasiJam != nil {
				durHours = l.DurasiJam
			}
		}
	}

	if startStr == "" || endStr == "" {
		return ShiftTemplate{}, fmt.Errorf("%w: missing start or end time", ErrMalformedShift)
	}

	start, err := ParseClockTime(startStr)
	if err != nil {
		return ShiftTemplate{}, err
	}
	end, err := ParseClockTime(endStr)
	if err != nil {
		return ShiftTemplate{}, err
	}

	if durHours == nil && durStr != "" {
		if d := DurationOrZero(durStr); d > 0 {
			h := d.Hours()
			durHours = &h
		}
	}
	if durHours != nil && *durHours <= 0 {
		durHours = nil
	}

	tpl := ShiftTemplate{StartTime: start, EndTime: end, DurationHours: durHours}
	if !tpl.Valid() {
		return ShiftTemplate{}, fmt.Errorf("%w: %s-%s", ErrMalformedShift, start, end)
	}
	return tpl, nil
}

// NormalizeRecords turns upstream attendance records into canonical
// records. A record whose timestamps cannot be read keeps its identity but
// loses the unreadable timestamp.
func NormalizeRecords(raw []RawRecord, loc *time.Location) ([]AttendanceRecord, []error) {
	records := make([]AttendanceRecord, 0, len(raw))
	var errs []error

	for _, r := range raw {
		rec, err := normalizeRecord(r, loc)
		if err != nil {
			errs = append(errs, NewDataError(fmt.Errorf("record %q: %w", r.ID, err)))
		}
		records = append(records, rec)
	}

	return records, errs
}

func normalizeRecord(r RawRecord, loc *time.Location) (AttendanceRecord, error) {
	rec := AttendanceRecord{ID: string(r.ID)}

	switch {
	case r.ScheduleID != nil && *r.ScheduleID != "":
		id := string(*r.ScheduleID)
		rec.ScheduleID = &id
	case r.JadwalID != nil && *r.JadwalID != "":
		id := string(*r.JadwalID)
		rec.ScheduleID = &id
	}

	var firstErr error
	date, err := parseDate(firstNonEmpty(r.Date, r.Tanggal), loc)
	if err != nil {
		firstErr = err
	}
	rec.Date = date

	inStr := firstNonEmpty(r.TimeIn, r.JamMasuk)
	outStr := firstNonEmpty(r.TimeOut, r.JamKeluar)

	in, inClockOnly, err := parseTimestamp(inStr, date, loc)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	out, outClockOnly, err := parseTimestamp(outStr, date, loc)
	if err != nil && firstErr == nil {
		firstErr = err
	}

	// A clock-only checkout earlier than a clock-only check-in crossed midnight.
	if in != nil && out != nil && inClockOnly && outClockOnly && out.Before(*in) {
		next := out.AddDate(0, 0, 1)
		out = &next
	}

	if rec.Date.IsZero() && in != nil {
		rec.Date = dayOf(*in, loc)
	}

	rec.TimeIn = in
	rec.TimeOut = out
	return rec, firstErr
}

// NormalizeWorkLocation converts the upstream location. A nil payload means
// no location is assigned.
func NormalizeWorkLocation(raw *RawWorkLocation) (*WorkLocation, error) {
	if raw == nil {
		return nil, nil
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		return nil, NewDataError(fmt.Errorf("work location %q: missing coordinates", raw.ID))
	}

	radius := raw.RadiusMeters
	if radius == nil {
		radius = raw.Radius
	}
	if radius == nil || *radius < 0 {
		return nil, NewDataError(fmt.Errorf("work location %q: missing radius", raw.ID))
	}

	return &WorkLocation{
		ID:           string(raw.ID),
		Name:         firstNonEmpty(raw.Name, raw.Nama),
		Latitude:     *raw.Latitude,
		Longitude:    *raw.Longitude,
		RadiusMeters: *radius,
		Tolerance:    NormalizeTolerance(raw.ToleranceSettings),
	}, nil
}

// NormalizeTolerance applies the per-field defaults to absent settings.
func NormalizeTolerance(raw *RawToleranceData) ToleranceSettings {
	t := DefaultTolerance()
	if raw == nil {
		return t
	}
	if v := raw.CheckinBeforeShiftMinutes; v != nil && *v >= 0 {
		t.CheckinBeforeShiftMinutes = *v
	}
	if v := raw.LateToleranceMinutes; v != nil && *v >= 0 {
		t.LateToleranceMinutes = *v
	}
	if v := raw.CheckoutAfterShiftMinutes; v != nil && *v >= 0 {
		t.CheckoutAfterShiftMinutes = *v
	}
	return t
}

// NormalizeHistory converts historical records with their shift metadata.
func NormalizeHistory(raw []RawHistoryRecord, loc *time.Location) ([]HistoryEntry, []error) {
	entries := make([]HistoryEntry, 0, len(raw))
	var errs []error

	for _, r := range raw {
		rec, err := normalizeRecord(r.RawRecord, loc)
		if err != nil {
			errs = append(errs, NewDataError(fmt.Errorf("record %q: %w", r.ID, err)))
		}

		entry := HistoryEntry{Record: rec}
		if r.Shift != nil {
			tpl, err := normalizeTemplate(*r.Shift)
			if err != nil {
				errs = append(errs, NewDataError(fmt.Errorf("record %q shift: %w", r.ID, err)))
			} else {
				entry.Template = &tpl
			}
		}
		if r.Tolerance != nil {
			tol := NormalizeTolerance(r.Tolerance)
			entry.Tolerance = &tol
		}
		entries = append(entries, entry)
	}

	return entries, errs
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > 10 {
		s = s[:10]
	}
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrMalformedShift, s)
	}
	return d, nil
}

// parseTimestamp reads a full timestamp, or a time of day anchored on date.
// The boolean reports the clock-only form.
func parseTimestamp(s string, date time.Time, loc *time.Location) (*time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false, nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, false, nil
		}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, false, nil
		}
	}

	if !date.IsZero() {
		for _, layout := range []string{"15:04:05", "15:04"} {
			if c, err := time.Parse(layout, s); err == nil {
				y, m, d := date.In(loc).Date()
				t := time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, loc)
				return &t, true, nil
			}
		}
	}

	return nil, false, fmt.Errorf("%w: invalid timestamp %q", ErrUpstreamResponse, s)
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
