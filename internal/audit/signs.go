// ABOUTME: Sign record entity and store methods for the sign audit trail
// ABOUTME: Records which client used which key, whether it waited and how it ended

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is how a sign request ended.
type Outcome string

const (
	OutcomeSigned        Outcome = "signed"
	OutcomeUserDenied    Outcome = "user_denied"
	OutcomeHardwareError Outcome = "hardware_error"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeVetoed        Outcome = "vetoed"
)

// tsLayout sorts lexically in time order, unlike RFC3339Nano which trims
// trailing zeros.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SignRecord is one row of the sign log.
type SignRecord struct {
	ID          string // UUID v4
	SessionID   string
	Fingerprint string
	Label       string
	Store       string
	Client      string // human-readable provenance
	ClientPID   *int32 // nil when provenance is unknown
	ClientExe   *string
	Serialized  bool
	Outcome     Outcome
	Duration    time.Duration
	Timestamp   time.Time
}

// Filter narrows ListSigns.
type Filter struct {
	Since       *time.Time
	Until       *time.Time
	Fingerprint *string
	Outcome     *Outcome
	Limit       int // default 100, max 1000
}

// RecordSign appends r to the log, filling in ID and Timestamp if unset.
func (s *SQLiteStore) RecordSign(ctx context.Context, r *SignRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO sign_log (sign_id, session_id, fingerprint, label, store, client,
			client_pid, client_exe, serialized, outcome, duration_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.SessionID,
		r.Fingerprint,
		r.Label,
		r.Store,
		r.Client,
		r.ClientPID,
		r.ClientExe,
		r.Serialized,
		string(r.Outcome),
		r.Duration.Milliseconds(),
		r.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting sign record: %w", err)
	}

	s.logger.Debug("recorded sign",
		"id", r.ID,
		"fingerprint", r.Fingerprint,
		"outcome", r.Outcome,
	)
	return nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const signLogQuery = `
	SELECT sign_id, session_id, fingerprint, label, store, client,
		client_pid, client_exe, serialized, outcome, duration_ms, ts
	FROM sign_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR fingerprint = ?)
	  AND (? IS NULL OR outcome = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListSigns returns records matching f, newest first.
func (s *SQLiteStore) ListSigns(ctx context.Context, f Filter) ([]SignRecord, error) {
	var since, until, outcome *string
	if f.Since != nil {
		v := f.Since.UTC().Format(tsLayout)
		since = &v
	}
	if f.Until != nil {
		v := f.Until.UTC().Format(tsLayout)
		until = &v
	}
	if f.Outcome != nil {
		v := string(*f.Outcome)
		outcome = &v
	}

	rows, err := s.db.QueryContext(ctx, signLogQuery,
		since, since,
		until, until,
		f.Fingerprint, f.Fingerprint,
		outcome, outcome,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying sign log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []SignRecord{}
	for rows.Next() {
		r, err := scanSignRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sign records: %w", err)
	}
	return records, nil
}

func scanSignRecord(scanner interface{ Scan(dest ...any) error }) (SignRecord, error) {
	var (
		r          SignRecord
		outcome    string
		durationMS int64
		ts         string
	)
	if err := scanner.Scan(
		&r.ID,
		&r.SessionID,
		&r.Fingerprint,
		&r.Label,
		&r.Store,
		&r.Client,
		&r.ClientPID,
		&r.ClientExe,
		&r.Serialized,
		&outcome,
		&durationMS,
		&ts,
	); err != nil {
		return r, fmt.Errorf("scanning sign record: %w", err)
	}

	r.Outcome = Outcome(outcome)
	r.Duration = time.Duration(durationMS) * time.Millisecond

	var err error
	r.Timestamp, err = time.Parse(tsLayout, ts)
	if err != nil {
		return r, fmt.Errorf("parsing timestamp: %w", err)
	}
	return r, nil
}
