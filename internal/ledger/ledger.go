// Package ledger provides SQLite storage for mutation ledgers.
//
// Each run's records live under its run_id; the runs table doubles as the
// per-account index for "last run" resolution. SQLite's transactional
// commit gives every append an atomic publish: a crash mid-write is rolled
// back by WAL recovery and never leaves a half-written record visible.
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/mailtriage/internal/types"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound means no run matched the requested account or run ID.
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyRolledBack means the run's ledger is marked consumed.
	ErrAlreadyRolledBack = errors.New("run already rolled back")
)

// Store wraps a SQLite connection holding mutation ledgers.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the ledger database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if _, err := conn.Exec(Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize ledger schema: %w", err)
	}

	return &Store{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// NewRunID generates a sortable, globally unique run ID.
func NewRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return time.Now().UTC().Format("20060102-150405") + "." + suffix
}

// Now returns the current time as an ISO 8601 string.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// RunInfo describes one ledger run.
type RunInfo struct {
	RunID        string `json:"run_id"`
	Account      string `json:"account"`
	StartedAt    string `json:"started_at"`
	FinalizedAt  string `json:"finalized_at,omitempty"`
	RolledBackAt string `json:"rolled_back_at,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Records      int    `json:"records"`
}

// BeginRun creates an empty ledger for the run. Fails if the run ID is
// already in use.
func (s *Store) BeginRun(account, runID string) error {
	_, err := s.conn.Exec(
		"INSERT INTO runs (run_id, account, started_at) VALUES (?, ?, ?)",
		runID, account, Now(),
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// Append durably stores one mutation record. The record's ID and CreatedAt
// are assigned here; IDs are monotonic within a run, which is the ordering
// rollback depends on.
func (s *Store) Append(rec *types.MutationRecord) error {
	if rec.CreatedAt == "" {
		rec.CreatedAt = Now()
	}
	res, err := s.conn.Exec(`
		INSERT INTO mutations (run_id, account, message_id, kind, before, after, extra, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Account, nullStr(rec.MessageID), rec.Kind,
		nullRaw(rec.Before), nullRaw(rec.After), nullRaw(rec.Extra), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append record for run %s: %w", rec.RunID, err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append record for run %s: %w", rec.RunID, err)
	}
	return nil
}

// Finalize marks the ledger closed. Called at run end, including early
// aborts, so partial runs stay addressable for rollback.
func (s *Store) Finalize(runID, summary string) error {
	res, err := s.conn.Exec(
		"UPDATE runs SET finalized_at = ?, summary = ? WHERE run_id = ?",
		Now(), nullStr(summary), runID,
	)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// Read returns the run's records in append order.
func (s *Store) Read(runID string) ([]types.MutationRecord, error) {
	rows, err := s.conn.Query(`
		SELECT id, run_id, account, message_id, kind, before, after, extra, created_at
		FROM mutations
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []types.MutationRecord
	for rows.Next() {
		var rec types.MutationRecord
		var messageID, before, after, extra sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Account, &messageID, &rec.Kind,
			&before, &after, &extra, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.MessageID = messageID.String
		rec.Before = rawOrNil(before)
		rec.After = rawOrNil(after)
		rec.Extra = rawOrNil(extra)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Run returns the run's metadata.
func (s *Store) Run(runID string) (*RunInfo, error) {
	info := &RunInfo{}
	var finalized, rolledBack, summary sql.NullString
	err := s.conn.QueryRow(`
		SELECT r.run_id, r.account, r.started_at, r.finalized_at, r.rolled_back_at, r.summary,
		       (SELECT COUNT(*) FROM mutations m WHERE m.run_id = r.run_id)
		FROM runs r WHERE r.run_id = ?`, runID).Scan(
		&info.RunID, &info.Account, &info.StartedAt, &finalized, &rolledBack, &summary, &info.Records,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info.FinalizedAt = finalized.String
	info.RolledBackAt = rolledBack.String
	info.Summary = summary.String
	return info, nil
}

// LastRun resolves the most recent run ID for an account.
func (s *Store) LastRun(account string) (string, error) {
	var runID string
	err := s.conn.QueryRow(`
		SELECT run_id FROM runs
		WHERE account = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`, account).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return runID, nil
}

// Runs returns all runs for an account, most recent first.
func (s *Store) Runs(account string) ([]RunInfo, error) {
	rows, err := s.conn.Query(`
		SELECT r.run_id, r.account, r.started_at, r.finalized_at, r.rolled_back_at, r.summary,
		       (SELECT COUNT(*) FROM mutations m WHERE m.run_id = r.run_id)
		FROM runs r
		WHERE r.account = ?
		ORDER BY r.started_at DESC, r.rowid DESC`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		var finalized, rolledBack, summary sql.NullString
		if err := rows.Scan(
			&info.RunID, &info.Account, &info.StartedAt, &finalized, &rolledBack, &summary, &info.Records,
		); err != nil {
			return nil, err
		}
		info.FinalizedAt = finalized.String
		info.RolledBackAt = rolledBack.String
		info.Summary = summary.String
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// Accounts returns distinct accounts with at least one run.
func (s *Store) Accounts() []string {
	rows, err := s.conn.Query("SELECT DISTINCT account FROM runs ORDER BY account")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var accs []string
	for rows.Next() {
		var a string
		rows.Scan(&a)
		accs = append(accs, a)
	}
	return accs
}

// RolledBack reports whether the run's ledger is marked consumed.
func (s *Store) RolledBack(runID string) (bool, error) {
	var rolledBack sql.NullString
	err := s.conn.QueryRow("SELECT rolled_back_at FROM runs WHERE run_id = ?", runID).Scan(&rolledBack)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return rolledBack.Valid, nil
}

// MarkRolledBack marks the run's ledger consumed so a second rollback is
// rejected rather than double-reversed. Idempotent.
func (s *Store) MarkRolledBack(runID string) error {
	res, err := s.conn.Exec(
		"UPDATE runs SET rolled_back_at = ? WHERE run_id = ? AND rolled_back_at IS NULL",
		Now(), runID,
	)
	if err != nil {
		return fmt.Errorf("mark run %s rolled back: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already marked; distinguish for callers.
		if _, err := s.Run(runID); err != nil {
			return err
		}
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
