package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Execution is the persisted record of one macro run on this device.
// A run that hands off and later comes back keeps the same ID.
type Execution struct {
	ID            string     `json:"id"`
	MacroID       int        `json:"macro_id"`
	State         string     `json:"state"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ActionIndex   int        `json:"action_index"`
	ActionsTotal  int        `json:"actions_total"`
	HandoffDevice *int       `json:"handoff_device,omitempty"`
	Error         *string    `json:"error,omitempty"`
	DurationMS    *int       `json:"duration_ms,omitempty"`
}

// Repository defines the interface for macro persistence.
type Repository interface {
	// Macro CRUD
	GetMacro(ctx context.Context, id int) (*engine.MacroSpec, error)
	ListMacros(ctx context.Context) ([]engine.MacroSpec, error)
	CreateMacro(ctx context.Context, spec *engine.MacroSpec) error
	UpdateMacro(ctx context.Context, spec *engine.MacroSpec) error
	DeleteMacro(ctx context.Context, id int) error
	SetEnabled(ctx context.Context, id int, enabled bool) error

	// Execution logging
	SaveExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, macroID, limit int) ([]Execution, error)
}

// macroColumns is the SELECT column list for macro queries.
const macroColumns = `id, name, icon, colour, enabled, trigger_spec, actions`

// timestampLayout has a fixed width so execution timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000Z"

const executionColumns = `id, macro_id, state, started_at, finished_at,
			action_index, actions_total, handoff_device, error, duration_ms`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetMacro retrieves a macro definition by ID.
func (r *SQLiteRepository) GetMacro(ctx context.Context, id int) (*engine.MacroSpec, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+macroColumns+` FROM macros WHERE id = ?`, id)
	spec, err := scanMacroRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMacroNotFound
		}
		return nil, fmt.Errorf("querying macro by id: %w", err)
	}
	return spec, nil
}

// ListMacros retrieves all macro definitions ordered by ID.
func (r *SQLiteRepository) ListMacros(ctx context.Context) ([]engine.MacroSpec, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+macroColumns+` FROM macros ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying macros: %w", err)
	}
	defer rows.Close()

	var specs []engine.MacroSpec
	for rows.Next() {
		spec, scanErr := scanMacroRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning macro: %w", scanErr)
		}
		specs = append(specs, *spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating macros: %w", err)
	}
	return specs, nil
}

// CreateMacro inserts a new macro definition.
func (r *SQLiteRepository) CreateMacro(ctx context.Context, spec *engine.MacroSpec) error {
	triggerJSON, actionsJSON, err := marshalComponents(spec)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO macros (
			id, name, icon, colour, enabled, trigger_spec, actions, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		spec.ID,
		spec.Name,
		nullableString(spec.Icon),
		nullableString(spec.Colour),
		boolToInt(spec.Enabled),
		triggerJSON,
		actionsJSON,
		now,
		now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrMacroExists
		}
		return fmt.Errorf("inserting macro: %w", err)
	}
	return nil
}

// UpdateMacro replaces an existing macro definition.
func (r *SQLiteRepository) UpdateMacro(ctx context.Context, spec *engine.MacroSpec) error {
	triggerJSON, actionsJSON, err := marshalComponents(spec)
	if err != nil {
		return err
	}

	query := `
		UPDATE macros SET
			name = ?, icon = ?, colour = ?, enabled = ?,
			trigger_spec = ?, actions = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		spec.Name,
		nullableString(spec.Icon),
		nullableString(spec.Colour),
		boolToInt(spec.Enabled),
		triggerJSON,
		actionsJSON,
		time.Now().UTC().Format(time.RFC3339),
		spec.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrMacroExists
		}
		return fmt.Errorf("updating macro: %w", err)
	}
	return requireRow(result, ErrMacroNotFound)
}

// DeleteMacro removes a macro definition by ID.
func (r *SQLiteRepository) DeleteMacro(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM macros WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting macro: %w", err)
	}
	return requireRow(result, ErrMacroNotFound)
}

// SetEnabled flips the enabled flag of a macro.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id int, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE macros SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating macro enabled flag: %w", err)
	}
	return requireRow(result, ErrMacroNotFound)
}

// SaveExecution inserts or updates an execution record. The start time of
// an existing record is kept so a run that returns from another device
// reports its whole duration.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO macro_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			finished_at = excluded.finished_at,
			action_index = excluded.action_index,
			actions_total = excluded.actions_total,
			handoff_device = excluded.handoff_device,
			error = excluded.error,
			duration_ms = CASE
				WHEN excluded.finished_at IS NULL THEN NULL
				ELSE CAST((julianday(excluded.finished_at) - julianday(macro_executions.started_at)) * 86400000 AS INTEGER)
			END`

	_, err := r.db.ExecContext(ctx, query,
		exec.ID,
		exec.MacroID,
		exec.State,
		exec.StartedAt.UTC().Format(timestampLayout),
		nullableTime(exec.FinishedAt),
		exec.ActionIndex,
		exec.ActionsTotal,
		nullableInt(exec.HandoffDevice),
		nullableStringPtr(exec.Error),
		nullableInt(exec.DurationMS),
	)
	if err != nil {
		return fmt.Errorf("saving execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM macro_executions WHERE id = ?`, id)
	exec, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions, newest first. macroID 0
// lists every macro.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, macroID, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + executionColumns + ` FROM macro_executions`
	args := []any{}
	if macroID > 0 {
		query += ` WHERE macro_id = ?`
		args = append(args, macroID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		exec, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMacroRow(scanner rowScanner) (*engine.MacroSpec, error) {
	var s engine.MacroSpec
	var icon, colour sql.NullString
	var enabled int
	var triggerJSON, actionsJSON string

	if err := scanner.Scan(&s.ID, &s.Name, &icon, &colour, &enabled, &triggerJSON, &actionsJSON); err != nil {
		return nil, err
	}
	s.Icon = icon.String
	s.Colour = colour.String
	s.Enabled = enabled != 0

	if err := json.Unmarshal([]byte(triggerJSON), &s.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshalling trigger of macro %d: %w", s.ID, err)
	}
	if actionsJSON != "" && actionsJSON != "[]" {
		if err := json.Unmarshal([]byte(actionsJSON), &s.Actions); err != nil {
			return nil, fmt.Errorf("unmarshalling actions of macro %d: %w", s.ID, err)
		}
	}
	if s.Actions == nil {
		s.Actions = []engine.ComponentSpec{}
	}
	return &s, nil
}

func scanExecutionRow(scanner rowScanner) (*Execution, error) {
	var e Execution
	var startedAt string
	var finishedAt, errText sql.NullString
	var handoff, durationMS sql.NullInt64

	err := scanner.Scan(
		&e.ID,
		&e.MacroID,
		&e.State,
		&startedAt,
		&finishedAt,
		&e.ActionIndex,
		&e.ActionsTotal,
		&handoff,
		&errText,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		e.StartedAt = t
	}
	if finishedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, finishedAt.String); parseErr == nil {
			e.FinishedAt = &t
		}
	}
	if handoff.Valid {
		d := int(handoff.Int64)
		e.HandoffDevice = &d
	}
	if errText.Valid {
		e.Error = &errText.String
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		e.DurationMS = &d
	}
	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalComponents(spec *engine.MacroSpec) (triggerJSON, actionsJSON string, err error) {
	t, err := json.Marshal(spec.Trigger)
	if err != nil {
		return "", "", fmt.Errorf("marshalling trigger: %w", err)
	}
	actions := spec.Actions
	if actions == nil {
		actions = []engine.ComponentSpec{}
	}
	a, err := json.Marshal(actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	return string(t), string(a), nil
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullableString(*s)
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timestampLayout), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
