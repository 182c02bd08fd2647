package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionMacroSaved     = "macro.saved"
	ActionMacroDeleted   = "macro.deleted"
	ActionMacroEnabled   = "macro.enabled"
	ActionMacroDisabled  = "macro.disabled"
	ActionCatalogSynced  = "catalog.synced"
	ActionEnginePaused   = "engine.paused"
	ActionEngineResumed  = "engine.resumed"
	ActionPromptAnswered = "prompt.answered"
)

// Sources name the surface a change came through.
const (
	SourceAPI       = "api"
	SourceWebSocket = "websocket"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout has fixed width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one audit trail record. MacroID is zero for engine-wide changes.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	MacroID   int            `json:"macro_id,omitempty"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Action  string
	MacroID int
	Limit   int // default 50, max 200
	Offset  int
}

// Page is one page of entries plus the total matching count.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores the trail.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*Page, error)
}

// SQLiteRepository stores the trail in the audit_log table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Action == "" {
		return fmt.Errorf("audit entry action is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}
	var macroID *int
	if e.MacroID != 0 {
		macroID = &e.MacroID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, macro_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, macroID, e.Source, details, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conds []string
	var args []any
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.MacroID != 0 {
		conds = append(conds, "macro_id = ?")
		args = append(args, f.MacroID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	//nolint:gosec // WHERE holds placeholders only
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // WHERE holds placeholders only
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, action, macro_id, source, details, created_at FROM audit_log "+where+
			" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var macroID sql.NullInt64
	var details sql.NullString
	var createdAt string
	if err := rows.Scan(&e.ID, &e.Action, &macroID, &e.Source, &details, &createdAt); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.MacroID = int(macroID.Int64)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return e, fmt.Errorf("decoding audit details for %s: %w", e.ID, err)
		}
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return e, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
