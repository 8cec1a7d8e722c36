package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresLog implements Log backed by PostgreSQL using append-with-trim:
// every append deletes the rows that fall off the per-rule cap in the same
// transaction, so the bound holds even across restarts.
type PostgresLog struct {
	db       *sql.DB
	capacity int
}

// NewPostgresLog creates a PostgreSQL-backed audit log with the given
// per-rule cap. Non-positive caps fall back to DefaultCap.
func NewPostgresLog(db *sql.DB, capacity int) *PostgresLog {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &PostgresLog{db: db, capacity: capacity}
}

// Append inserts the entry and trims the rule's overflow atomically.
func (l *PostgresLog) Append(e Entry) error {
	triggerJSON, err := json.Marshal(e.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger summary: %w", err)
	}
	conditionsJSON, err := json.Marshal(e.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal condition trace: %w", err)
	}
	actionsJSON, err := json.Marshal(e.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO audit_entries (id, rule_id, trigger, matched, outcome, conditions, actions, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.RuleID, triggerJSON, e.Matched, string(e.Outcome),
		conditionsJSON, actionsJSON, e.Duration.Milliseconds(), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM audit_entries
		WHERE rule_id = $1 AND id NOT IN (
			SELECT id FROM audit_entries
			WHERE rule_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, e.RuleID, l.capacity)
	if err != nil {
		return fmt.Errorf("failed to trim audit entries: %w", err)
	}

	return tx.Commit()
}

const entryColumns = `id, rule_id, trigger, matched, outcome, conditions, actions, duration_ms, created_at`

// List returns a page of the rule's entries, newest first, plus the total.
func (l *PostgresLog) List(ruleID string, page, perPage int) ([]Entry, int, error) {
	if page < 1 || perPage < 1 {
		return nil, 0, fmt.Errorf("invalid page %d / perPage %d", page, perPage)
	}

	var total int
	if err := l.db.QueryRow(`
		SELECT COUNT(*) FROM audit_entries WHERE rule_id = $1
	`, ruleID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	rows, err := l.db.Query(`
		SELECT `+entryColumns+`
		FROM audit_entries
		WHERE rule_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ruleID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, total, nil
}

// Get returns one entry of a rule by entry ID.
func (l *PostgresLog) Get(ruleID, entryID string) (Entry, error) {
	row := l.db.QueryRow(`
		SELECT `+entryColumns+`
		FROM audit_entries
		WHERE rule_id = $1 AND id = $2
	`, ruleID, entryID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("rule %s entry %s: %w", ruleID, entryID, ErrEntryNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return e, nil
}

// DropRule deletes all entries for a rule.
func (l *PostgresLog) DropRule(ruleID string) error {
	if _, err := l.db.Exec(`DELETE FROM audit_entries WHERE rule_id = $1`, ruleID); err != nil {
		return fmt.Errorf("failed to drop audit entries: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var triggerJSON, conditionsJSON, actionsJSON []byte
	var outcome string
	var durationMs int64

	err := row.Scan(&e.ID, &e.RuleID, &triggerJSON, &e.Matched, &outcome,
		&conditionsJSON, &actionsJSON, &durationMs, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}

	if err := json.Unmarshal(triggerJSON, &e.Trigger); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal trigger summary: %w", err)
	}
	if err := json.Unmarshal(conditionsJSON, &e.Conditions); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal condition trace: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &e.Actions); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal action results: %w", err)
	}

	e.Outcome = Outcome(outcome)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	return e, nil
}
