package rule

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL. Trigger, conditions
// and actions are stored as JSONB; the schema lives in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, owner_id, name, trigger, conditions, actions, enabled,
	last_evaluated_at, last_executed_at, created_at, updated_at`

// Add inserts a new rule into the database.
func (s *PostgresStore) Add(r *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, r.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}

	triggerJSON, conditionsJSON, actionsJSON, err := marshalRule(r)
	if err != nil {
		return err
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, owner_id, name, trigger, conditions, actions, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.OwnerID, r.Name, triggerJSON, conditionsJSON, actionsJSON, r.Enabled,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1
	`, id)

	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// ListEnabledByOwner returns the owner's enabled rules in creation order.
func (s *PostgresStore) ListEnabledByOwner(ownerID string) ([]*Rule, error) {
	return s.list(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE owner_id = $1 AND enabled = true
		ORDER BY created_at ASC
	`, ownerID)
}

// ListEnabled returns all enabled rules.
func (s *PostgresStore) ListEnabled() ([]*Rule, error) {
	return s.list(`
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE enabled = true
		ORDER BY created_at ASC
	`)
}

// ListByOwner returns all of the owner's rules.
func (s *PostgresStore) ListByOwner(ownerID string) ([]*Rule, error) {
	return s.list(`
		SELECT `+ruleColumns+`
		FROM rules
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
}

// Update modifies an existing rule.
func (s *PostgresStore) Update(r *Rule) error {
	triggerJSON, conditionsJSON, actionsJSON, err := marshalRule(r)
	if err != nil {
		return err
	}

	r.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, trigger = $2, conditions = $3, actions = $4, enabled = $5, updated_at = $6
		WHERE id = $7
	`, r.Name, triggerJSON, conditionsJSON, actionsJSON, r.Enabled, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return checkAffected(result, r.ID)
}

// Delete removes a rule and its audit entries (ON DELETE CASCADE).
func (s *PostgresStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return checkAffected(result, id)
}

// Touch records dispatch timestamps.
func (s *PostgresStore) Touch(id string, at time.Time, executed bool) error {
	var result sql.Result
	var err error
	if executed {
		result, err = s.db.Exec(`
			UPDATE rules SET last_evaluated_at = $1, last_executed_at = $1 WHERE id = $2
		`, at, id)
	} else {
		result, err = s.db.Exec(`
			UPDATE rules SET last_evaluated_at = $1 WHERE id = $2
		`, at, id)
	}
	if err != nil {
		return fmt.Errorf("failed to touch rule: %w", err)
	}
	return checkAffected(result, id)
}

func (s *PostgresStore) list(query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var list []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return list, nil
}

func marshalRule(r *Rule) (trigger, conditions, actions []byte, err error) {
	trigger, err = json.Marshal(r.Trigger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	conditions, err = json.Marshal(r.Conditions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err = json.Marshal(r.Actions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return trigger, conditions, actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var triggerJSON, conditionsJSON, actionsJSON []byte
	var lastEvaluated, lastExecuted sql.NullTime

	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &triggerJSON, &conditionsJSON,
		&actionsJSON, &r.Enabled, &lastEvaluated, &lastExecuted,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &r.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(conditionsJSON, &r.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &r.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	if lastEvaluated.Valid {
		r.LastEvaluatedAt = &lastEvaluated.Time
	}
	if lastExecuted.Valid {
		r.LastExecutedAt = &lastExecuted.Time
	}
	return &r, nil
}

func checkAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}
