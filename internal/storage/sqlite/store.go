package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/guardrail"
	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/storage"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements AuditStorage using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// StorePolicy persists a policy version
func (s *Store) StorePolicy(pol *policy.Policy) error {
	specJSON, err := json.Marshal(pol.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	query := `
		INSERT INTO policies (id, version, algorithm, objective, lifecycle, spec_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			algorithm = excluded.algorithm,
			objective = excluded.objective,
			lifecycle = excluded.lifecycle,
			spec_json = excluded.spec_json,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.Exec(query,
		pol.Metadata.ID,
		pol.Spec.Version,
		pol.Spec.Algorithm,
		pol.Spec.Objective,
		pol.Spec.Lifecycle,
		string(specJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store policy: %w", err)
	}

	return nil
}

// StorePlan appends an enforced plan
func (s *Store) StorePlan(plan *planner.Plan) error {
	weightsJSON, err := json.Marshal(plan.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	query := `
		INSERT INTO plans (
			id, experiment_id, policy_version, basis, tag, weights_json,
			ramp_delta, safe_explore_pct, reason, enforced_at, cooldown_until
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		plan.ID,
		plan.ExperimentID,
		plan.PolicyVersion,
		plan.Basis,
		plan.Tag,
		string(weightsJSON),
		plan.RampDelta,
		plan.SafeExplorePct,
		plan.Reason,
		plan.EnforcedAt,
		plan.CooldownUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}

	return nil
}

// StoreGuardEvent appends a guardrail trigger or recovery
func (s *Store) StoreGuardEvent(entry guardrail.Entry) error {
	query := `
		INSERT INTO guard_events (experiment_id, signal, severity, action, reason, triggered_at, cleared_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var clearedAt interface{}
	if entry.ClearedAt != nil {
		clearedAt = *entry.ClearedAt
	}

	_, err := s.db.Exec(query,
		entry.ExperimentID,
		entry.Signal,
		entry.Severity,
		string(entry.Action),
		entry.Reason,
		entry.TriggeredAt,
		clearedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store guard event: %w", err)
	}

	return nil
}

// StoreAlert appends an alert
func (s *Store) StoreAlert(alert storage.AlertRecord) error {
	contextJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal alert context: %w", err)
	}

	query := `
		INSERT INTO alerts (id, level, experiment_id, message, context_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		alert.ID,
		alert.Level,
		alert.ExperimentID,
		alert.Message,
		string(contextJSON),
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}

	return nil
}

// QueryPlans retrieves enforced plans with optional filtering
func (s *Store) QueryPlans(filter storage.PlanFilter) ([]storage.PlanRecord, error) {
	query := `
		SELECT id, experiment_id, policy_version, basis, tag, weights_json,
		       ramp_delta, safe_explore_pct, reason, enforced_at, cooldown_until, created_at
		FROM plans
	`

	var conditions []string
	var args []interface{}

	if filter.ExperimentID != "" {
		conditions = append(conditions, "experiment_id = ?")
		args = append(args, filter.ExperimentID)
	}
	if filter.Tag != "" {
		conditions = append(conditions, "tag = ?")
		args = append(args, filter.Tag)
	}
	if filter.Basis != "" {
		conditions = append(conditions, "basis = ?")
		args = append(args, filter.Basis)
	}
	if filter.StartTime != nil {
		conditions = append(conditions, "enforced_at >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "enforced_at <= ?")
		args = append(args, *filter.EndTime)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY enforced_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var records []storage.PlanRecord
	for rows.Next() {
		record, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// LatestPlan retrieves the most recent plan for an experiment
func (s *Store) LatestPlan(experimentID string) (*storage.PlanRecord, error) {
	records, err := s.QueryPlans(storage.PlanFilter{ExperimentID: experimentID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPlan reads one plan row
func scanPlan(row scanner) (*storage.PlanRecord, error) {
	var record storage.PlanRecord
	var weightsJSON string
	var reason sql.NullString
	var enforcedAt, cooldownUntil, createdAt time.Time

	err := row.Scan(
		&record.ID,
		&record.ExperimentID,
		&record.PolicyVersion,
		&record.Basis,
		&record.Tag,
		&weightsJSON,
		&record.RampDelta,
		&record.SafeExplorePct,
		&reason,
		&enforcedAt,
		&cooldownUntil,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}

	if err := json.Unmarshal([]byte(weightsJSON), &record.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}

	record.Reason = reason.String
	record.EnforcedAt = enforcedAt
	record.CooldownUntil = cooldownUntil
	record.CreatedAt = createdAt

	return &record, nil
}
