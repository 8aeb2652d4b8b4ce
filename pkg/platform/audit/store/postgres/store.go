package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	audit "kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/tx"
)

// Schema creates the audit table. Rows are insert-only; the id primary key
// makes redelivered entries idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	category       TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	subject_id     TEXT NOT NULL DEFAULT '',
	resource       TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL DEFAULT '',
	decision_id    TEXT NOT NULL DEFAULT '',
	rule_ids       TEXT[] NOT NULL DEFAULT '{}',
	verdict        TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	previous_score DOUBLE PRECISION,
	score          DOUBLE PRECISION,
	request_id     TEXT NOT NULL DEFAULT '',
	attributes     JSONB NOT NULL DEFAULT '{}',
	prev_hash      TEXT NOT NULL DEFAULT '',
	hash           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_subject ON audit_entries (subject_id, timestamp);
`

// Store implements audit.Store on PostgreSQL. It is used as an external sink
// behind the forwarding worker and for reporting queries.
type Store struct {
	db *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

func (s *Store) execer(ctx context.Context) execer {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

// Append inserts an entry. Duplicate ids are ignored. A transaction carried in
// ctx (see pkg/platform/tx) is joined.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	attrs, err := json.Marshal(entry.Attributes)
	if err != nil {
		return fmt.Errorf("marshal audit attributes: %w", err)
	}
	if entry.Attributes == nil {
		attrs = []byte("{}")
	}
	ruleIDs := entry.RuleIDs
	if ruleIDs == nil {
		ruleIDs = []string{}
	}

	query := `
		INSERT INTO audit_entries (
			id, type, category, timestamp, subject_id, resource, action,
			decision_id, rule_ids, verdict, reason, previous_score, score,
			request_id, attributes, prev_hash, hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		string(entry.Type),
		string(entry.Type.Category()),
		entry.Timestamp,
		entry.SubjectID,
		entry.Resource,
		entry.Action,
		entry.DecisionID,
		pq.Array(ruleIDs),
		entry.Verdict,
		entry.Reason,
		entry.PreviousScore,
		entry.Score,
		entry.RequestID,
		attrs,
		entry.PrevHash,
		entry.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, type, category, timestamp, subject_id, resource, action,
		   decision_id, rule_ids, verdict, reason, previous_score, score,
		   request_id, attributes, prev_hash, hash
	FROM audit_entries
`

// ListBySubject returns a subject's entries oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE subject_id = $1 ORDER BY timestamp ASC, id ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListRecent returns up to limit of the newest entries, oldest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM (` + selectColumns + ` ORDER BY timestamp DESC, id DESC LIMIT $1) recent ORDER BY timestamp ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			entryType     string
			category      string
			ruleIDs       pq.StringArray
			previousScore sql.NullFloat64
			score         sql.NullFloat64
			attrs         []byte
		)
		if err := rows.Scan(
			&e.ID, &entryType, &category, &e.Timestamp, &e.SubjectID, &e.Resource, &e.Action,
			&e.DecisionID, &ruleIDs, &e.Verdict, &e.Reason, &previousScore, &score,
			&e.RequestID, &attrs, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Type = audit.EntryType(entryType)
		e.Category = audit.EventCategory(category)
		if len(ruleIDs) > 0 {
			e.RuleIDs = []string(ruleIDs)
		}
		if previousScore.Valid {
			e.PreviousScore = audit.Score(previousScore.Float64)
		}
		if score.Valid {
			e.Score = audit.Score(score.Float64)
		}
		if len(attrs) > 0 && string(attrs) != "{}" {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal audit attributes: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
