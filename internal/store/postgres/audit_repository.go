// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/scoreguard/internal/audit"
)

// AuditRepository persists the audit chain in audit_entries. The table has a
// trigger that rejects UPDATE and DELETE, so the repository only inserts.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `
	seq, occurred_at, COALESCE(actor_id, ''), operation, description,
	outcome, reason, metadata, prev_hash, hash`

// Append inserts one sealed entry.
func (r *AuditRepository) Append(ctx context.Context, e audit.Entry) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO audit_entries (
			seq, occurred_at, actor_id, operation, description,
			outcome, reason, metadata, prev_hash, hash
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
	`,
		e.Seq, e.Timestamp, e.ActorID, e.Operation, e.Description,
		string(e.Outcome), e.Reason, metadata, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries most recent first.
func (r *AuditRepository) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.ActorID != "" {
		add("actor_id = ?", filter.ActorID)
	}
	if filter.Operation != "" {
		add("operation = ?", filter.Operation)
	}
	if filter.Outcome != "" {
		add("outcome = ?", string(filter.Outcome))
	}
	if !filter.From.IsZero() {
		add("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= ?", filter.To)
	}

	query := "SELECT " + auditColumns + " FROM audit_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return collectEntries(rows)
}

// Head returns the seq and hash of the newest entry, or zero values for an
// empty table.
func (r *AuditRepository) Head(ctx context.Context) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT seq, hash FROM audit_entries ORDER BY seq DESC LIMIT 1
	`).Scan(&seq, &hash)
	if err != nil {
		if isNoRows(err) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("failed to read audit head: %w", err)
	}
	return seq, hash, nil
}

// ListAscending returns up to limit entries with seq greater than afterSeq,
// oldest first. It pages through the chain for verification.
func (r *AuditRepository) ListAscending(ctx context.Context, afterSeq int64, limit int) ([]audit.Entry, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]audit.Entry, error) {
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			outcome string
		)
		err := rows.Scan(
			&e.Seq, &e.Timestamp, &e.ActorID, &e.Operation, &e.Description,
			&outcome, &e.Reason, &e.Metadata, &e.PrevHash, &e.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Outcome = audit.Outcome(outcome)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return entries, nil
}
