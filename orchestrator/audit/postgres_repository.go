// Copyright 2025 SLM Legal ES Research
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

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// Ensure PostgresRepository implements Repository
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save inserts one audit record, updating it on request-id conflict so a
// retried emit stays idempotent.
func (r *PostgresRepository) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RequestID == "" {
		return ErrInvalidInput
	}

	weights, err := json.Marshal(rec.AgentWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal agent_weights: %w", err)
	}
	importance, err := json.Marshal(rec.FeatureImportance)
	if err != nil {
		return fmt.Errorf("failed to marshal feature_importance: %w", err)
	}
	routing, err := json.Marshal(rec.Routing)
	if err != nil {
		return fmt.Errorf("failed to marshal routing: %w", err)
	}

	query := `
		INSERT INTO consensus_audit (
			request_id, client_id, confidentiality, domain_hint,
			selected_backend, routing, methodology,
			confidence, stability_score, agent_weights, feature_importance,
			rounds, no_consensus, error_message, processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)
		ON CONFLICT (request_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			stability_score = EXCLUDED.stability_score,
			agent_weights = EXCLUDED.agent_weights,
			feature_importance = EXCLUDED.feature_importance,
			rounds = EXCLUDED.rounds,
			no_consensus = EXCLUDED.no_consensus,
			error_message = EXCLUDED.error_message,
			processing_time_ms = EXCLUDED.processing_time_ms
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		rec.RequestID, rec.ClientID, rec.Confidentiality, rec.DomainHint,
		rec.SelectedBackend, routing, rec.Methodology,
		rec.Confidence, rec.StabilityScore, weights, importance,
		rec.Rounds, rec.NoConsensus, rec.Error, rec.ProcessingTimeMs, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	return nil
}

// GetByRequestID retrieves the audit record for one request.
func (r *PostgresRepository) GetByRequestID(ctx context.Context, requestID string) (*Record, error) {
	query := `
		SELECT id, request_id, client_id, confidentiality, domain_hint,
		       selected_backend, routing, methodology,
		       confidence, stability_score, agent_weights, feature_importance,
		       rounds, no_consensus, error_message, processing_time_ms, created_at
		FROM consensus_audit
		WHERE request_id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit record not found for request %s", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

// ListRecent returns the newest records, most recent first.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, request_id, client_id, confidentiality, domain_hint,
		       selected_backend, routing, methodology,
		       confidence, stability_score, agent_weights, feature_importance,
		       rounds, no_consensus, error_message, processing_time_ms, created_at
		FROM consensus_audit
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec        Record
		routing    []byte
		weights    []byte
		importance []byte
	)
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.ClientID, &rec.Confidentiality, &rec.DomainHint,
		&rec.SelectedBackend, &routing, &rec.Methodology,
		&rec.Confidence, &rec.StabilityScore, &weights, &importance,
		&rec.Rounds, &rec.NoConsensus, &rec.Error, &rec.ProcessingTimeMs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(routing) > 0 {
		if err := json.Unmarshal(routing, &rec.Routing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal routing: %w", err)
		}
	}
	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &rec.AgentWeights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent_weights: %w", err)
		}
	}
	if len(importance) > 0 {
		if err := json.Unmarshal(importance, &rec.FeatureImportance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feature_importance: %w", err)
		}
	}
	return &rec, nil
}
