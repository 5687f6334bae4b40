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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator"
)

func sampleRecord() *Record {
	return &Record{
		RequestID:         "req-1",
		ClientID:          "despacho-madrid",
		Confidentiality:   "confidential",
		DomainHint:        "contract",
		SelectedBackend:   "local-slm",
		Routing:           []string{"selected backend local-slm"},
		Methodology:       "heuristic_weighted_v1",
		Confidence:        0.81,
		StabilityScore:    0.4,
		AgentWeights:      map[string]float64{"normative": 0.45, "precedent": 0.44, "risk": 0.11},
		FeatureImportance: map[string]float64{"confidence": 0.5, "agreement": 0.3, "citations": 0.2},
		Rounds:            2,
		ProcessingTimeMs:  1200,
		CreatedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresRepositorySave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO consensus_audit").
		WithArgs(
			"req-1", "despacho-madrid", "confidential", "contract",
			"local-slm", sqlmock.AnyArg(), "heuristic_weighted_v1",
			0.81, 0.4, sqlmock.AnyArg(), sqlmock.AnyArg(),
			2, false, "", int64(1200), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	repo := NewPostgresRepository(db)
	rec := sampleRecord()
	require.NoError(t, repo.Save(context.Background(), rec))
	assert.Equal(t, int64(7), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositorySaveRejectsInvalid(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	assert.ErrorIs(t, repo.Save(context.Background(), nil), ErrInvalidInput)
	assert.ErrorIs(t, repo.Save(context.Background(), &Record{}), ErrInvalidInput)
}

func TestPostgresRepositoryGetByRequestID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "request_id", "client_id", "confidentiality", "domain_hint",
		"selected_backend", "routing", "methodology",
		"confidence", "stability_score", "agent_weights", "feature_importance",
		"rounds", "no_consensus", "error_message", "processing_time_ms", "created_at",
	}).AddRow(
		int64(7), "req-1", "despacho-madrid", "confidential", "contract",
		"local-slm", []byte(`["selected backend local-slm"]`), "heuristic_weighted_v1",
		0.81, 0.4, []byte(`{"normative":0.45}`), []byte(`{"confidence":0.5}`),
		2, false, "", int64(1200), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM consensus_audit").
		WithArgs("req-1").
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	rec, err := repo.GetByRequestID(context.Background(), "req-1")
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "heuristic_weighted_v1", rec.Methodology)
	assert.Equal(t, map[string]float64{"normative": 0.45}, rec.AgentWeights)
	assert.Equal(t, []string{"selected backend local-slm"}, rec.Routing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM consensus_audit").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewPostgresRepository(db)
	_, err = repo.GetByRequestID(context.Background(), "absent")
	assert.Error(t, err)
}

func TestPostgresRepositoryListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "request_id", "client_id", "confidentiality", "domain_hint",
		"selected_backend", "routing", "methodology",
		"confidence", "stability_score", "agent_weights", "feature_importance",
		"rounds", "no_consensus", "error_message", "processing_time_ms", "created_at",
	}).
		AddRow(int64(2), "req-2", "", "public", "", "local-slm", []byte(`[]`), "single_response",
			0.8, 0.8, []byte(`{"solo":1}`), []byte(`{}`), 1, false, "", int64(300), time.Now()).
		AddRow(int64(1), "req-1", "", "public", "", "local-slm", []byte(`[]`), "heuristic_weighted_v1",
			0.75, 0.5, []byte(`{}`), []byte(`{}`), 2, false, "", int64(900), time.Now())

	mock.ExpectQuery("SELECT (.+) FROM consensus_audit ORDER BY created_at DESC").
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	records, err := repo.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "req-2", records[0].RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordFlattensResult(t *testing.T) {
	req := &orchestrator.InferenceRequest{
		ClientID:        "c-1",
		Confidentiality: orchestrator.ConfidentialityHighlyConfidential,
		DomainHint:      "litigation",
	}
	res := &orchestrator.ConsensusResult{
		RequestID:    "req-9",
		Confidence:   0.88,
		AgentWeights: map[string]float64{"a": 1},
		AuditProof: orchestrator.AuditProof{
			Methodology:       "single_response",
			FeatureImportance: map[string]float64{},
		},
		RoutingDecision: &orchestrator.RoutingDecision{
			SelectedBackend: "local-slm",
			Reasoning:       []string{"selected backend local-slm"},
		},
		Rounds: 1,
	}

	rec := NewRecord(req, res)
	assert.Equal(t, "req-9", rec.RequestID)
	assert.Equal(t, "highly_confidential", rec.Confidentiality)
	assert.Equal(t, "local-slm", rec.SelectedBackend)
	assert.Equal(t, "single_response", rec.Methodology)
	assert.False(t, rec.CreatedAt.IsZero())
}
