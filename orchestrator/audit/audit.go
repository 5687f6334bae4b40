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

// Package audit persists consensus outcomes for later review. Every
// finalized result is flattened into a Record carrying the routing
// trace, the applied agent weights and the weighting proof.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator"
)

// ErrInvalidInput is returned for nil or incomplete records.
var ErrInvalidInput = errors.New("invalid audit input")

// Record is the flattened audit row for one request.
type Record struct {
	ID                int64              `json:"id,omitempty"`
	RequestID         string             `json:"request_id"`
	ClientID          string             `json:"client_id,omitempty"`
	Confidentiality   string             `json:"confidentiality"`
	DomainHint        string             `json:"domain_hint,omitempty"`
	SelectedBackend   string             `json:"selected_backend,omitempty"`
	Routing           []string           `json:"routing,omitempty"`
	Methodology       string             `json:"methodology"`
	Confidence        float64            `json:"confidence"`
	StabilityScore    float64            `json:"stability_score"`
	AgentWeights      map[string]float64 `json:"agent_weights"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Rounds            int                `json:"rounds"`
	NoConsensus       bool               `json:"no_consensus"`
	Error             string             `json:"error,omitempty"`
	ProcessingTimeMs  int64              `json:"processing_time_ms"`
	CreatedAt         time.Time          `json:"created_at"`
}

// NewRecord flattens a request and its result into a Record.
func NewRecord(req *orchestrator.InferenceRequest, res *orchestrator.ConsensusResult) *Record {
	rec := &Record{
		RequestID:         res.RequestID,
		ClientID:          req.ClientID,
		Confidentiality:   req.Confidentiality.String(),
		DomainHint:        req.DomainHint,
		Methodology:       res.AuditProof.Methodology,
		Confidence:        res.Confidence,
		StabilityScore:    res.StabilityScore,
		AgentWeights:      res.AgentWeights,
		FeatureImportance: res.AuditProof.FeatureImportance,
		Rounds:            res.Rounds,
		NoConsensus:       res.NoConsensus,
		Error:             res.Error,
		ProcessingTimeMs:  res.ProcessingTimeMs,
		CreatedAt:         time.Now().UTC(),
	}
	if res.RoutingDecision != nil {
		rec.SelectedBackend = res.RoutingDecision.SelectedBackend
		rec.Routing = res.RoutingDecision.Reasoning
	}
	return rec
}

// Repository stores and retrieves audit records.
type Repository interface {
	Save(ctx context.Context, rec *Record) error
	GetByRequestID(ctx context.Context, requestID string) (*Record, error)
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
}
