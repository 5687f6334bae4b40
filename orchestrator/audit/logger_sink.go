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

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator"
	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/shared/logger"
)

// LoggerSink writes every consensus outcome to the structured log. It is
// the default sink when no database is configured, and can wrap a
// Repository to persist as well.
type LoggerSink struct {
	logger *logger.Logger
	repo   Repository // optional
}

var _ orchestrator.AuditSink = (*LoggerSink)(nil)

// NewLoggerSink builds a sink that logs, and also persists when repo is
// non-nil.
func NewLoggerSink(repo Repository) *LoggerSink {
	return &LoggerSink{
		logger: logger.New("AuditSink"),
		repo:   repo,
	}
}

// Emit records one finalized consensus result.
func (s *LoggerSink) Emit(ctx context.Context, req *orchestrator.InferenceRequest, res *orchestrator.ConsensusResult) error {
	if req == nil || res == nil {
		return ErrInvalidInput
	}
	rec := NewRecord(req, res)

	s.logger.Info(rec.ClientID, rec.RequestID, "consensus finalized", map[string]interface{}{
		"backend":            rec.SelectedBackend,
		"methodology":        rec.Methodology,
		"confidence":         rec.Confidence,
		"stability":          rec.StabilityScore,
		"rounds":             rec.Rounds,
		"no_consensus":       rec.NoConsensus,
		"agent_weights":      rec.AgentWeights,
		"processing_time_ms": rec.ProcessingTimeMs,
	})

	if s.repo != nil {
		return s.repo.Save(ctx, rec)
	}
	return nil
}
