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

package orchestrator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator/invoker"
)

func newTestServer(t *testing.T) (*Server, *invoker.MockInvoker) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backends = []BackendDescriptor{
		{ID: "local-slm", Locality: LocalityLocal, ExpectedLatencyMs: 100, MaxConfidentiality: ConfidentialityMaximumSecurity, MaxTokens: 4096},
	}
	cfg.Agents = []AgentProfile{
		{ID: "normative", Specialty: "normative analysis"},
		{ID: "precedent", Specialty: "precedent review"},
	}
	cfg.AgentCallTimeout = 500 * time.Millisecond
	cfg.MaxRoundLatency = 2 * time.Second

	mock := invoker.NewMockInvoker("local-slm", invoker.MockResponse{
		Text:       "la cláusula es válida conforme al art. 1255 del código civil",
		Confidence: 0.9,
	})
	controller, err := NewController(cfg, map[string]invoker.Invoker{"local-slm": mock})
	require.NoError(t, err)

	return NewServer(controller, nil, nil), mock
}

func TestConsenseEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Routes()

	body, _ := json.Marshal(map[string]interface{}{
		"prompt":          "¿es válida la cláusula de exclusividad?",
		"confidentiality": "confidential",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consense", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ConsensusResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RequestID)
	assert.False(t, result.NoConsensus)
	assert.NotEmpty(t, result.FinalText)
	assert.NotEmpty(t, result.AgentWeights)
}

func TestConsenseEndpointRejectsBadInput(t *testing.T) {
	server, mock := newTestServer(t)
	handler := server.Routes()

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/consense", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty prompt", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/consense", bytes.NewReader([]byte(`{"prompt":""}`)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Zero(t, mock.Calls(), "rejected requests must never reach the backends")
}

func TestConsenseEndpointConfidentialityViolation(t *testing.T) {
	server, _ := newTestServer(t)
	// Rebuild with a remote-only topology that cannot serve the level.
	cfg := server.controller.Config()
	cfg.Backends = []BackendDescriptor{
		{ID: "remote-llm", Locality: LocalityRemote, ExpectedLatencyMs: 800, MaxConfidentiality: ConfidentialityInternal, MaxTokens: 8192},
	}
	controller, err := NewController(cfg, map[string]invoker.Invoker{
		"remote-llm": invoker.NewMockInvoker("remote-llm"),
	})
	require.NoError(t, err)
	handler := NewServer(controller, nil, nil).Routes()

	body, _ := json.Marshal(map[string]interface{}{
		"prompt":          "documento de máxima seguridad",
		"confidentiality": "maximum_security",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consense", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confidentiality_violation", resp.Code)
}

func TestConsenseEndpointRateLimited(t *testing.T) {
	server, _ := newTestServer(t)
	server.limiter = NewRateLimiter("", 1)
	handler := server.Routes()

	body := []byte(`{"prompt":"consulta","confidentiality":"public","client_id":"c1"}`)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/v1/consense", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/v1/consense", bytes.NewReader(body)))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestBackendStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/backends/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Backends map[string]HealthSnapshot `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Backends, "local-slm")
	assert.Equal(t, BreakerClosed, resp.Backends["local-slm"].State)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}
