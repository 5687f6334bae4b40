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
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Server exposes the router over HTTP.
type Server struct {
	controller *OrchestrationController
	limiter    *RateLimiter
	auth       *Authenticator
	startedAt  time.Time
}

// NewServer wires the HTTP layer around a controller. Limiter and auth
// may be nil to disable rate limiting and token validation.
func NewServer(controller *OrchestrationController, limiter *RateLimiter, auth *Authenticator) *Server {
	if auth == nil {
		auth = NewAuthenticator("")
	}
	return &Server{
		controller: controller,
		limiter:    limiter,
		auth:       auth,
		startedAt:  time.Now(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleConsense is the main inference endpoint: one request in, one
// consensus result out.
func (s *Server) handleConsense(w http.ResponseWriter, r *http.Request) {
	var req InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required", Code: "bad_request"})
		return
	}
	if clientID := r.Header.Get("X-Client-ID"); clientID != "" {
		req.ClientID = clientID
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(r.Context(), req.ClientID); err != nil {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Code: "rate_limited"})
			return
		}
	}

	result, err := s.controller.RouteAndConsense(r.Context(), &req)
	if err != nil {
		var violation *ConfidentialityViolationError
		switch {
		case errors.As(err, &violation):
			writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "confidentiality_violation"})
		case errors.Is(err, ErrNoBackendAvailable):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "no_backend_available"})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "internal_error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleBackendStatus reports per-backend breaker state and rolling
// metrics.
func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": s.controller.Registry().Snapshots(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"backends":       len(s.controller.Config().Backends),
		"agents":         len(s.controller.Config().Agents),
	})
}
