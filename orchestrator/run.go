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
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator/invoker"
)

// Routes builds the HTTP handler with CORS and auth applied.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Prometheus native format
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Main inference endpoint
	r.Handle("/api/v1/consense", s.auth.Middleware(http.HandlerFunc(s.handleConsense))).Methods("POST")

	// Backend health and breaker state
	r.Handle("/api/v1/backends/status", s.auth.Middleware(http.HandlerFunc(s.handleBackendStatus))).Methods("GET")

	return c.Handler(r)
}

// Run starts the HTTP server. Blocks until the listener fails.
func (s *Server) Run() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("[Server] Inference router listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, s.Routes()))
}

// BuildInvokers constructs one invoker per configured backend from its
// provider field plus provider credentials in the environment. Backends
// whose provider cannot be initialized are skipped with a warning; the
// health registry will treat their calls as unavailable.
func BuildInvokers(cfg Config) map[string]invoker.Invoker {
	invokers := make(map[string]invoker.Invoker, len(cfg.Backends))
	for _, b := range cfg.Backends {
		switch b.Provider {
		case "openai":
			apiKey := os.Getenv("OPENAI_API_KEY")
			if apiKey == "" {
				log.Printf("[Server] Backend %s skipped: OPENAI_API_KEY not set", b.ID)
				continue
			}
			invokers[b.ID] = invoker.NewOpenAIInvoker(b.ID, apiKey, b.Model, b.CostPerToken)
		case "bedrock":
			region := os.Getenv("BEDROCK_REGION")
			if region == "" {
				region = "us-east-1"
			}
			inv, err := invoker.NewBedrockInvoker(b.ID, region, b.Model, b.CostPerToken)
			if err != nil {
				log.Printf("[Server] Backend %s skipped: bedrock init failed: %v", b.ID, err)
				continue
			}
			invokers[b.ID] = inv
		case "local":
			endpoint := b.Endpoint
			if endpoint == "" {
				endpoint = os.Getenv("OLLAMA_ENDPOINT")
			}
			if endpoint == "" {
				endpoint = "http://localhost:11434"
			}
			invokers[b.ID] = invoker.NewLocalInvoker(b.ID, endpoint, b.Model)
		default:
			log.Printf("[Server] Backend %s skipped: unknown provider %q", b.ID, b.Provider)
		}
	}
	return invokers
}

// OpenAuditDB opens the audit database when DATABASE_URL is set.
func OpenAuditDB() *sql.DB {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("[Server] Audit database unavailable: %v", err)
		return nil
	}
	return db
}

// RateLimitFromEnv reads the per-client request limit, defaulting to 60
// requests per minute. REDIS_URL enables distributed enforcement.
func RateLimitFromEnv() *RateLimiter {
	limit := 60
	if v := os.Getenv("ROUTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return NewRateLimiter(os.Getenv("REDIS_URL"), limit)
}
