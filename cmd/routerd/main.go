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

// Package main is the entry point for the hybrid inference router.
//
// The router selects an inference backend per request (confidentiality
// gate, circuit breakers, multi-factor scoring), dispatches the request
// to a panel of specialized legal reasoning agents in bounded rounds,
// and returns a weighted consensus answer with a full audit proof.
//
// Usage:
//
//	./routerd
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	ROUTER_CONFIG - YAML config file path (optional)
//	DATABASE_URL - PostgreSQL connection string for audit persistence (optional)
//	REDIS_URL - Redis URL for distributed rate limiting (optional)
//	JWT_SECRET - HS256 secret for API authentication (optional)
//	OPENAI_API_KEY - OpenAI API key (optional)
//	BEDROCK_REGION - AWS Bedrock region (optional)
//	OLLAMA_ENDPOINT - Local model endpoint URL (optional)
package main

import (
	"log"
	"os"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator"
	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator/audit"
)

func main() {
	cfg, err := orchestrator.LoadConfig(os.Getenv("ROUTER_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	var repo audit.Repository
	if db := orchestrator.OpenAuditDB(); db != nil {
		defer db.Close()
		repo = audit.NewPostgresRepository(db)
	}

	controller, err := orchestrator.NewController(
		cfg,
		orchestrator.BuildInvokers(cfg),
		orchestrator.WithAuditSink(audit.NewLoggerSink(repo)),
		orchestrator.WithDomainClassifier(orchestrator.NewKeywordClassifier()),
		orchestrator.WithMetrics(orchestrator.NewMetrics(nil)),
	)
	if err != nil {
		log.Fatalf("controller init error: %v", err)
	}

	limiter := orchestrator.RateLimitFromEnv()
	defer limiter.Close()

	server := orchestrator.NewServer(controller, limiter, orchestrator.NewAuthenticator(os.Getenv("JWT_SECRET")))
	server.Run()
}
