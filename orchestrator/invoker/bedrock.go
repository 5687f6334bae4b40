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

package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockInvoker executes inference against AWS Bedrock using the AWS SDK
// v2, with Signature V4 authentication via IAM roles.
type BedrockInvoker struct {
	name         string
	client       *bedrockruntime.Client
	region       string
	model        string
	costPerToken float64
}

// NewBedrockInvoker creates a Bedrock-backed invoker. It returns an error
// if AWS config loading fails; callers should handle this rather than
// silently substituting a mock.
func NewBedrockInvoker(name, region, model string, costPerToken float64) (*BedrockInvoker, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return &BedrockInvoker{
		name:         name,
		client:       bedrockruntime.NewFromConfig(awsCfg),
		region:       region,
		model:        model,
		costPerToken: costPerToken,
	}, nil
}

// Name returns the backend ID this invoker serves.
func (b *BedrockInvoker) Name() string { return b.name }

// Invoke runs the prompt through Bedrock's InvokeModel API using the
// Anthropic messages body format.
func (b *BedrockInvoker) Invoke(ctx context.Context, prompt string, p Params) (*Result, error) {
	model := p.Model
	if model == "" {
		model = b.model
	}
	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       p.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if p.SystemPrompt != "" {
		body["system"] = p.SystemPrompt
	}

	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewInvokeError(b.name, ErrCodeTimeout, "bedrock call timed out", err)
		}
		return nil, NewInvokeError(b.name, ErrCodeServerError, fmt.Sprintf("bedrock API error: %v", err), err)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse bedrock response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, NewInvokeError(b.name, ErrCodeServerError, "empty content in bedrock response", nil)
	}

	tokens := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	return &Result{
		Text:    parsed.Content[0].Text,
		Tokens:  tokens,
		Latency: time.Since(start),
		Cost:    float64(tokens) * b.costPerToken,
	}, nil
}
