// Copyright 2025 Poiesic Systems
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


package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/poiesic/feedsync/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxSummaryTitles bounds the prompt size for very large clusters.
const maxSummaryTitles = 12

// ErrEmptySummary is returned when the model produced no usable headline.
var ErrEmptySummary = errors.New("model returned an empty summary")

// Summarizer implements ai.Summarizer using OpenAI-compatible chat APIs.
type Summarizer struct {
	client llms.Model
	logger *slog.Logger
}

// summaryResponse is the structure expected from the LLM.
type summaryResponse struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// newSummarizer is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newSummarizer(config *ai.Config) (*Summarizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.SummaryHost),
		openai.WithToken(config.Token()),
		openai.WithModel(config.SummaryModel),
	)
	if err != nil {
		return nil, err
	}

	return &Summarizer{
		client: client,
		logger: slog.Default().With("component", "openai-summarizer"),
	}, nil
}

// NewSummarizer creates a new cluster summarizer using the provided configuration.
//
// Returns ai.Summarizer interface to enforce abstraction.
func NewSummarizer(config *ai.Config) (ai.Summarizer, error) {
	return newSummarizer(config)
}

// SummarizeCluster asks the model for a headline and summary of the titles.
func (s *Summarizer) SummarizeCluster(ctx context.Context, titles []string) (*ai.ClusterSummary, error) {
	if len(titles) > maxSummaryTitles {
		titles = titles[:maxSummaryTitles]
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(buildUserPrompt(titles))},
		},
	}

	// Try up to 3 times in case of malformed JSON
	var result summaryResponse
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := s.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			s.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, err
		}

		if len(response.Choices) < 1 {
			lastErr = ErrEmptySummary
			continue
		}

		responseText := cleanResponse(response.Choices[0].Content)

		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			s.logger.Warn("error parsing summary response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}
		if strings.TrimSpace(result.Title) == "" {
			lastErr = ErrEmptySummary
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		s.logger.Error("failed to parse summary response after retries", "err", lastErr)
		return nil, lastErr
	}

	return &ai.ClusterSummary{
		Title:   strings.TrimSpace(result.Title),
		Summary: strings.TrimSpace(result.Summary),
	}, nil
}
