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


package ai

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider names the service for usage accounting and cost lookup.
	// Example: "openai", "ollama"
	Provider string `yaml:"provider"`

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string `yaml:"embedding_host"`

	// SummaryHost is the base URL for the chat completion service API.
	SummaryHost string `yaml:"summary_host"`

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "text-embedding-3-small", "embeddinggemma"
	EmbeddingModel string `yaml:"embedding_model"`

	// SummaryModel is the model identifier to use for cluster summaries.
	// Example: "gpt-4o-mini", "qwen2.5:3b"
	SummaryModel string `yaml:"summary_model"`

	// APIKey authenticates against hosted providers.
	// Local servers on a loopback address don't need one.
	APIKey string `yaml:"api_key"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the provider name.
func WithProvider(name string) ConfigOption {
	return func(c *Config) {
		c.Provider = name
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithSummaryHost sets the summary service host URL.
func WithSummaryHost(host string) ConfigOption {
	return func(c *Config) {
		c.SummaryHost = host
	}
}

// WithHost sets both embedding and summary hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.SummaryHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithSummaryModel sets the summary model identifier.
func WithSummaryModel(model string) ConfigOption {
	return func(c *Config) {
		c.SummaryModel = model
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// DefaultConfig returns a Config pointing at the hosted OpenAI API.
// No API key is set, so HasCredentials is false until one is supplied.
func DefaultConfig() *Config {
	defaultHost := "https://api.openai.com/v1"
	return &Config{
		Provider:       "openai",
		EmbeddingHost:  defaultHost,
		SummaryHost:    defaultHost,
		EmbeddingModel: "text-embedding-3-small",
		SummaryModel:   "gpt-4o-mini",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithProvider("ollama"),
//	    WithEmbeddingModel("embeddinggemma"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.SummaryHost = normalizeHost(c.SummaryHost)
	if c.SummaryHost == "" {
		c.SummaryHost = c.EmbeddingHost
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Provider == "" {
		return errors.New("ai config: Provider is required")
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.SummaryModel == "" {
		return errors.New("ai config: SummaryModel is required")
	}
	return nil
}

// HasCredentials reports whether calls to the provider can succeed:
// either an API key is configured or the embedding host is a local server.
func (c *Config) HasCredentials() bool {
	if c == nil {
		return false
	}
	if strings.TrimSpace(c.APIKey) != "" {
		return true
	}
	u, err := url.Parse(c.EmbeddingHost)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Token returns the bearer token to send, "none" for local servers.
func (c *Config) Token() string {
	if c.APIKey == "" {
		return "none"
	}
	return c.APIKey
}
