package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "https://api.openai.com/v1", cfg.EmbeddingHost)
	assert.Equal(t, "https://api.openai.com/v1", cfg.SummaryHost)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", cfg.SummaryModel)
	assert.Empty(t, cfg.APIKey)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.SummaryHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithSummaryHost("http://summarize:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://summarize:9090/v1", cfg.SummaryHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithProvider("ollama"),
			WithEmbeddingModel("embeddinggemma"),
			WithSummaryModel("qwen2.5:3b"),
			WithAPIKey("sk-test"),
		)

		assert.Equal(t, "ollama", cfg.Provider)
		assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
		assert.Equal(t, "qwen2.5:3b", cfg.SummaryModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name            string
		embeddingHost   string
		summaryHost     string
		expectedEmbed   string
		expectedSummary string
	}{
		{"already has /v1", "http://localhost:11434/v1", "http://localhost:11434/v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing /v1", "http://localhost:11434", "http://localhost:11434", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"has trailing slash", "http://localhost:11434/", "http://localhost:11434/", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"empty hosts", "", "", "", ""},
		{"summary falls back to embedding host", "http://embed:8080", "", "http://embed:8080/v1", "http://embed:8080/v1"},
		{"different formats", "http://embed:8080", "http://summarize:9090/v1", "http://embed:8080/v1", "http://summarize:9090/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				EmbeddingHost: tt.embeddingHost,
				SummaryHost:   tt.summaryHost,
			}

			cfg.Normalize()

			assert.Equal(t, tt.expectedEmbed, cfg.EmbeddingHost)
			assert.Equal(t, tt.expectedSummary, cfg.SummaryHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Provider:       "ollama",
			EmbeddingHost:  "http://localhost:11434",
			EmbeddingModel: "embeddinggemma",
			SummaryModel:   "qwen2.5:3b",
		}
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())

		// Should also normalize
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.SummaryHost)
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing provider", func(c *Config) { c.Provider = "" }, "Provider"},
		{"missing embedding host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"missing summary model", func(c *Config) { c.SummaryModel = "" }, "SummaryModel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigHasCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want bool
	}{
		{"nil config", nil, false},
		{"hosted without key", DefaultConfig(), false},
		{"hosted with key", NewConfig(WithAPIKey("sk-test")), true},
		{"blank key", NewConfig(WithAPIKey("   ")), false},
		{"localhost", NewConfig(WithHost("http://localhost:11434/v1")), true},
		{"loopback ip", NewConfig(WithHost("http://127.0.0.1:8080/v1")), true},
		{"lan host", NewConfig(WithHost("http://10.0.0.5:8080/v1")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.HasCredentials())
		})
	}
}

func TestConfigToken(t *testing.T) {
	assert.Equal(t, "none", DefaultConfig().Token())
	assert.Equal(t, "sk-test", NewConfig(WithAPIKey("sk-test")).Token())
}
