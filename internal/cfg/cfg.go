package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Provider names accepted by -llm-provider.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	LLMProvider           string
	ClaudeAPIKey          string
	ClaudeModel           string
	OpenAIBaseURL         string
	OpenAIAPIKey          string
	OpenAIModel           string
	CorpusFile            string
	DatabaseURL           string
	CorpusTable           string
	PolicyFile            string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderOpenAI, "LLM backend: openai (any OpenAI-compatible endpoint, e.g. Ollama) or claude")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "http://localhost:11434/v1", "base URL of the OpenAI-compatible endpoint")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI-compatible endpoint (empty for Ollama)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "llama3.2:1b", "model name on the OpenAI-compatible endpoint")
	fs.StringVar(&c.CorpusFile, "corpus-file", "", "CSV reference corpus with code,description columns (empty = built-in corpus)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL to load the corpus from (empty = file or built-in corpus)")
	fs.StringVar(&c.CorpusTable, "corpus-table", "icd10_symptoms", "table holding the corpus when -database-url is set")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "TOML triage policy overrides (empty = built-in policy)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for referral notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.LLMProvider {
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when LLM_PROVIDER is claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when LLM_PROVIDER is claude"))
		}
	case ProviderOpenAI:
		if c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("OPENAI_BASE_URL is required when LLM_PROVIDER is openai"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required when LLM_PROVIDER is openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be %s or %s)", c.LLMProvider, ProviderOpenAI, ProviderClaude))
	}

	// One corpus source at a time
	if c.DatabaseURL != "" && c.CorpusFile != "" {
		errs = append(errs, errors.New("DATABASE_URL and CORPUS_FILE are mutually exclusive"))
	}
	if c.DatabaseURL != "" && strings.TrimSpace(c.CorpusTable) == "" {
		errs = append(errs, errors.New("CORPUS_TABLE is required when DATABASE_URL is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
