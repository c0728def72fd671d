package main

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	ReasoningTimeoutSeconds int `yaml:"reasoning_timeout_seconds"`
	AnalysisWorkers         int `yaml:"analysis_workers"`

	EmbedProvider string `yaml:"embed_provider"` // "local" or "openai"
	EmbedModel    string `yaml:"embed_model"`
	EmbedDim      int    `yaml:"embed_dim"`
	AdvisorTopK   int    `yaml:"advisor_top_k"`

	DBPath          string `yaml:"db_path"`
	PolicyPath      string `yaml:"policy_path"`
	ReportOutputDir string `yaml:"report_output_dir"`

	SlackBotToken     string `yaml:"slack_bot_token"`
	SecurityChannelID string `yaml:"security_channel_id"`
	BlockWebhookURL   string `yaml:"block_webhook_url"`

	ScanSchedule string `yaml:"scan_schedule"` // 5-field cron; empty disables watch mode
	ScanDir      string `yaml:"scan_dir"`
}

// LoadConfig reads config.yaml (or CONFIG_PATH), applies env-var overrides,
// fills defaults, and validates. Validation failures are ConfigErrors; the
// caller decides whether they are fatal.
func LoadConfig() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, configErrorf("", "parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.ReasoningTimeoutSeconds, "REASONING_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.AnalysisWorkers, "ANALYSIS_WORKERS")
	envOverride(&cfg.EmbedProvider, "EMBED_PROVIDER")
	envOverride(&cfg.EmbedModel, "EMBED_MODEL")
	envOverrideInt(&cfg.EmbedDim, "EMBED_DIM")
	envOverrideInt(&cfg.AdvisorTopK, "ADVISOR_TOP_K")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.PolicyPath, "POLICY_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SecurityChannelID, "SECURITY_CHANNEL_ID")
	envOverride(&cfg.BlockWebhookURL, "BLOCK_WEBHOOK_URL")
	envOverride(&cfg.ScanSchedule, "SCAN_SCHEDULE")
	envOverride(&cfg.ScanDir, "SCAN_DIR")

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.ReasoningTimeoutSeconds == 0 {
		cfg.ReasoningTimeoutSeconds = 30
	}
	if cfg.AnalysisWorkers == 0 {
		cfg.AnalysisWorkers = 4
	}
	if cfg.EmbedProvider == "" {
		cfg.EmbedProvider = "local"
	}
	if cfg.EmbedDim == 0 {
		cfg.EmbedDim = defaultEmbedDim
	}
	if cfg.AdvisorTopK == 0 {
		cfg.AdvisorTopK = 5
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./sentinel.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ScanDir == "" {
		cfg.ScanDir = "./logs"
	}

	// Validate
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return cfg, configErrorf("anthropic_api_key", "required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return cfg, configErrorf("openai_api_key", "required when llm_provider=openai")
		}
	default:
		return cfg, configErrorf("llm_provider", "must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	switch cfg.EmbedProvider {
	case "local":
		if cfg.EmbedDim < 8 {
			return cfg, configErrorf("embed_dim", "must be >= 8, got %d", cfg.EmbedDim)
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return cfg, configErrorf("openai_api_key", "required when embed_provider=openai")
		}
	default:
		return cfg, configErrorf("embed_provider", "must be 'local' or 'openai', got '%s'", cfg.EmbedProvider)
	}

	if cfg.ReasoningTimeoutSeconds < 1 {
		return cfg, configErrorf("reasoning_timeout_seconds", "must be >= 1, got %d", cfg.ReasoningTimeoutSeconds)
	}
	if cfg.AnalysisWorkers < 1 {
		return cfg, configErrorf("analysis_workers", "must be >= 1, got %d", cfg.AnalysisWorkers)
	}
	if cfg.AdvisorTopK < 1 {
		return cfg, configErrorf("advisor_top_k", "must be >= 1, got %d", cfg.AdvisorTopK)
	}

	return cfg, nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("Ignoring invalid %s=%q: %v", envKey, val, err)
			return
		}
		*field = parsed
	}
}
