package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"freightdesk/pkg/fault"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envConfigPath = "FREIGHTDESK_CONFIG"
	envDotEnvPath = "FREIGHTDESK_DOTENV"
)

// Config is the root runtime configuration. Values come from built-in
// defaults, then an optional config.json, then the environment.
type Config struct {
	Workspace   string            `json:"workspace" env:"FREIGHTDESK_WORKSPACE"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp"`
	Telegram    TelegramConfig    `json:"telegram"`
	Agents      AgentsConfig      `json:"agents"`
	Providers   ProvidersConfig   `json:"providers"`
	Knowledge   KnowledgeConfig   `json:"knowledge"`
	Search      SearchConfig      `json:"search"`
	OCR         OCRConfig         `json:"ocr"`
	Procurement ProcurementConfig `json:"procurement"`
	Dedupe      DedupeConfig      `json:"dedupe"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	Gateway     GatewayConfig     `json:"gateway"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" env:"FREIGHTDESK_LOG_FORMAT"`
	Level     string `json:"level,omitempty" env:"FREIGHTDESK_LOG_LEVEL"`
	AddSource bool   `json:"add_source,omitempty" env:"FREIGHTDESK_LOG_ADD_SOURCE"`
}

// WhatsAppConfig holds the Cloud API credentials and webhook secrets.
type WhatsAppConfig struct {
	Enabled            bool    `json:"enabled" env:"FREIGHTDESK_WHATSAPP_ENABLED"`
	GraphBaseURL       string  `json:"graph_base_url" env:"FREIGHTDESK_GRAPH_BASE_URL"`
	APIVersion         string  `json:"api_version" env:"VERSION"`
	PhoneNumberID      string  `json:"phone_number_id" env:"PHONE_NUMBER_ID"`
	AccessToken        string  `json:"access_token" env:"WHATSAPP_ACCESS_TOKEN"`
	RecipientOverride  string  `json:"recipient_override" env:"RECIPIENT_PHONE_NUMBER"`
	VerifyToken        string  `json:"verify_token" env:"VERIFY_TOKEN"`
	AppSecret          string  `json:"app_secret" env:"WHATSAPP_APP_SECRET"`
	SendTimeoutSeconds int     `json:"send_timeout_seconds"`
	SendRatePerSecond  float64 `json:"send_rate_per_second"`
	MediaDir           string  `json:"media_dir"`
}

// SendTimeout returns the per-request budget for outbound sends.
func (c WhatsAppConfig) SendTimeout() time.Duration {
	return secondsOr(c.SendTimeoutSeconds, 10)
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"FREIGHTDESK_TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"TELEGRAM_ALLOW_FROM"`
}

// AgentsConfig selects the provider and model behind each agent role.
type AgentsConfig struct {
	Identifier  AgentConfig `json:"identifier" envPrefix:"FREIGHTDESK_IDENTIFIER_"`
	Estimator   AgentConfig `json:"estimator" envPrefix:"FREIGHTDESK_ESTIMATOR_"`
	Compliance  AgentConfig `json:"compliance" envPrefix:"FREIGHTDESK_COMPLIANCE_"`
	Procurement AgentConfig `json:"procurement" envPrefix:"FREIGHTDESK_PROCUREMENT_"`
}

// AgentConfig describes the model settings of one agent role.
type AgentConfig struct {
	Provider          string  `json:"provider" env:"PROVIDER"`
	Model             string  `json:"model" env:"MODEL"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI  ProviderConfig `json:"openai" envPrefix:"OPENAI_"`
	Mistral ProviderConfig `json:"mistral" envPrefix:"MISTRAL_"`
	Exa     ProviderConfig `json:"exa" envPrefix:"EXA_"`
	Gemini  ProviderConfig `json:"gemini" envPrefix:"GEMINI_"`
}

// ProviderConfig configures one remote model API.
type ProviderConfig struct {
	APIKey                string `json:"api_key" env:"API_KEY"`
	BaseURL               string `json:"base_url" env:"BASE_URL"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// RequestTimeout returns the configured timeout, or zero when unset.
func (c ProviderConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// KnowledgeConfig configures the local full-text knowledge base.
type KnowledgeConfig struct {
	DBPath    string `json:"db_path" env:"FREIGHTDESK_KNOWLEDGE_DB"`
	SourceDir string `json:"source_dir"`
	ChunkSize int    `json:"chunk_size"`
	Overlap   int    `json:"overlap"`
	TopK      int    `json:"top_k"`
}

// SearchConfig configures the instant-answer web search tool.
type SearchConfig struct {
	Enabled        bool   `json:"enabled" env:"FREIGHTDESK_SEARCH_ENABLED"`
	BaseURL        string `json:"base_url"`
	MaxResults     int    `json:"max_results"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OCRConfig configures PDF to Markdown conversion.
type OCRConfig struct {
	Model          string `json:"model"`
	InputDir       string `json:"input_dir"`
	OutputDir      string `json:"output_dir"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ProcurementConfig configures vendor research and CSV export.
type ProcurementConfig struct {
	ResearchModel string `json:"research_model"`
	OutputCSV     string `json:"output_csv"`
}

// DedupeConfig configures duplicate message suppression.
type DedupeConfig struct {
	RedisURL   string `json:"redis_url" env:"REDIS_URL"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL returns how long a message id is remembered.
func (c DedupeConfig) TTL() time.Duration {
	return secondsOr(c.TTLSeconds, 24*60*60)
}

// DispatchConfig configures responder behavior.
type DispatchConfig struct {
	FailureReply string `json:"failure_reply" env:"FREIGHTDESK_FAILURE_REPLY"`
	ReportDir    string `json:"report_dir"`
}

// GatewayConfig configures HTTP gateway bind settings and the worker pool.
type GatewayConfig struct {
	Host              string `json:"host" env:"FREIGHTDESK_HOST"`
	Port              int    `json:"port" env:"FREIGHTDESK_PORT"`
	Workers           int    `json:"workers" env:"FREIGHTDESK_WORKERS"`
	QueueSize         int    `json:"queue_size" env:"FREIGHTDESK_QUEUE_SIZE"`
	JobTimeoutSeconds int    `json:"job_timeout_seconds"`
}

// JobTimeout returns the budget for one background message job.
func (c GatewayConfig) JobTimeout() time.Duration {
	return secondsOr(c.JobTimeoutSeconds, 120)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		WhatsApp: WhatsAppConfig{
			Enabled:            true,
			GraphBaseURL:       "https://graph.facebook.com",
			APIVersion:         "v21.0",
			SendTimeoutSeconds: 10,
			SendRatePerSecond:  20,
			MediaDir:           "images",
		},
		Agents: AgentsConfig{
			Identifier:  AgentConfig{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 1024, Temperature: 0.7},
			Estimator:   AgentConfig{Provider: "fantasy", Model: "gpt-4o-mini", MaxTokens: 2048, Temperature: 0.7, MaxToolIterations: 4},
			Compliance:  AgentConfig{Provider: "openai", Model: "gpt-4o", MaxTokens: 4096},
			Procurement: AgentConfig{Provider: "openai", Model: "gpt-4o", MaxTokens: 4096},
		},
		Providers: ProvidersConfig{
			Mistral: ProviderConfig{BaseURL: "https://api.mistral.ai/v1", RequestTimeoutSeconds: 120},
			Exa:     ProviderConfig{BaseURL: "https://api.exa.ai", RequestTimeoutSeconds: 300},
		},
		Knowledge: KnowledgeConfig{
			DBPath:    "knowledge.db",
			SourceDir: "Markdown",
			ChunkSize: 512,
			Overlap:   50,
			TopK:      5,
		},
		Search: SearchConfig{
			Enabled:        true,
			BaseURL:        "https://api.duckduckgo.com",
			MaxResults:     5,
			TimeoutSeconds: 15,
		},
		OCR: OCRConfig{
			Model:          "mistral-ocr-latest",
			InputDir:       "Documents",
			OutputDir:      "Markdown",
			TimeoutSeconds: 120,
		},
		Procurement: ProcurementConfig{
			ResearchModel: "exa-research",
			OutputCSV:     "data.csv",
		},
		Dedupe: DedupeConfig{TTLSeconds: 24 * 60 * 60},
		Dispatch: DispatchConfig{
			ReportDir: "reports",
		},
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			Workers:           4,
			QueueSize:         64,
			JobTimeoutSeconds: 120,
		},
		Logging: LoggingConfig{Format: "text", Level: "info"},
	}
}

// LoadConfig loads .env, resolves an optional config.json, unmarshals it over
// the defaults, and applies environment overrides.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fault.Wrap(fault.Configuration, "read config file", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fault.Wrap(fault.Configuration, "parse config file", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fault.Wrap(fault.Configuration, "parse environment", err)
	}

	cfg.normalize()

	return cfg, nil
}

// loadDotEnv populates unset environment variables from a .env file when present.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(envDotEnvPath))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fault.Wrap(fault.Configuration, "load "+path, err)
	}

	return nil
}

// findConfigPath resolves the active config file location.
//
// Precedence is FREIGHTDESK_CONFIG first, then cwd-local fallback paths. An
// empty result means no file exists and the defaults plus environment apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fault.Newf(fault.Configuration, "%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}

func (c *Config) normalize() {
	c.Workspace = strings.TrimSpace(c.Workspace)
	if c.Workspace == "" {
		c.Workspace = "."
	}
	c.WhatsApp.APIVersion = strings.TrimSpace(c.WhatsApp.APIVersion)
	c.WhatsApp.GraphBaseURL = strings.TrimRight(strings.TrimSpace(c.WhatsApp.GraphBaseURL), "/")
	c.Telegram.AllowFrom = compact(c.Telegram.AllowFrom)
	if c.Gateway.Workers <= 0 {
		c.Gateway.Workers = 1
	}
	if c.Gateway.QueueSize < 0 {
		c.Gateway.QueueSize = 0
	}
}

// ValidateWhatsApp reports missing credentials required to run the WhatsApp channel.
func (c *Config) ValidateWhatsApp() error {
	missing := make([]string, 0, 4)
	if c.WhatsApp.APIVersion == "" {
		missing = append(missing, "VERSION")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "PHONE_NUMBER_ID")
	}
	if c.WhatsApp.AccessToken == "" {
		missing = append(missing, "WHATSAPP_ACCESS_TOKEN")
	}
	if c.WhatsApp.VerifyToken == "" {
		missing = append(missing, "VERIFY_TOKEN")
	}
	if len(missing) > 0 {
		return fault.Newf(fault.Configuration, "whatsapp requires %s", strings.Join(missing, ", "))
	}

	return nil
}

// ValidateTelegram reports a missing bot token for an enabled Telegram channel.
func (c *Config) ValidateTelegram() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fault.New(fault.Configuration, "telegram requires TELEGRAM_BOT_TOKEN")
	}

	return nil
}

// Provider returns the connection settings for a provider name.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "fantasy":
		return c.Providers.OpenAI, nil
	case "mistral":
		return c.Providers.Mistral, nil
	case "exa":
		return c.Providers.Exa, nil
	case "gemini":
		return c.Providers.Gemini, nil
	default:
		return ProviderConfig{}, fault.Newf(fault.Configuration, "unsupported provider %q", name)
	}
}

// Path resolves a workspace-relative path. Absolute paths are returned as-is.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Workspace, rel)
}

func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return clean
}

func secondsOr(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
