// internal/common/config/config.go
package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig backs the extraction job ledger. An empty address disables it.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	LedgerTTL int    `mapstructure:"ledger_ttl"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	BrightData BrightDataConfig `mapstructure:"brightdata"`
	GenAI      GenAIConfig      `mapstructure:"genai"`
}

// BrightDataConfig covers both the SERP proxy and the dataset (snapshot) API.
type BrightDataConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	Zone              string `mapstructure:"zone"`
	DiscussionDataset string `mapstructure:"discussion_dataset"`
	PostsDataset      string `mapstructure:"posts_dataset"`
	Timeout           int    `mapstructure:"timeout"` // milliseconds
}

type GenAIConfig struct {
	Provider    string  `mapstructure:"provider"` // openai or ollama
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// PipelineConfig holds the per-stage budgets. All durations are milliseconds.
type PipelineConfig struct {
	Workers           int `mapstructure:"workers"`
	BatchDeadline     int `mapstructure:"batch_deadline"`
	SearchTimeout     int `mapstructure:"search_timeout"`
	DiscussionTimeout int `mapstructure:"discussion_timeout"`
	RetrievalTimeout  int `mapstructure:"retrieval_timeout"`
	PollInterval      int `mapstructure:"poll_interval"`
	MaxSelectedURLs   int `mapstructure:"max_selected_urls"`
	SelectionTimeout  int `mapstructure:"selection_timeout"`
	AnalysisTimeout   int `mapstructure:"analysis_timeout"`
	SynthesisTimeout  int `mapstructure:"synthesis_timeout"`
	HistorySize       int `mapstructure:"history_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"` // stdout, stderr or file
	File   struct {
		Path       string `mapstructure:"path"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"file"`
}

type ObservabilityConfig struct {
	ServiceName string `mapstructure:"service_name"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
