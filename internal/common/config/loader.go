// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, overlays config.<APP_ENVIRONMENT>.yaml and
// applies environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // overlay is optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills credentials from the conventional env names when the
// YAML left them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.APIs.BrightData.APIKey == "" {
		cfg.APIs.BrightData.APIKey = os.Getenv("BRIGHTDATA_API_KEY")
	}

	if cfg.APIs.GenAI.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.APIs.GenAI.APIKey = val
		} else if val := os.Getenv("GENAI_API_KEY"); val != "" {
			cfg.APIs.GenAI.APIKey = val
		}
	}
	if cfg.APIs.GenAI.Provider == "ollama" && os.Getenv("OLLAMA_HOST") == "" && cfg.APIs.GenAI.BaseURL != "" {
		// ollama/api reads its endpoint from OLLAMA_HOST
		_ = os.Setenv("OLLAMA_HOST", cfg.APIs.GenAI.BaseURL)
	}

	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = os.Getenv("REDIS_ADDRESS")
	}
	if cfg.Camunda.BrokerAddress == "" {
		cfg.Camunda.BrokerAddress = os.Getenv("ZEEBE_ADDRESS")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "research-agent"
	}

	bd := &cfg.APIs.BrightData
	if bd.BaseURL == "" {
		bd.BaseURL = "https://api.brightdata.com"
	}
	if bd.Zone == "" {
		bd.Zone = "ai_research_agent"
	}
	if bd.DiscussionDataset == "" {
		bd.DiscussionDataset = "gd_lvz8ah06191smkebj4"
	}
	if bd.PostsDataset == "" {
		bd.PostsDataset = "gd_lvzdpsdlw09j6t702"
	}
	if bd.Timeout == 0 {
		bd.Timeout = 20000
	}

	ai := &cfg.APIs.GenAI
	if ai.Provider == "" {
		ai.Provider = "openai"
	}
	if ai.Model == "" {
		if ai.Provider == "ollama" {
			ai.Model = "llama3.1"
		} else {
			ai.Model = "gpt-4o"
		}
	}
	if ai.BaseURL == "" && ai.Provider == "openai" {
		ai.BaseURL = "https://api.openai.com/v1"
	}
	if ai.Timeout == 0 {
		ai.Timeout = 60000
	}
	if ai.MaxTokens == 0 {
		ai.MaxTokens = 1200
	}

	p := &cfg.Pipeline
	if p.Workers == 0 {
		p.Workers = 3
	}
	if p.BatchDeadline == 0 {
		p.BatchDeadline = 25000
	}
	if p.SearchTimeout == 0 {
		p.SearchTimeout = 15000
	}
	if p.DiscussionTimeout == 0 {
		p.DiscussionTimeout = 20000
	}
	if p.RetrievalTimeout == 0 {
		p.RetrievalTimeout = 15000
	}
	if p.PollInterval == 0 {
		p.PollInterval = 2000
	}
	if p.MaxSelectedURLs == 0 {
		p.MaxSelectedURLs = 3
	}
	if p.SelectionTimeout == 0 {
		p.SelectionTimeout = 20000
	}
	if p.AnalysisTimeout == 0 {
		p.AnalysisTimeout = 25000
	}
	if p.SynthesisTimeout == 0 {
		p.SynthesisTimeout = 45000
	}
	if p.HistorySize == 0 {
		p.HistorySize = 20
	}

	if cfg.Database.Redis.LedgerTTL == 0 {
		cfg.Database.Redis.LedgerTTL = 3600000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.File.Path == "" {
		cfg.Logging.File.Path = "logs/research-agent.log"
	}
	if cfg.Logging.File.MaxSizeMB == 0 {
		cfg.Logging.File.MaxSizeMB = 15
	}
	if cfg.Logging.File.MaxBackups == 0 {
		cfg.Logging.File.MaxBackups = 3
	}
	if cfg.Logging.File.MaxAgeDays == 0 {
		cfg.Logging.File.MaxAgeDays = 28
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}
	if cfg.Observability.MetricsPort == 0 {
		cfg.Observability.MetricsPort = 8080
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Workers == nil {
		cfg.Workers = map[string]WorkerConfig{}
	}
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 60000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 1
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.APIs.GenAI.Provider {
	case "openai":
		if cfg.APIs.GenAI.APIKey == "" {
			return fmt.Errorf("apis.genai.api_key (or OPENAI_API_KEY) is required for provider openai")
		}
	case "ollama":
	default:
		return fmt.Errorf("apis.genai.provider must be openai or ollama, got %q", cfg.APIs.GenAI.Provider)
	}

	if cfg.APIs.BrightData.APIKey == "" {
		return fmt.Errorf("apis.brightdata.api_key (or BRIGHTDATA_API_KEY) is required")
	}

	p := cfg.Pipeline
	if p.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if p.PollInterval <= 0 || p.PollInterval > p.DiscussionTimeout || p.PollInterval > p.RetrievalTimeout {
		return fmt.Errorf("pipeline.poll_interval must be positive and shorter than the extraction budgets")
	}
	if p.MaxSelectedURLs < 1 || p.MaxSelectedURLs > 3 {
		return fmt.Errorf("pipeline.max_selected_urls must be between 1 and 3")
	}

	return nil
}

// ValidateCamunda checks the settings only the workflow worker needs.
func ValidateCamunda(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	return nil
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       60000,
		MaxRetries:    1,
	}
}
