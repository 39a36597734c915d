/**
 * Configuration for the OCR consensus worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineSpec is one entry of OCR_ENGINES. Its position in the list is its priority.
type EngineSpec struct {
	Name   string
	Weight float64
}

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue and cache)
	RedisURL string

	// PostgreSQL configuration; empty keeps task records in memory
	DatabaseURL string

	// Queue configuration
	QueueBackend      string
	QueueName         string
	WorkerConcurrency int

	// Result cache configuration
	CacheBackend string
	CachePath    string
	CacheTTL     time.Duration

	// Task and document limits
	TaskTimeout     time.Duration
	MaxFileSize     int64
	MaxPages        int
	PageConcurrency int
	RenderDPI       float64

	// Preprocessing
	MinImageDimension int
	MaxImageDimension int
	CheckOrientation  bool

	// Ensemble
	Engines             []EngineSpec
	EngineTimeout       time.Duration
	ConfidenceThreshold float64
	DefaultLanguage     string

	// Engine providers
	TesseractLanguages  string
	CustomModelURL      string
	GoogleVisionAPIKey  string
	GoogleCredentials   string
	AzureFormEndpoint   string
	AzureFormKey        string
	AzureFormAPIVersion string

	// Special-item detectors
	DetectStamps        bool
	DetectHandwriting   bool
	DetectTables        bool
	DetectStrikethrough bool

	// LLM fallback for extraction
	LLMProvider    string
	LLMModel       string
	LLMBaseURL     string
	OpenAIAPIKey   string
	GeminiAPIKey   string
	LLMMaxTokens   int
	LLMTemperature float64
	FieldsFile     string
}

// DefaultEngines is the ensemble used when OCR_ENGINES is unset.
const DefaultEngines = "custom_model:0.5,tesseract:0.2,google_vision:0.2,azure_form:0.1"

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	engines, err := ParseEngines(getEnvOrDefault("OCR_ENGINES", DefaultEngines))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		QueueBackend:        getEnvOrDefault("QUEUE_BACKEND", "local"),
		QueueName:           getEnvOrDefault("QUEUE_NAME", "ocr:tasks"),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		CacheBackend:        getEnvOrDefault("CACHE_BACKEND", "memory"),
		CachePath:           getEnvOrDefault("CACHE_PATH", "./ocr-cache.db"),
		CacheTTL:            getEnvAsDurationOrDefault("CACHE_TTL", time.Hour),
		TaskTimeout:         getEnvAsDurationOrDefault("TASK_TIMEOUT", time.Hour),
		MaxFileSize:         getEnvAsInt64OrDefault("MAX_FILE_SIZE", 20*1024*1024), // 20MB
		MaxPages:            getEnvAsIntOrDefault("MAX_PAGES", 100),
		PageConcurrency:     getEnvAsIntOrDefault("PAGE_CONCURRENCY", 4),
		RenderDPI:           getEnvAsFloatOrDefault("RENDER_DPI", 200),
		MinImageDimension:   getEnvAsIntOrDefault("MIN_IMAGE_DIMENSION", 1000),
		MaxImageDimension:   getEnvAsIntOrDefault("MAX_IMAGE_DIMENSION", 4000),
		CheckOrientation:    getEnvAsBoolOrDefault("CHECK_ORIENTATION", true),
		Engines:             engines,
		EngineTimeout:       getEnvAsDurationOrDefault("ENGINE_TIMEOUT", 60*time.Second),
		ConfidenceThreshold: getEnvAsFloatOrDefault("CONFIDENCE_THRESHOLD", 0.85),
		DefaultLanguage:     getEnvOrDefault("DEFAULT_LANGUAGE", "jpn"),
		TesseractLanguages:  getEnvOrDefault("TESSERACT_LANGUAGES", "jpn+eng+kor"),
		CustomModelURL:      getEnvOrDefault("CUSTOM_MODEL_URL", ""),
		GoogleVisionAPIKey:  getEnvOrDefault("GOOGLE_VISION_API_KEY", ""),
		GoogleCredentials:   getEnvOrDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),
		AzureFormEndpoint:   getEnvOrDefault("AZURE_FORM_ENDPOINT", ""),
		AzureFormKey:        getEnvOrDefault("AZURE_FORM_KEY", ""),
		AzureFormAPIVersion: getEnvOrDefault("AZURE_FORM_API_VERSION", "2023-07-31"),
		DetectStamps:        getEnvAsBoolOrDefault("DETECT_STAMPS", true),
		DetectHandwriting:   getEnvAsBoolOrDefault("DETECT_HANDWRITING", true),
		DetectTables:        getEnvAsBoolOrDefault("DETECT_TABLES", true),
		DetectStrikethrough: getEnvAsBoolOrDefault("DETECT_STRIKETHROUGH", true),
		LLMProvider:         getEnvOrDefault("LLM_PROVIDER", "none"),
		LLMModel:            getEnvOrDefault("LLM_MODEL", ""),
		LLMBaseURL:          getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:        getEnvOrDefault("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnvOrDefault("GEMINI_API_KEY", ""),
		LLMMaxTokens:        getEnvAsIntOrDefault("LLM_MAX_TOKENS", 512),
		LLMTemperature:      getEnvAsFloatOrDefault("LLM_TEMPERATURE", 0.1),
		FieldsFile:          getEnvOrDefault("FIELDS_FILE", "./fields.json"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case "local":
	case "asynq", "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s queue backend", c.QueueBackend)
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be local, asynq or redis, got %q", c.QueueBackend)
	}

	switch c.CacheBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis cache backend")
		}
	case "bolt":
		if c.CachePath == "" {
			return fmt.Errorf("CACHE_PATH is required for the bolt cache backend")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory, redis or bolt, got %q", c.CacheBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.PageConcurrency < 1 || c.PageConcurrency > 64 {
		return fmt.Errorf("PAGE_CONCURRENCY must be between 1 and 64, got %d", c.PageConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.MaxPages < 1 {
		return fmt.Errorf("MAX_PAGES must be positive, got %d", c.MaxPages)
	}

	if c.TaskTimeout <= 0 || c.EngineTimeout <= 0 {
		return fmt.Errorf("TASK_TIMEOUT and ENGINE_TIMEOUT must be positive")
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}

	if c.MinImageDimension < 1 || c.MaxImageDimension < c.MinImageDimension {
		return fmt.Errorf("image dimension bounds are invalid: min=%d max=%d", c.MinImageDimension, c.MaxImageDimension)
	}

	if len(c.Engines) == 0 {
		return fmt.Errorf("OCR_ENGINES must name at least one engine")
	}

	switch c.LLMProvider {
	case "none", "":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for LLM_PROVIDER=openai")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for LLM_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be none, openai or gemini, got %q", c.LLMProvider)
	}

	return nil
}

// ParseEngines parses "name:weight,name:weight". A missing weight means 1.
func ParseEngines(raw string) ([]EngineSpec, error) {
	var specs []EngineSpec
	seen := make(map[string]bool)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, weightStr, hasWeight := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		weight := 1.0
		if hasWeight {
			w, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight for engine %s: %w", name, err)
			}
			weight = w
		}
		if weight < 0 {
			return nil, fmt.Errorf("engine %s has a negative weight", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("engine %s listed twice", name)
		}
		seen[name] = true
		specs = append(specs, EngineSpec{Name: name, Weight: weight})
	}
	return specs, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or plain seconds ("3600").
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
