package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OCR_ENGINES", "")
	t.Setenv("LLM_PROVIDER", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.TaskTimeout != time.Hour {
		t.Errorf("TaskTimeout = %v, want 1h", cfg.TaskTimeout)
	}
	if cfg.MaxPages != 100 {
		t.Errorf("MaxPages = %d, want 100", cfg.MaxPages)
	}
	if cfg.ConfidenceThreshold != 0.85 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if len(cfg.Engines) != 4 || cfg.Engines[0].Name != "custom_model" || cfg.Engines[0].Weight != 0.5 {
		t.Errorf("Engines = %+v", cfg.Engines)
	}
	if !cfg.DetectStamps || !cfg.DetectTables {
		t.Errorf("detectors should default to enabled")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("TASK_TIMEOUT", "90s")
	t.Setenv("CACHE_TTL", "600")
	t.Setenv("DETECT_HANDWRITING", "false")
	t.Setenv("OCR_ENGINES", "tesseract:0.7, google_vision")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TaskTimeout != 90*time.Second {
		t.Errorf("TaskTimeout = %v", cfg.TaskTimeout)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.DetectHandwriting {
		t.Errorf("DetectHandwriting should be disabled")
	}
	want := []EngineSpec{{"tesseract", 0.7}, {"google_vision", 1}}
	if len(cfg.Engines) != len(want) || cfg.Engines[0] != want[0] || cfg.Engines[1] != want[1] {
		t.Errorf("Engines = %+v, want %+v", cfg.Engines, want)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			QueueBackend:        "local",
			CacheBackend:        "memory",
			WorkerConcurrency:   4,
			PageConcurrency:     4,
			MaxFileSize:         1 << 20,
			MaxPages:            100,
			TaskTimeout:         time.Hour,
			EngineTimeout:       time.Minute,
			ConfidenceThreshold: 0.85,
			MinImageDimension:   1000,
			MaxImageDimension:   4000,
			Engines:             []EngineSpec{{"tesseract", 1}},
			LLMProvider:         "none",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown queue", func(c *Config) { c.QueueBackend = "kafka" }, true},
		{"bolt without path", func(c *Config) { c.CacheBackend = "bolt"; c.CachePath = "" }, true},
		{"zero workers", func(c *Config) { c.WorkerConcurrency = 0 }, true},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }, true},
		{"no engines", func(c *Config) { c.Engines = nil }, true},
		{"openai without key", func(c *Config) { c.LLMProvider = "openai" }, true},
		{"inverted dimensions", func(c *Config) { c.MaxImageDimension = 10 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseEnginesRejectsBadInput(t *testing.T) {
	for _, raw := range []string{"tesseract:abc", "tesseract:-1", "tesseract,tesseract"} {
		if _, err := ParseEngines(raw); err == nil {
			t.Errorf("ParseEngines(%q) should fail", raw)
		}
	}
}
