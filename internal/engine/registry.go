package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

// Weighted pairs an engine with its vote weight. Slices of Weighted are in priority order.
type Weighted struct {
	Engine Engine
	Weight float64
}

// Build instantiates the engines named in cfg.Engines, keeping their order.
// Engines whose provider is not configured are skipped with a warning.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]Weighted, error) {
	var out []Weighted
	for _, spec := range cfg.Engines {
		eng, err := newEngine(ctx, spec.Name, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize engine %s: %w", spec.Name, err)
		}
		if eng == nil {
			logger.Warn("Engine listed but not configured, skipping", "engine", spec.Name)
			continue
		}
		out = append(out, Weighted{Engine: eng, Weight: spec.Weight})
		logger.Info("Engine enabled", "engine", spec.Name, "weight", spec.Weight)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no OCR engine could be enabled")
	}
	return out, nil
}

func newEngine(ctx context.Context, name string, cfg *config.Config) (Engine, error) {
	switch name {
	case NameTesseract:
		return NewTesseract(&TesseractConfig{Languages: cfg.TesseractLanguages, DPI: cfg.RenderDPI}), nil

	case NameCustomModel:
		if cfg.CustomModelURL == "" {
			return nil, nil
		}
		return NewCustomModel(cfg.CustomModelURL, nil), nil

	case NameGoogleVision:
		if cfg.GoogleVisionAPIKey == "" && cfg.GoogleCredentials == "" {
			return nil, nil
		}
		return NewGoogleVision(ctx, &GoogleVisionConfig{
			APIKey:          cfg.GoogleVisionAPIKey,
			CredentialsFile: cfg.GoogleCredentials,
		})

	case NameAzureForm:
		if cfg.AzureFormEndpoint == "" || cfg.AzureFormKey == "" {
			return nil, nil
		}
		return NewAzureForm(&AzureFormConfig{
			Endpoint:     cfg.AzureFormEndpoint,
			APIKey:       cfg.AzureFormKey,
			APIVersion:   cfg.AzureFormAPIVersion,
			PollInterval: time.Second,
		}), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}
