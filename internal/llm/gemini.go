package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

const defaultGeminiModel = "gemini-1.5-flash"

// Gemini implements Completer with Google Gemini.
type Gemini struct {
	client    *genai.Client
	modelName string
	log       *logging.Logger
}

// NewGemini creates a Gemini completer.
func NewGemini(ctx context.Context, apiKey, modelName string, logger *logging.Logger, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if logger == nil {
		logger = logging.Discard()
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, modelName: modelName, log: logger}, nil
}

// Complete generates a JSON reply for req.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	// GenerativeModel carries per-call settings, so build one per request.
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	g.log.Debug("llm.complete.ok", "model", g.modelName, "elapsed_ms", time.Since(start).Milliseconds())
	return StripFences(text), nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return out, nil
}
