// Package extraction resolves configured fields from consensus OCR text using
// keyword windows and regexes, with an LLM fallback for the rest.
package extraction

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/llm"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const (
	regexConfidence   = 0.95
	keywordConfidence = 0.6
)

// Config bounds the LLM fallback and field concurrency.
type Config struct {
	MaxTokens       int
	Temperature     float64
	PromptRunes     int
	Concurrency     int
	DefaultLanguage string
}

// Engine extracts FieldSpecs from text. A nil Completer disables the fallback.
type Engine struct {
	cfg       Config
	completer llm.Completer
	schema    *jsonschema.Schema
	logger    *logging.Logger

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// New creates an extraction Engine.
func New(cfg Config, completer llm.Completer, logger *logging.Logger) (*Engine, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.PromptRunes <= 0 {
		cfg.PromptRunes = 6000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.Discard()
	}
	schema, err := compileReplySchema()
	if err != nil {
		return nil, fmt.Errorf("compiling reply schema: %w", err)
	}
	return &Engine{
		cfg:       cfg,
		completer: completer,
		schema:    schema,
		logger:    logger,
		regexes:   make(map[string]*regexp.Regexp),
	}, nil
}

type resolved struct {
	value      string
	confidence float64
	source     model.FieldSource
}

// Extract resolves every field of fields against text. Fields that cannot be
// resolved are left out of the result. Only a cancelled ctx fails the call.
func (e *Engine) Extract(ctx context.Context, text string, fields *model.FieldConfig, languageHint string) (*model.ExtractionResult, error) {
	start := time.Now()
	if fields == nil {
		fields = &model.FieldConfig{}
	}

	language := languageHint
	if language == "" {
		language = model.GuessLanguage(text)
	}
	if language == "" {
		language = e.cfg.DefaultLanguage
	}

	result := &model.ExtractionResult{
		Fields:        make(map[string]string, len(fields.Fields)),
		Confidence:    make(map[string]float64, len(fields.Fields)),
		Sources:       make(map[string]model.FieldSource, len(fields.Fields)),
		Language:      language,
		ConfigVersion: fields.Version,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, spec := range fields.Fields {
		spec := spec
		g.Go(func() error {
			r, ok := e.resolve(gctx, text, spec, language)
			if !ok {
				return nil
			}
			mu.Lock()
			result.Fields[spec.Name] = r.value
			result.Confidence[spec.Name] = r.confidence
			result.Sources[spec.Name] = r.source
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.ProcessingTimeMs = model.Elapsed(start)
	e.logger.Info("Extraction complete",
		"fields", len(fields.Fields),
		"found", len(result.Fields),
		"config_version", fields.Version,
		"duration_ms", result.ProcessingTimeMs,
	)
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, text string, spec model.FieldSpec, language string) (resolved, bool) {
	var windows []window
	if len(spec.Context) > 0 {
		windows = keywordWindows(text, spec.Context)
	} else {
		windows = []window{{text: text}}
	}

	if spec.Regex != "" {
		re, err := e.regex(spec.Regex)
		if err != nil {
			e.logger.Warn("Skipping invalid field regex", "field", spec.Name, "error", err)
		} else {
			var candidates []string
			for _, w := range windows {
				if v, ok := regexValue(re, w.text); ok {
					candidates = append(candidates, v)
				}
			}
			candidates = distinct(candidates)
			switch {
			case len(candidates) == 1:
				return resolved{value: candidates[0], confidence: regexConfidence, source: model.SourceRegex}, true
			case len(candidates) > 1:
				if r, ok := e.ask(ctx, text, spec, language, candidates); ok {
					return r, true
				}
				return resolved{value: candidates[0], confidence: regexConfidence, source: model.SourceRegex}, true
			}
			return e.ask(ctx, text, spec, language, nil)
		}
	}

	var candidates []string
	for _, w := range windows {
		if w.keyword == "" {
			continue
		}
		if v, ok := keywordValue(w); ok {
			candidates = append(candidates, v)
		}
	}
	candidates = distinct(candidates)
	if len(candidates) == 1 {
		return resolved{value: candidates[0], confidence: keywordConfidence, source: model.SourceKeyword}, true
	}
	return e.ask(ctx, text, spec, language, candidates)
}

// ask consults the LLM. Failures are logged and reported as not found.
func (e *Engine) ask(ctx context.Context, text string, spec model.FieldSpec, language string, candidates []string) (resolved, bool) {
	if e.completer == nil {
		return resolved{}, false
	}
	p := prompt{spec: spec, language: language, text: text, candidates: candidates}
	raw, err := e.completer.Complete(ctx, llm.Request{
		Prompt:      p.render(e.cfg.PromptRunes),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		e.logger.Warn("LLM fallback failed", "error", errors.NewLLMFailedError(spec.Name, err))
		return resolved{}, false
	}
	value, confidence, ok, err := parseReply(e.schema, raw)
	if err != nil {
		e.logger.Warn("LLM reply rejected", "error", errors.NewLLMFailedError(spec.Name, err))
		return resolved{}, false
	}
	if !ok {
		return resolved{}, false
	}
	return resolved{value: value, confidence: confidence, source: model.SourceLLM}, true
}

func (e *Engine) regex(pattern string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.regexes[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexes[pattern] = re
	return re, nil
}
