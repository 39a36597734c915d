// Package ensemble runs every enabled OCR engine on a page and picks the
// consensus text, confidence and language.
package ensemble

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/engine"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// Annotator adds special-item flags to a recognized page.
type Annotator interface {
	Annotate(ctx context.Context, page model.PageImage, text string) model.SpecialItems
}

// Config controls the vote.
type Config struct {
	EngineTimeout       time.Duration
	ConfidenceThreshold float64
	DefaultLanguage     string
}

// Ensemble fans a page out to its members and combines their answers.
type Ensemble struct {
	members   []engine.Weighted
	cfg       Config
	annotator Annotator
	logger    *logging.Logger
}

// New creates an Ensemble. members are in priority order; that order breaks ties.
func New(members []engine.Weighted, cfg Config, annotator Annotator, logger *logging.Logger) *Ensemble {
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Ensemble{members: members, cfg: cfg, annotator: annotator, logger: logger}
}

// Engines returns the member names in priority order.
func (e *Ensemble) Engines() []string {
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = m.Engine.Name()
	}
	return names
}

type outcome struct {
	idx    int
	result *model.EngineResult
}

// Recognize runs all engines on page and returns the consensus PageResult.
// A page where no engine produced usable text comes back with status failed
// and a PAGE_FAILED error; the error is also returned.
func (e *Ensemble) Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.PageResult, error) {
	result := &model.PageResult{
		PageNumber:    page.PageNumber,
		Orientation:   page.Orientation,
		EngineResults: make(map[string]model.EngineResult, len(e.members)),
	}

	results := e.fanOut(ctx, page, languageHint)
	for i, r := range results {
		result.EngineResults[e.members[i].Engine.Name()] = *r
	}

	decision, ok := decide(e.members, results, e.cfg.ConfidenceThreshold)
	if !ok {
		err := errors.NewPageFailedError(page.PageNumber, fmt.Errorf("no engine returned usable text"))
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.NewPageFailedError(page.PageNumber, ctxErr)
		}
		result.Status = model.PageFailed
		result.Error = err.Error()
		e.logger.Warn("Page failed: no usable engine results", "page", page.PageNumber)
		return result, err
	}

	result.Status = model.PageSuccess
	result.Text = decision.text
	result.Confidence = decision.confidence
	result.ConsensusEngine = decision.engine
	result.BelowThreshold = decision.belowThreshold
	result.Language = resolveLanguage(results, languageHint, e.cfg.DefaultLanguage)

	if decision.belowThreshold {
		e.logger.Warn("No engine cleared the confidence threshold",
			"page", page.PageNumber,
			"engine", decision.engine,
			"confidence", decision.confidence,
			"threshold", e.cfg.ConfidenceThreshold)
	}

	if e.annotator != nil {
		result.SpecialItems = e.annotator.Annotate(ctx, page, result.Text)
	}
	return result, nil
}

// fanOut calls every engine concurrently and waits at most EngineTimeout.
// Engines that have not answered by then are recorded as timed out and their
// late answers are dropped.
func (e *Ensemble) fanOut(ctx context.Context, page model.PageImage, languageHint string) []*model.EngineResult {
	results := make([]*model.EngineResult, len(e.members))
	done := make(chan outcome, len(e.members))

	for i, m := range e.members {
		go func(idx int, eng engine.Engine) {
			done <- outcome{idx: idx, result: e.runEngine(ctx, eng, page, languageHint)}
		}(i, m.Engine)
	}

	timer := time.NewTimer(e.cfg.EngineTimeout)
	defer timer.Stop()

	pending := len(e.members)
wait:
	for pending > 0 {
		select {
		case o := <-done:
			results[o.idx] = o.result
			pending--
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	for i, r := range results {
		if r != nil {
			continue
		}
		name := e.members[i].Engine.Name()
		cause := ctx.Err()
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		err := errors.NewEngineError(name, true, cause)
		results[i] = &model.EngineResult{
			Engine:       name,
			Error:        err.Error(),
			ProcessingMs: e.cfg.EngineTimeout.Milliseconds(),
		}
		e.logger.Warn("Engine abandoned", "engine", name, "page", page.PageNumber)
	}
	return results
}

func (e *Ensemble) runEngine(ctx context.Context, eng engine.Engine, page model.PageImage, languageHint string) (res *model.EngineResult) {
	name := eng.Name()
	start := time.Now()
	ectx, cancel := context.WithTimeout(ctx, e.cfg.EngineTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err := errors.NewEngineError(name, false, fmt.Errorf("panic: %v", r))
			res = &model.EngineResult{Engine: name, Error: err.Error(), ProcessingMs: model.Elapsed(start)}
		}
	}()

	out, err := eng.Recognize(ectx, page, languageHint)
	if err == nil && out == nil {
		err = fmt.Errorf("engine returned no result")
	}
	if err != nil {
		timedOut := ectx.Err() == context.DeadlineExceeded
		perr := errors.NewEngineError(name, timedOut, err)
		e.logger.Warn("Engine failed", "engine", name, "page", page.PageNumber, "error", err)
		return &model.EngineResult{Engine: name, Error: perr.Error(), ProcessingMs: model.Elapsed(start)}
	}

	out.Engine = name
	if out.ProcessingMs == 0 {
		out.ProcessingMs = model.Elapsed(start)
	}
	e.logger.Debug("Engine finished", "engine", name, "page", page.PageNumber, "confidence", out.Confidence)
	return out
}
