package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/postprocess"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/queue"
)

// errNotRunnable aborts a state update when the task has moved on.
var errNotRunnable = stderrors.New("task is not in the expected state")

type outcome struct {
	document   *model.DocumentResult
	extraction *model.ExtractionResult
	err        error
}

// Handle runs one queued job to completion. The task deadline is armed when
// it moves to RUNNING; once it passes the task is failed and the pipeline's
// late result, if any, is discarded.
func (o *Orchestrator) Handle(ctx context.Context, job queue.Job) error {
	started := o.now().UTC()
	deadline := started.Add(o.cfg.TaskTimeout)

	task, err := o.deps.Tasks.Update(ctx, job.TaskID, func(t *model.Task) error {
		if t.State != model.TaskQueued {
			return errNotRunnable
		}
		if err := t.Transition(model.TaskRunning, started); err != nil {
			return err
		}
		t.Deadline = &deadline
		return nil
	})
	if stderrors.Is(err, errNotRunnable) {
		o.logger.Debug("Skipping job for task that is not queued", "task_id", job.TaskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start task %s: %w", job.TaskID, err)
	}

	log := o.logger.With("task_id", task.ID, "kind", string(task.Kind))
	log.Info("Task started", "deadline", deadline)

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("pipeline panicked: %v", r)}
			}
		}()
		switch task.Kind {
		case model.TaskKindExtraction:
			res, err := o.runExtraction(runCtx, task)
			done <- outcome{extraction: res, err: err}
		default:
			res, err := o.runOCR(runCtx, task, job.Data)
			done <- outcome{document: res, err: err}
		}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		// engines that ignore ctx are abandoned here
		out.err = runCtx.Err()
	}

	if out.err != nil {
		cause := out.err
		switch {
		case ctx.Err() != nil:
			cause = errors.NewTaskCancelledError(task.ID, out.err)
		case stderrors.Is(runCtx.Err(), context.DeadlineExceeded):
			cause = errors.NewTaskTimeoutError(task.ID, o.cfg.TaskTimeout, out.err)
		}
		log.Error("Task failed", "error", cause)
		if _, err := o.fail(ctx, task.ID, cause); err != nil {
			return err
		}
		return cause
	}

	return o.finish(ctx, task, out, log)
}

// finish records a successful outcome and publishes OCR results to the cache.
func (o *Orchestrator) finish(ctx context.Context, task *model.Task, out outcome, log *logging.Logger) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	_, err := o.deps.Tasks.Update(pctx, task.ID, func(t *model.Task) error {
		if t.State != model.TaskRunning {
			return errNotRunnable
		}
		if err := t.Transition(model.TaskDone, o.now().UTC()); err != nil {
			return err
		}
		t.Document = out.document
		t.Extraction = out.extraction
		return nil
	})
	if stderrors.Is(err, errNotRunnable) {
		log.Warn("Task was already finished, discarding result")
		return nil
	}
	if err != nil {
		cause := errors.NewStorageFailedError(task.ID, err)
		if _, ferr := o.fail(ctx, task.ID, cause); ferr != nil {
			return ferr
		}
		return cause
	}

	if out.document != nil && task.Fingerprint != "" {
		if err := o.deps.Cache.Complete(pctx, task.Fingerprint, task.ID, out.document); err != nil {
			log.Warn("Failed to cache result", "error", err)
			o.release(task)
		}
	}
	log.Info("Task completed")
	return nil
}

// fail moves the task to FAILED with cause and drops its cache claim. The
// update runs even when ctx is already cancelled.
// Abandon fails a queued task whose job the queue dropped while stopping.
func (o *Orchestrator) Abandon(ctx context.Context, job queue.Job) error {
	task, err := o.fail(ctx, job.TaskID, errors.NewTaskCancelledError(job.TaskID, fmt.Errorf("queue stopped before the task started")))
	if err != nil {
		return err
	}
	o.logger.Warn("Queued task abandoned", "task_id", job.TaskID, "state", string(task.State))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, id string, cause error) (*model.Task, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	task, err := o.deps.Tasks.Update(pctx, id, func(t *model.Task) error {
		if t.State.Terminal() {
			return errNotRunnable
		}
		if err := t.Transition(model.TaskFailed, o.now().UTC()); err != nil {
			return err
		}
		t.Error = taskError(cause)
		return nil
	})
	if stderrors.Is(err, errNotRunnable) {
		return o.deps.Tasks.Get(pctx, id)
	}
	if err != nil {
		return nil, errors.NewStorageFailedError(id, err)
	}
	o.release(task)
	return task, nil
}

func (o *Orchestrator) runOCR(ctx context.Context, task *model.Task, data []byte) (*model.DocumentResult, error) {
	start := time.Now()
	doc, err := o.deps.Preprocessor.Open(data, task.Options.OrientationEnabled())
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := make([]model.PageResult, doc.PageCount)
	var g errgroup.Group
	g.SetLimit(o.cfg.PageConcurrency)
	for i := range pages {
		g.Go(func() error {
			pages[i] = o.recognizePage(ctx, doc, i, task.Options)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return assemble(task, pages, start)
}

// recognizePage never fails; a page that cannot be read is returned with
// status failed.
func (o *Orchestrator) recognizePage(ctx context.Context, doc *preprocess.Document, i int, opts model.Options) model.PageResult {
	img := doc.Page(ctx, i)
	if img.Err != nil {
		err := errors.NewPageFailedError(img.PageNumber, img.Err)
		o.logger.Warn("Page preprocessing failed", "page", img.PageNumber, "error", img.Err)
		return model.PageResult{
			PageNumber:    img.PageNumber,
			Status:        model.PageFailed,
			Orientation:   img.Orientation,
			EngineResults: map[string]model.EngineResult{},
			Error:         err.Error(),
		}
	}

	res, err := o.deps.Recognizer.Recognize(ctx, img, opts.Language)
	if res == nil {
		res = &model.PageResult{PageNumber: img.PageNumber, Orientation: img.Orientation}
	}
	if err != nil {
		res.Status = model.PageFailed
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	if opts.ReturnImages && res.Status == model.PageSuccess {
		res.Image = img.PNG
	}
	return *res
}

// assemble builds the DocumentResult from pages in input order. Failed pages
// stay in the list but add nothing to text or confidence.
func assemble(task *model.Task, pages []model.PageResult, start time.Time) (*model.DocumentResult, error) {
	doc := &model.DocumentResult{Pages: pages, PageCount: len(pages)}

	var (
		texts []string
		sum   float64
		votes = map[string]int{}
		order []string
	)
	for _, p := range pages {
		if p.Status != model.PageSuccess {
			doc.FailedPages++
			continue
		}
		texts = append(texts, p.Text)
		sum += p.Confidence
		if p.Language != "" {
			if votes[p.Language] == 0 {
				order = append(order, p.Language)
			}
			votes[p.Language]++
		}
	}
	if len(texts) == 0 {
		return nil, errors.NewNoUsablePagesError(task.ID, len(pages))
	}

	doc.Text = strings.Join(texts, "\n\n")
	doc.Confidence = sum / float64(len(texts))
	doc.Language = task.Options.Language
	if doc.Language == "" {
		// most frequent page language, earliest page wins a tie
		best := 0
		for _, lang := range order {
			if votes[lang] > best {
				doc.Language, best = lang, votes[lang]
			}
		}
	}
	if task.Options.ExtractEntities {
		doc.Entities = postprocess.ExtractEntities(doc.Text, doc.Language)
	}
	doc.ProcessingTimeMs = model.Elapsed(start)
	return doc, nil
}

func (o *Orchestrator) runExtraction(ctx context.Context, task *model.Task) (*model.ExtractionResult, error) {
	if o.deps.Extractor == nil || o.deps.Fields == nil {
		return nil, fmt.Errorf("extraction is not configured")
	}
	source, err := o.deps.Tasks.Get(ctx, task.SourceTaskID)
	if err != nil {
		return nil, errors.NewStorageFailedError(task.ID, fmt.Errorf("loading source task %s: %w", task.SourceTaskID, err))
	}
	if source.Document == nil {
		return nil, errors.NewValidationError("source task has no document result", map[string]interface{}{
			"source_task_id": task.SourceTaskID,
		})
	}

	language := task.Options.Language
	if language == "" {
		language = source.Document.Language
	}
	fields := o.deps.Fields.Current()
	return o.deps.Extractor.Extract(ctx, source.Document.Text, fields, language)
}

var (
	_ queue.Handler   = (*Orchestrator)(nil)
	_ queue.Abandoner = (*Orchestrator)(nil)
)
