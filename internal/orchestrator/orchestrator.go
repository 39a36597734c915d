// Package orchestrator owns the task lifecycle: submission, dispatch to the
// OCR and extraction pipelines, deadlines, caching and status queries.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/cache"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/queue"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/storage"
)

// Recognizer produces the consensus result for one page.
type Recognizer interface {
	Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.PageResult, error)
}

// Extractor resolves fields from document text.
type Extractor interface {
	Extract(ctx context.Context, text string, fields *model.FieldConfig, languageHint string) (*model.ExtractionResult, error)
}

// FieldRegistry holds the versioned field configuration.
type FieldRegistry interface {
	Current() *model.FieldConfig
	Replace(specs []model.FieldSpec) (*model.FieldConfig, error)
	ReplaceJSON(data []byte) (*model.FieldConfig, error)
}

// Config holds the orchestrator's limits.
type Config struct {
	TaskTimeout     time.Duration
	MaxFileSize     int64
	PageConcurrency int
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Tasks        storage.TaskStore
	Cache        cache.Store
	Queue        queue.Dispatcher
	Preprocessor *preprocess.Preprocessor
	Recognizer   Recognizer
	Extractor    Extractor
	Fields       FieldRegistry
}

// Orchestrator accepts work and runs it when the queue hands it back.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *logging.Logger
	now    func() time.Time
}

// New creates an Orchestrator. Register it with the queue via Start.
func New(cfg Config, deps Deps, logger *logging.Logger) (*Orchestrator, error) {
	switch {
	case deps.Tasks == nil:
		return nil, fmt.Errorf("task store is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("cache is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Preprocessor == nil:
		return nil, fmt.Errorf("preprocessor is required")
	case deps.Recognizer == nil:
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Hour
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 4
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger, now: time.Now}, nil
}

// Start begins consuming jobs.
func (o *Orchestrator) Start() error {
	return o.deps.Queue.Start(o)
}

// Submission is returned to the caller of Submit.
type Submission struct {
	TaskID string          `json:"taskId"`
	State  model.TaskState `json:"state"`
	Status string          `json:"status"`
	// Cached is set when a finished result for the same input was reused.
	Cached bool `json:"cached,omitempty"`
	// Coalesced is set when the request joined a task already in flight.
	Coalesced bool `json:"coalesced,omitempty"`
}

func submission(t *model.Task) *Submission {
	return &Submission{TaskID: t.ID, State: t.State, Status: t.State.PublicStatus()}
}

// Submit validates data and either answers from the cache, joins the task
// already processing the same input, or queues a new OCR task. Validation
// failures are returned as errors and nothing is queued.
func (o *Orchestrator) Submit(ctx context.Context, data []byte, opts model.Options) (*Submission, error) {
	if len(data) == 0 {
		return nil, errors.NewValidationError("document is empty", nil)
	}
	if o.cfg.MaxFileSize > 0 && int64(len(data)) > o.cfg.MaxFileSize {
		return nil, errors.NewFileTooLargeError(int64(len(data)), o.cfg.MaxFileSize)
	}
	if opts.Language != "" {
		lang, ok := model.NormalizeLanguage(opts.Language)
		if !ok {
			return nil, errors.NewValidationError("unsupported language", map[string]interface{}{"language": opts.Language})
		}
		opts.Language = lang
	}
	format, pages, err := o.deps.Preprocessor.Inspect(data)
	if err != nil {
		return nil, err
	}

	fp := cache.Fingerprint(data, opts)
	now := o.now().UTC()
	task := &model.Task{
		ID:          uuid.New().String(),
		Kind:        model.TaskKindOCR,
		State:       model.TaskQueued,
		Fingerprint: fp,
		Options:     opts,
		SubmittedAt: now,
	}
	log := o.logger.With("task_id", task.ID, "fingerprint", fp[:12])

	existing, claimed, err := o.deps.Cache.Claim(ctx, fp, task.ID, opts.UseCache)
	if err != nil {
		if errors.CodeOf(err) != errors.ErrorCacheCorrupted {
			err = errors.NewStorageFailedError(task.ID, err)
		}
		log.Error("Cache claim failed", "error", err)
		return o.createFailed(ctx, task, err)
	}

	if !claimed {
		switch existing.State {
		case cache.StateDone:
			task.State = model.TaskDone
			task.StartedAt = &now
			task.CompletedAt = &now
			task.Document = existing.Result
			if err := o.deps.Tasks.Create(ctx, task); err != nil {
				return nil, errors.NewStorageFailedError(task.ID, err)
			}
			log.Info("Served from cache", "source_task_id", existing.TaskID)
			s := submission(task)
			s.Cached = true
			return s, nil
		default:
			log.Info("Joined in-flight task", "owner_task_id", existing.TaskID)
			s := &Submission{TaskID: existing.TaskID, State: model.TaskQueued, Status: model.TaskQueued.PublicStatus(), Coalesced: true}
			if owner, err := o.deps.Tasks.Get(ctx, existing.TaskID); err == nil {
				s.State, s.Status = owner.State, owner.State.PublicStatus()
			}
			return s, nil
		}
	}

	if err := o.deps.Tasks.Create(ctx, task); err != nil {
		o.release(task)
		return nil, errors.NewStorageFailedError(task.ID, err)
	}
	if err := o.deps.Queue.Enqueue(ctx, queue.Job{TaskID: task.ID, Kind: model.TaskKindOCR, Data: data}); err != nil {
		log.Error("Enqueue failed", "error", err)
		failed, ferr := o.fail(ctx, task.ID, errors.NewStorageFailedError(task.ID, fmt.Errorf("enqueue: %w", err)))
		if ferr != nil {
			return nil, ferr
		}
		return submission(failed), nil
	}

	log.Info("OCR task queued", "format", format, "pages", pages)
	return submission(task), nil
}

// SubmitExtraction queues field extraction over the text of a finished OCR
// task. language overrides the source document's language when set.
func (o *Orchestrator) SubmitExtraction(ctx context.Context, sourceTaskID, language string) (*Submission, error) {
	if o.deps.Extractor == nil || o.deps.Fields == nil {
		return nil, fmt.Errorf("extraction is not configured")
	}
	source, err := o.deps.Tasks.Get(ctx, sourceTaskID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewValidationError("source task not found", map[string]interface{}{"source_task_id": sourceTaskID})
		}
		return nil, errors.NewStorageFailedError(sourceTaskID, err)
	}
	if source.Kind != model.TaskKindOCR || source.State != model.TaskDone || source.Document == nil {
		return nil, errors.NewValidationError("source task must be a completed OCR task", map[string]interface{}{
			"source_task_id": sourceTaskID,
			"kind":           string(source.Kind),
			"state":          string(source.State),
		})
	}
	if language != "" {
		lang, ok := model.NormalizeLanguage(language)
		if !ok {
			return nil, errors.NewValidationError("unsupported language", map[string]interface{}{"language": language})
		}
		language = lang
	}

	task := &model.Task{
		ID:           uuid.New().String(),
		Kind:         model.TaskKindExtraction,
		State:        model.TaskQueued,
		SourceTaskID: sourceTaskID,
		Options:      model.Options{Language: language},
		SubmittedAt:  o.now().UTC(),
	}
	if err := o.deps.Tasks.Create(ctx, task); err != nil {
		return nil, errors.NewStorageFailedError(task.ID, err)
	}
	if err := o.deps.Queue.Enqueue(ctx, queue.Job{TaskID: task.ID, Kind: model.TaskKindExtraction}); err != nil {
		failed, ferr := o.fail(ctx, task.ID, errors.NewStorageFailedError(task.ID, fmt.Errorf("enqueue: %w", err)))
		if ferr != nil {
			return nil, ferr
		}
		return submission(failed), nil
	}

	o.logger.Info("Extraction task queued", "task_id", task.ID, "source_task_id", sourceTaskID)
	return submission(task), nil
}

// createFailed records a task that failed before it could be queued.
func (o *Orchestrator) createFailed(ctx context.Context, task *model.Task, cause error) (*Submission, error) {
	now := o.now().UTC()
	task.State = model.TaskFailed
	task.CompletedAt = &now
	task.Error = taskError(cause)
	if err := o.deps.Tasks.Create(ctx, task); err != nil {
		return nil, errors.NewStorageFailedError(task.ID, err)
	}
	return submission(task), nil
}

// release drops the task's cache claim. It runs on a fresh context because
// it is usually called after the task's own context has ended.
func (o *Orchestrator) release(task *model.Task) {
	if task.Fingerprint == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.deps.Cache.Release(ctx, task.Fingerprint, task.ID); err != nil {
		o.logger.Warn("Failed to release cache claim", "task_id", task.ID, "error", err)
	}
}

func taskError(err error) *model.TaskError {
	var pe *errors.ProcessingError
	if errors.As(err, &pe) {
		return &model.TaskError{Code: string(pe.Code), Message: pe.Error(), Details: pe.Details}
	}
	return &model.TaskError{Code: string(errors.ErrorInternal), Message: err.Error()}
}
