package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/extraction"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// StatusView is the caller-facing state of a task.
type StatusView struct {
	TaskID      string                  `json:"taskId"`
	Kind        model.TaskKind          `json:"kind"`
	State       model.TaskState         `json:"state"`
	Status      string                  `json:"status"`
	Document    *model.DocumentResult   `json:"result,omitempty"`
	Extraction  *model.ExtractionResult `json:"extraction,omitempty"`
	Error       *model.TaskError        `json:"error,omitempty"`
	SubmittedAt time.Time               `json:"submittedAt"`
	StartedAt   *time.Time              `json:"startedAt,omitempty"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
	Deadline    *time.Time              `json:"deadline,omitempty"`
}

func viewOf(t *model.Task) *StatusView {
	v := &StatusView{
		TaskID:      t.ID,
		Kind:        t.Kind,
		State:       t.State,
		Status:      t.State.PublicStatus(),
		Error:       t.Error,
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Deadline:    t.Deadline,
	}
	if t.State == model.TaskDone {
		v.Document = t.Document
		v.Extraction = t.Extraction
	}
	return v
}

// Status returns the task's current state. A RUNNING task whose deadline has
// passed without its worker reporting back is failed here with TASK_TIMEOUT.
func (o *Orchestrator) Status(ctx context.Context, id string) (*StatusView, error) {
	task, err := o.deps.Tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.State == model.TaskRunning && task.Deadline != nil && !o.now().Before(*task.Deadline) {
		o.logger.Warn("Task exceeded its deadline without finishing", "task_id", id, "deadline", *task.Deadline)
		failed, err := o.fail(ctx, id, errors.NewTaskTimeoutError(id, o.cfg.TaskTimeout, nil))
		if err != nil {
			return nil, err
		}
		task = failed
	}
	return viewOf(task), nil
}

// Fields returns the field configuration currently in effect.
func (o *Orchestrator) Fields() (*model.FieldConfig, error) {
	if o.deps.Fields == nil {
		return nil, fmt.Errorf("extraction is not configured")
	}
	return o.deps.Fields.Current(), nil
}

// ReplaceFields swaps in a new field list and returns how many fields it has.
// Extraction tasks already running keep the configuration they started with.
func (o *Orchestrator) ReplaceFields(specs []model.FieldSpec) (int, error) {
	if o.deps.Fields == nil {
		return 0, fmt.Errorf("extraction is not configured")
	}
	cfg, err := o.deps.Fields.Replace(specs)
	if err != nil {
		return 0, err
	}
	o.logger.Info("Field configuration replaced", "fields", len(cfg.Fields), "version", cfg.Version)
	return len(cfg.Fields), nil
}

// ReplaceFieldsJSON is ReplaceFields for a raw JSON document.
func (o *Orchestrator) ReplaceFieldsJSON(data []byte) (int, error) {
	if o.deps.Fields == nil {
		return 0, fmt.Errorf("extraction is not configured")
	}
	cfg, err := o.deps.Fields.ReplaceJSON(data)
	if err != nil {
		return 0, err
	}
	o.logger.Info("Field configuration replaced", "fields", len(cfg.Fields), "version", cfg.Version)
	return len(cfg.Fields), nil
}

// ExportCSV writes the fields of a finished extraction task as CSV.
func (o *Orchestrator) ExportCSV(ctx context.Context, taskID string, w io.Writer) error {
	cols, res, err := o.exportable(ctx, taskID)
	if err != nil {
		return err
	}
	return extraction.WriteCSV(w, cols, res)
}

// ExportXLSX writes the fields of a finished extraction task as a workbook.
func (o *Orchestrator) ExportXLSX(ctx context.Context, taskID string, w io.Writer) error {
	cols, res, err := o.exportable(ctx, taskID)
	if err != nil {
		return err
	}
	return extraction.WriteXLSX(w, cols, res)
}

func (o *Orchestrator) exportable(ctx context.Context, taskID string) ([]string, *model.ExtractionResult, error) {
	task, err := o.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Kind != model.TaskKindExtraction || task.State != model.TaskDone || task.Extraction == nil {
		return nil, nil, errors.NewValidationError("task is not a completed extraction task", map[string]interface{}{
			"task_id": taskID,
			"kind":    string(task.Kind),
			"state":   string(task.State),
		})
	}
	var cfg *model.FieldConfig
	if o.deps.Fields != nil {
		cfg = o.deps.Fields.Current()
	}
	return extraction.Columns(cfg, task.Extraction), task.Extraction, nil
}
