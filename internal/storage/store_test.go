package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

func taskStores(t *testing.T) map[string]TaskStore {
	t.Helper()
	out := map[string]TaskStore{"memory": NewMemory()}
	if url := os.Getenv("OCR_TEST_DATABASE_URL"); url != "" {
		pg, err := NewPostgres(context.Background(), url)
		if err != nil {
			t.Fatalf("NewPostgres: %v", err)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		out["postgres"] = pg
	}
	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
	})
	return out
}

func newTask() *model.Task {
	return &model.Task{
		ID:          uuid.New().String(),
		Kind:        model.TaskKindOCR,
		State:       model.TaskQueued,
		Fingerprint: "fp-" + uuid.New().String(),
		Options:     model.DefaultOptions(),
		SubmittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestTaskStoreRoundTrip(t *testing.T) {
	for name, s := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask()
			if err := s.Create(ctx, task); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := s.Create(ctx, task); err == nil {
				t.Error("duplicate Create succeeded")
			}

			got, err := s.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.State != model.TaskQueued || got.Fingerprint != task.Fingerprint || !got.Options.UseCache {
				t.Errorf("Get = %+v", got)
			}

			updated, err := s.Update(ctx, task.ID, func(t *model.Task) error {
				if err := t.Transition(model.TaskRunning, time.Now()); err != nil {
					return err
				}
				if err := t.Transition(model.TaskDone, time.Now()); err != nil {
					return err
				}
				t.Document = &model.DocumentResult{Text: "本文\x00", Confidence: 0.91234567, PageCount: 1}
				return nil
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if updated.State != model.TaskDone || updated.CompletedAt == nil {
				t.Errorf("Update = %+v", updated)
			}

			got, err = s.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Document == nil || got.State != model.TaskDone {
				t.Fatalf("stored task = %+v", got)
			}
		})
	}
}

func TestTaskStoreMissing(t *testing.T) {
	for name, s := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, uuid.New().String()); !errors.IsNotFound(err) {
				t.Errorf("Get err = %v, want not found", err)
			}
			_, err := s.Update(ctx, uuid.New().String(), func(*model.Task) error { return nil })
			if !errors.IsNotFound(err) {
				t.Errorf("Update err = %v, want not found", err)
			}
		})
	}
}

func TestTaskStoreUpdateAbortsOnError(t *testing.T) {
	for name, s := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask()
			if err := s.Create(ctx, task); err != nil {
				t.Fatalf("Create: %v", err)
			}

			_, err := s.Update(ctx, task.ID, func(t *model.Task) error {
				t.State = model.TaskFailed
				return fmt.Errorf("changed my mind")
			})
			if err == nil {
				t.Fatal("expected the callback error")
			}
			got, _ := s.Get(ctx, task.ID)
			if got.State != model.TaskQueued {
				t.Errorf("state = %s, aborted update was saved", got.State)
			}
		})
	}
}

func TestTaskStoreSingleTransitionUnderContention(t *testing.T) {
	for name, s := range taskStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask()
			if err := s.Create(ctx, task); err != nil {
				t.Fatalf("Create: %v", err)
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Update(ctx, task.ID, func(t *model.Task) error {
						return t.Transition(model.TaskRunning, time.Now())
					})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Errorf("%d updates moved the task to RUNNING, want 1", wins)
			}
		})
	}
}

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.9632000000000001, 0.9632},
		{-0.2, 0},
		{1.5, 1},
		{0.12345, 0.1235},
	}
	for _, tt := range tests {
		if got := sanitizeConfidence(tt.in); got != tt.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	data, err := json.Marshal(map[string]string{"text": "a\x00b\x01c\nd"})
	if err != nil {
		t.Fatal(err)
	}
	got := string(sanitizeJSONForPostgres(data))
	if got != `{"text":"ab c\nd"}` {
		t.Errorf("sanitized = %s", got)
	}
}
