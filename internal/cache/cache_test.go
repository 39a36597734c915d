package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewMemory(TTLs{})}

	b, err := NewBolt(filepath.Join(t.TempDir(), "cache.db"), TTLs{})
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	out["bolt"] = b

	if url := os.Getenv("OCR_TEST_REDIS_URL"); url != "" {
		r, err := NewRedis(context.Background(), url, TTLs{}, nil)
		if err != nil {
			t.Fatalf("NewRedis: %v", err)
		}
		out["redis"] = r
	}

	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
	})
	return out
}

func uniqueFP(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestStoreLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fp := uniqueFP(t)

			if _, err := s.Get(ctx, fp); err != errors.ErrNotFound {
				t.Fatalf("Get on empty = %v, want ErrNotFound", err)
			}

			existing, claimed, err := s.Claim(ctx, fp, "task-1", true)
			if err != nil || !claimed || existing != nil {
				t.Fatalf("first claim = %v, %v, %v", existing, claimed, err)
			}

			existing, claimed, err = s.Claim(ctx, fp, "task-2", true)
			if err != nil || claimed {
				t.Fatalf("second claim = %v, %v", claimed, err)
			}
			if existing.State != StatePending || existing.TaskID != "task-1" {
				t.Errorf("second claim saw %+v", existing)
			}

			result := &model.DocumentResult{Text: "hello", Confidence: 0.9, PageCount: 1}
			if err := s.Complete(ctx, fp, "task-1", result); err != nil {
				t.Fatalf("Complete: %v", err)
			}

			existing, claimed, err = s.Claim(ctx, fp, "task-3", true)
			if err != nil || claimed {
				t.Fatalf("claim after complete = %v, %v", claimed, err)
			}
			if existing.State != StateDone || existing.TaskID != "task-1" || existing.Result.Text != "hello" {
				t.Errorf("claim after complete saw %+v", existing)
			}

			got, err := s.Get(ctx, fp)
			if err != nil || got.State != StateDone {
				t.Fatalf("Get = %+v, %v", got, err)
			}
		})
	}
}

func TestStoreBypassesDoneResult(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fp := uniqueFP(t)

			_, _, _ = s.Claim(ctx, fp, "task-1", true)
			if err := s.Complete(ctx, fp, "task-1", &model.DocumentResult{Text: "old"}); err != nil {
				t.Fatalf("Complete: %v", err)
			}

			existing, claimed, err := s.Claim(ctx, fp, "task-2", false)
			if err != nil || !claimed || existing != nil {
				t.Fatalf("claim without reuse = %v, %v, %v", existing, claimed, err)
			}

			// a concurrent submission still coalesces onto task-2
			existing, claimed, err = s.Claim(ctx, fp, "task-3", false)
			if err != nil || claimed || existing.TaskID != "task-2" {
				t.Fatalf("coalescing claim = %+v, %v, %v", existing, claimed, err)
			}
		})
	}
}

func TestStoreReleaseOnlyByOwner(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fp := uniqueFP(t)

			_, _, _ = s.Claim(ctx, fp, "owner", true)
			if err := s.Release(ctx, fp, "intruder"); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if e, err := s.Get(ctx, fp); err != nil || e.TaskID != "owner" {
				t.Fatalf("claim lost after foreign release: %+v, %v", e, err)
			}

			if err := s.Release(ctx, fp, "owner"); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if _, claimed, _ := s.Claim(ctx, fp, "next", true); !claimed {
				t.Error("fingerprint still claimed after owner released it")
			}
		})
	}
}

func TestStoreSingleClaimUnderContention(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fp := uniqueFP(t)

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, claimed, err := s.Claim(ctx, fp, fmt.Sprintf("task-%d", i), true); err == nil && claimed {
						wins.Add(1)
					}
				}(i)
			}
			wg.Wait()
			if wins.Load() != 1 {
				t.Errorf("%d claims won, want exactly 1", wins.Load())
			}
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(TTLs{Result: time.Minute, Claim: time.Minute})
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = m.Claim(ctx, "fp", "crashed", true)
	now = now.Add(2 * time.Minute)
	if _, claimed, _ := m.Claim(ctx, "fp", "fresh", true); !claimed {
		t.Fatal("expired claim still blocks the fingerprint")
	}

	_ = m.Complete(ctx, "fp", "fresh", &model.DocumentResult{Text: "x"})
	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "fp"); err != errors.ErrNotFound {
		t.Errorf("expired result still served: %v", err)
	}
}

func TestBoltCorruptedEntry(t *testing.T) {
	for _, bucket := range [][]byte{resultsBucket, claimsBucket} {
		t.Run(string(bucket), func(t *testing.T) {
			b, err := NewBolt(filepath.Join(t.TempDir(), "cache.db"), TTLs{})
			if err != nil {
				t.Fatalf("NewBolt: %v", err)
			}
			defer b.Close()

			err = b.db.Update(func(tx *bbolt.Tx) error {
				return tx.Bucket(bucket).Put([]byte("fp"), []byte("{not json"))
			})
			if err != nil {
				t.Fatal(err)
			}

			ctx := context.Background()
			_, _, err = b.Claim(ctx, "fp", "t1", true)
			if errors.CodeOf(err) != errors.ErrorCacheCorrupted {
				t.Fatalf("err = %v, want CACHE_CORRUPTED", err)
			}

			_, claimed, err := b.Claim(ctx, "fp", "t2", true)
			if err != nil || !claimed {
				t.Fatalf("claim after corruption: claimed = %v, err = %v", claimed, err)
			}
			if err := b.Complete(ctx, "fp", "t2", &model.DocumentResult{Text: "ok"}); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			e, err := b.Get(ctx, "fp")
			if err != nil || e.State != StateDone {
				t.Errorf("Get = %+v, %v", e, err)
			}
		})
	}
}

func TestRedisCorruptedResult(t *testing.T) {
	url := os.Getenv("OCR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OCR_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, TTLs{}, nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	fp := uniqueFP(t)
	if err := r.client.Set(ctx, resultKey(fp), "{not json", time.Minute).Err(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Claim(ctx, fp, "t1", true); errors.CodeOf(err) != errors.ErrorCacheCorrupted {
		t.Fatalf("err = %v, want CACHE_CORRUPTED", err)
	}
	if _, claimed, err := r.Claim(ctx, fp, "t2", true); err != nil || !claimed {
		t.Fatalf("claim after corruption: claimed = %v, err = %v", claimed, err)
	}
	_ = r.Release(ctx, fp, "t2")
}

func TestFingerprint(t *testing.T) {
	data := []byte("%PDF-1.4 test")
	base := model.DefaultOptions()

	off := false
	tests := []struct {
		name string
		opts model.Options
		same bool
	}{
		{"identical", base, true},
		{"use_cache does not matter", model.Options{UseCache: false}, true},
		{"language alias", model.Options{UseCache: true, Language: "ja"}, false},
		{"entities", model.Options{UseCache: true, ExtractEntities: true}, false},
		{"images", model.Options{UseCache: true, ReturnImages: true}, false},
		{"orientation off", model.Options{UseCache: true, CheckOrientation: &off}, false},
	}
	want := Fingerprint(data, base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(data, tt.opts)
			if (got == want) != tt.same {
				t.Errorf("fingerprint equality = %v, want %v", got == want, tt.same)
			}
		})
	}

	if Fingerprint(data, model.Options{Language: "ja"}) != Fingerprint(data, model.Options{Language: "jpn"}) {
		t.Error("language aliases should share a fingerprint")
	}
	if Fingerprint([]byte("other"), base) == want {
		t.Error("different bytes share a fingerprint")
	}
}
