// Package cache stores finished DocumentResults by content fingerprint and
// records which task currently owns a fingerprint that is still running.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// State of a cache entry
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// Entry is what a fingerprint currently maps to.
type Entry struct {
	Fingerprint string                `json:"fingerprint"`
	State       State                 `json:"state"`
	TaskID      string                `json:"taskId"`
	Result      *model.DocumentResult `json:"result,omitempty"`
	ExpiresAt   time.Time             `json:"expiresAt"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store is linearizable per fingerprint.
type Store interface {
	// Claim makes taskID the owner of fp unless another task already owns it
	// or, when reuseDone is set, a finished result exists. In those cases the
	// existing entry is returned and claimed is false.
	Claim(ctx context.Context, fp, taskID string, reuseDone bool) (existing *Entry, claimed bool, err error)
	// Complete stores the result for fp and drops taskID's claim.
	Complete(ctx context.Context, fp, taskID string, result *model.DocumentResult) error
	// Release drops taskID's claim without storing a result.
	Release(ctx context.Context, fp, taskID string) error
	// Get returns the entry for fp or errors.ErrNotFound.
	Get(ctx context.Context, fp string) (*Entry, error)
	Close() error
}

// TTLs of the two entry kinds. Claims expire so a crashed owner cannot hold a
// fingerprint forever.
type TTLs struct {
	Result time.Duration
	Claim  time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Result <= 0 {
		t.Result = time.Hour
	}
	if t.Claim <= 0 {
		t.Claim = time.Hour
	}
	return t
}

// Fingerprint hashes the document bytes together with every option that
// changes the result. use_cache is not one of them.
func Fingerprint(data []byte, opts model.Options) string {
	h := sha256.New()
	h.Write(data)
	lang, _ := model.NormalizeLanguage(opts.Language)
	fmt.Fprintf(h, "\x00lang=%s;entities=%t;images=%t;orientation=%t",
		lang, opts.ExtractEntities, opts.ReturnImages, opts.OrientationEnabled())
	return hex.EncodeToString(h.Sum(nil))
}

// New builds the backend named by cfg.CacheBackend.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Store, error) {
	ttls := TTLs{Result: cfg.CacheTTL, Claim: cfg.TaskTimeout + time.Minute}
	switch cfg.CacheBackend {
	case "", "memory":
		return NewMemory(ttls), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, ttls, logger)
	case "bolt":
		return NewBolt(cfg.CachePath, ttls)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}
