package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

var (
	resultsBucket = []byte("results")
	claimsBucket  = []byte("claims")
)

// Bolt is a single-file Store for one worker process. bbolt serializes
// writers, which is what makes Claim atomic.
type Bolt struct {
	db   *bbolt.DB
	ttls TTLs
	now  func() time.Time
}

// NewBolt opens or creates the cache file at path.
func NewBolt(path string, ttls TTLs) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(resultsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(claimsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Bolt{db: db, ttls: ttls.withDefaults(), now: time.Now}, nil
}

// Claim reports CACHE_CORRUPTED when the stored entry cannot be decoded, and
// deletes that entry so the next claim for fp starts clean.
func (b *Bolt) Claim(ctx context.Context, fp, taskID string, reuseDone bool) (*Entry, bool, error) {
	var existing *Entry
	var corrupt error
	err := b.db.Update(func(tx *bbolt.Tx) error {
		now := b.now()
		names := [][]byte{claimsBucket}
		if reuseDone {
			names = [][]byte{resultsBucket, claimsBucket}
		}
		for _, name := range names {
			bucket := tx.Bucket(name)
			e, err := b.load(bucket, fp, now)
			if errors.CodeOf(err) == errors.ErrorCacheCorrupted {
				corrupt = err
				return bucket.Delete([]byte(fp))
			}
			if err != nil || e != nil {
				existing = e
				return err
			}
		}
		return b.put(tx.Bucket(claimsBucket), &Entry{
			Fingerprint: fp,
			State:       StatePending,
			TaskID:      taskID,
			ExpiresAt:   now.Add(b.ttls.Claim),
		})
	})
	if err != nil {
		return nil, false, err
	}
	if corrupt != nil {
		return nil, false, corrupt
	}
	return existing, existing == nil, nil
}

func (b *Bolt) Complete(ctx context.Context, fp, taskID string, result *model.DocumentResult) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		err := b.put(tx.Bucket(resultsBucket), &Entry{
			Fingerprint: fp,
			State:       StateDone,
			TaskID:      taskID,
			Result:      result,
			ExpiresAt:   b.now().Add(b.ttls.Result),
		})
		if err != nil {
			return err
		}
		return b.release(tx, fp, taskID)
	})
}

func (b *Bolt) Release(ctx context.Context, fp, taskID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return b.release(tx, fp, taskID)
	})
}

func (b *Bolt) Get(ctx context.Context, fp string) (*Entry, error) {
	var found *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		now := b.now()
		e, err := b.load(tx.Bucket(resultsBucket), fp, now)
		if err != nil || e != nil {
			found = e
			return err
		}
		found, err = b.load(tx.Bucket(claimsBucket), fp, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.ErrNotFound
	}
	return found, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) release(tx *bbolt.Tx, fp, taskID string) error {
	bucket := tx.Bucket(claimsBucket)
	e, err := b.load(bucket, fp, b.now())
	if errors.CodeOf(err) == errors.ErrorCacheCorrupted {
		return bucket.Delete([]byte(fp))
	}
	if err != nil || e == nil || e.TaskID != taskID {
		return err
	}
	return bucket.Delete([]byte(fp))
}

// load returns nil for a missing or expired entry. Expired entries are left
// for the next writer to overwrite.
func (b *Bolt) load(bucket *bbolt.Bucket, fp string, now time.Time) (*Entry, error) {
	data := bucket.Get([]byte(fp))
	if data == nil {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.NewCacheCorruptedError(fp, err)
	}
	if e.expired(now) {
		return nil, nil
	}
	return &e, nil
}

func (b *Bolt) put(bucket *bbolt.Bucket, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return bucket.Put([]byte(e.Fingerprint), data)
}

var _ Store = (*Bolt)(nil)
