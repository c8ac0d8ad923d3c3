package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/treemover/treemover/pkg/model"
)

var progressBucket = []byte("sync_progress")

// BoltStore persists progress records in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(progressBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create progress bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Put(progress model.SyncProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(progressBucket).Put([]byte(progress.RequestID), data)
	})
}

func (s *BoltStore) Get(requestID string) (model.SyncProgress, bool, error) {
	var progress model.SyncProgress
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(progressBucket).Get([]byte(requestID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &progress)
	})
	if err != nil {
		return model.SyncProgress{}, false, fmt.Errorf("read progress: %w", err)
	}
	return progress, found, nil
}

func (s *BoltStore) List() ([]model.SyncProgress, error) {
	var out []model.SyncProgress
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(progressBucket).ForEach(func(_, data []byte) error {
			var p model.SyncProgress
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return out, nil
}
