package sftpsvc

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

var progressBucket = []byte("transfer_progress")

// ProgressStore persists transfer progress keyed by transfer ID so an
// interrupted transfer can resume after a restart (spec §4.6 "Transfer
// progress persistence").
type ProgressStore struct {
	db *bbolt.DB
}

// ProgressRecord is the persisted snapshot for one transfer.
type ProgressRecord struct {
	TransferID    string
	LocalPath     string
	RemotePath    string
	Direction     string // "upload" | "download"
	BytesDone     int64
	TotalBytes    int64
	UpdatedAtUnix int64
}

func OpenProgressStore(path string) (*ProgressStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(progressBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &ProgressStore{db: db}, nil
}

func (s *ProgressStore) Close() error { return s.db.Close() }

func (s *ProgressStore) Save(rec ProgressRecord) error {
	rec.UpdatedAtUnix = time.Now().Unix()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(progressBucket).Put([]byte(rec.TransferID), data)
	})
}

func (s *ProgressStore) Load(transferID string) (ProgressRecord, bool, error) {
	var rec ProgressRecord
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(progressBucket).Get([]byte(transferID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *ProgressStore) Delete(transferID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(progressBucket).Delete([]byte(transferID))
	})
}
