package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketMount = "mount"

	keyImagePath  = "image_path"
	keyLoopDevice = "loop_device"
	keyLUN        = "lun"
	keyMountedAt  = "mounted_at"
)

// MountRecord is the persisted "current mount" state. A record exists if
// and only if a gadget is believed to be actively exposing an image, and
// at most one record exists at any time.
type MountRecord struct {
	ImagePath  string
	LoopDevice string
	LUN        string
	MountedAt  int64
}

// Store owns the persisted MountRecord. Durability is its only job: the
// orchestrator guarantees at most one mount/unmount sequence runs at a
// time, so the store needs no locking of its own beyond bbolt's.
type Store struct {
	path string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{path: filepath.Join(dataDir, "isodrive.db")}, nil
}

func (s *Store) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return db, nil
}

// Save overwrites the single persisted record unconditionally. Last writer
// wins, consistent with the single-slot invariant enforced upstream.
func (s *Store) Save(rec MountRecord) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketMount))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		pairs := map[string]string{
			keyImagePath:  rec.ImagePath,
			keyLoopDevice: rec.LoopDevice,
			keyLUN:        rec.LUN,
			keyMountedAt:  strconv.FormatInt(rec.MountedAt, 10),
		}
		for k, v := range pairs {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return fmt.Errorf("put %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save mount record: %w", err)
	}
	return nil
}

// Load returns the active record, or nil if there is none. A partially
// written record (missing field or non-positive timestamp) is treated as
// absent rather than corrupt.
func (s *Store) Load() (*MountRecord, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, nil
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var rec *MountRecord
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMount))
		if b == nil {
			return nil
		}
		image := string(b.Get([]byte(keyImagePath)))
		lun := string(b.Get([]byte(keyLUN)))
		mountedAt := string(b.Get([]byte(keyMountedAt)))
		if image == "" || lun == "" || mountedAt == "" {
			return nil
		}
		ts, err := strconv.ParseInt(mountedAt, 10, 64)
		if err != nil || ts <= 0 {
			return nil
		}
		rec = &MountRecord{
			ImagePath:  image,
			LoopDevice: string(b.Get([]byte(keyLoopDevice))),
			LUN:        lun,
			MountedAt:  ts,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load mount record: %w", err)
	}
	return rec, nil
}

// Clear erases the record entirely.
func (s *Store) Clear() error {
	if _, err := os.Stat(s.path); err != nil {
		return nil
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(bucketMount)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(bucketMount))
	})
	if err != nil {
		return fmt.Errorf("clear mount record: %w", err)
	}
	return nil
}
