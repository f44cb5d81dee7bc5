package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Record is the durable snapshot of check-in state. Field names mirror
// the keys kept in the store so a partial record loads field by field.
type Record struct {
	DayKey    uint32
	Remaining int32
	Started   bool
	HaveMAC   bool
	MAC       [6]byte
}

var (
	bucketName   = []byte("checkin")
	keyDay       = []byte("day")
	keyRemaining = []byte("remaining")
	keyStarted   = []byte("started")
	keyHaveMAC   = []byte("have_mac")
	keyMAC       = []byte("mac")
)

// Store persists Records in a single-bucket bbolt database. Every Save
// is one read-write transaction, so a crash mid-write never clobbers
// previously committed values.
type Store struct {
	db *bolt.DB

	// DefaultRemaining seeds Remaining when the key is absent, so a
	// fresh database boots with the full target duration.
	defaultRemaining int32
}

func Open(path string, defaultRemaining int32) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db, defaultRemaining: defaultRemaining}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the record, substituting a documented default for any
// missing field: day 0, remaining = target duration, started false,
// device absent.
func (s *Store) Load() (Record, error) {
	rec := Record{Remaining: s.defaultRemaining}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		if v := b.Get(keyDay); len(v) == 4 {
			rec.DayKey = binary.LittleEndian.Uint32(v)
		}
		if v := b.Get(keyRemaining); len(v) == 4 {
			rec.Remaining = int32(binary.LittleEndian.Uint32(v))
		}
		if v := b.Get(keyStarted); len(v) == 1 {
			rec.Started = v[0] != 0
		}
		if v := b.Get(keyHaveMAC); len(v) == 1 {
			rec.HaveMAC = v[0] != 0
		}
		if v := b.Get(keyMAC); len(v) == 6 {
			copy(rec.MAC[:], v)
		}
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}
	if rec.Remaining < 0 {
		rec.Remaining = 0
	}
	return rec, nil
}

// Save commits the whole record atomically.
func (s *Store) Save(rec Record) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		var u32 [4]byte

		binary.LittleEndian.PutUint32(u32[:], rec.DayKey)
		if err := b.Put(keyDay, append([]byte(nil), u32[:]...)); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(u32[:], uint32(rec.Remaining))
		if err := b.Put(keyRemaining, append([]byte(nil), u32[:]...)); err != nil {
			return err
		}
		if err := b.Put(keyStarted, []byte{boolByte(rec.Started)}); err != nil {
			return err
		}
		if err := b.Put(keyHaveMAC, []byte{boolByte(rec.HaveMAC)}); err != nil {
			return err
		}
		return b.Put(keyMAC, append([]byte(nil), rec.MAC[:]...))
	})
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
