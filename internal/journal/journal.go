// Package journal keeps a local, append-only record of the operations
// lambdactl performed: launches, terminations and long-running checks.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Kind identifies the operation an entry records.
type Kind string

const (
	KindLaunch      Kind = "launch"
	KindTerminate   Kind = "terminate"
	KindLongRunning Kind = "long_running"
)

var bucketEntries = []byte("entries")

// ErrLocked is returned when another process holds the journal open.
var ErrLocked = errors.New("journal is locked by another process")

// Entry is one journal record.
type Entry struct {
	ID          string          `json:"id"`
	Sequence    uint64          `json:"sequence"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        Kind            `json:"kind"`
	InstanceIDs []string        `json:"instance_ids,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Journal is a bbolt-backed operation log.
type Journal struct {
	db  *bbolt.DB
	now func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the clock that stamps entries.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// Open opens or creates the journal at path.
func Open(path string, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("open journal %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records a successful operation.
func (j *Journal) Append(kind Kind, instanceIDs []string, data any) (Entry, error) {
	return j.append(kind, instanceIDs, data, nil)
}

// AppendError records a failed operation.
func (j *Journal) AppendError(kind Kind, instanceIDs []string, data any, opErr error) (Entry, error) {
	return j.append(kind, instanceIDs, data, opErr)
}

func (j *Journal) append(kind Kind, instanceIDs []string, data any, opErr error) (Entry, error) {
	entry := Entry{
		ID:          uuid.NewString(),
		Timestamp:   j.now().UTC(),
		Kind:        kind,
		InstanceIDs: instanceIDs,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal journal data: %w", err)
		}
		entry.Data = raw
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}

	err := j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.Sequence = seq

		value, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), value)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append journal entry: %w", err)
	}
	return entry, nil
}

// List returns up to limit entries, newest first. A limit < 1 returns
// every entry.
func (j *Journal) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
