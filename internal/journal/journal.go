// Package journal provides an append-only audit log for every irreversible
// fund movement. Each entry carries the full numeric detail needed to
// reconstruct the epoch ledger from the log alone.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// Kind identifies the event an entry records.
type Kind string

const (
	KindDeposit            Kind = "deposit"
	KindAllocationRecorded Kind = "allocation_recorded"
	KindFundsDistributed   Kind = "funds_distributed"
	KindEpochFinalized     Kind = "epoch_finalized"
	KindPayoutPending      Kind = "payout_pending"
	KindGrantProposed      Kind = "grant_proposed"
	KindGrantVote          Kind = "grant_vote"
	KindGrantExecuted      Kind = "grant_executed"
)

// Entry is a single audit record. Fields that do not apply to a given kind
// are left zero.
type Entry struct {
	ID          string
	Kind        Kind
	Epoch       uint64
	User        string
	Beneficiary string
	Votes       int64
	Assets      int64
	Total       int64
	Reason      string
	At          time.Time
}

// Writer is the minimal sink the engine and services append to.
type Writer interface {
	Append(Entry) error
}

// Journal persists entries in a bbolt database under monotonically
// increasing big-endian sequence keys, so iteration order is append order.
type Journal struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Writer = (*Journal)(nil)

// Open opens or creates the journal database at path.
// The parent directory is created if it does not exist.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// seqKey encodes a sequence number as an 8-byte big-endian key for sorted storage.
func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Append writes an entry at the next sequence number. The entry ID and
// timestamp are filled in when unset.
func (j *Journal) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("journal: next sequence: %w", err)
		}
		data, err := encodeGob(e)
		if err != nil {
			return fmt.Errorf("journal: encode entry: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("journal: put entry: %w", err)
		}
		return nil
	})
}

// List returns up to limit entries starting from sequence number from
// (1-based). A limit of 0 means no limit.
func (j *Journal) List(from uint64, limit int) ([]Entry, error) {
	if from == 0 {
		from = 1
	}
	var out []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			var e Entry
			if err := decodeGob(v, &e); err != nil {
				return fmt.Errorf("journal: decode entry: %w", err)
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replay applies fn to every entry in append order. Iteration stops at the
// first error returned by fn.
func (j *Journal) Replay(fn func(Entry) error) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := decodeGob(v, &e); err != nil {
				return fmt.Errorf("journal: decode entry: %w", err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}
