// Package store persists proof verdicts in a pebble database so that
// unchanged entry points are not proved twice.
package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/benbjohnson/mirv"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound = errors.New("store: record not found")
	ErrClosed         = errors.New("store: closed")
)

// Key prefixes. Records are keyed by id; the index maps a program digest and
// entry name to the id of the latest record.
const (
	recordPrefix = "r/"
	indexPrefix  = "i/"
)

// Record represents a single persisted verdict.
type Record struct {
	ID        uuid.UUID     `json:"id"`
	Program   string        `json:"program"`
	Digest    string        `json:"digest"`
	Entry     string        `json:"entry"`
	Solver    string        `json:"solver,omitempty"`
	Settings  string        `json:"settings,omitempty"`
	Verdict   *mirv.Verdict `json:"verdict"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`
}

// DB represents a handle to a proof store on disk.
type DB struct {
	db *pebble.DB

	// Path of the database directory.
	Path string

	// Filesystem used by the database. Defaults to the OS filesystem.
	FS vfs.FS

	// Returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewDB returns a new instance of DB for the given path.
func NewDB(path string) *DB {
	return &DB{
		Path: path,
		Now:  time.Now,
	}
}

// Open opens the underlying pebble database.
func (db *DB) Open() (err error) {
	opts := &pebble.Options{}
	if db.FS != nil {
		opts.FS = db.FS
	}
	if db.db, err = pebble.Open(db.Path, opts); err != nil {
		return errors.Wrapf(err, "store: open %s", db.Path)
	}
	return nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}

// Put saves rec and points the index for its digest and entry at it. A new
// id and creation time are assigned if unset.
func (db *DB) Put(rec *Record) error {
	if db.db == nil {
		return ErrClosed
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = db.Now().UTC()
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "store: marshal record")
	}

	batch := db.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(recordKey(rec.ID), buf, nil); err != nil {
		return err
	} else if err := batch.Set(indexKey(rec.Digest, rec.Entry), []byte(rec.ID.String()), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Get returns the record with the given id.
func (db *DB) Get(id uuid.UUID) (*Record, error) {
	if db.db == nil {
		return nil, ErrClosed
	}

	value, closer, err := db.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, errors.Wrapf(err, "store: decode record %s", id)
	}
	return &rec, nil
}

// Lookup returns the latest record for an entry of the program with the
// given digest.
func (db *DB) Lookup(digest, entry string) (*Record, error) {
	if db.db == nil {
		return nil, ErrClosed
	}

	value, closer, err := db.db.Get(indexKey(digest, entry))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, err
	}
	id, err := uuid.ParseBytes(value)
	closer.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "store: index %s/%s", digest, entry)
	}
	return db.Get(id)
}

// List returns all records ordered by creation time.
func (db *DB) List() ([]*Record, error) {
	if db.db == nil {
		return nil, ErrClosed
	}

	itr, err := db.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(recordPrefix),
		UpperBound: prefixEnd(recordPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var a []*Record
	for itr.First(); itr.Valid(); itr.Next() {
		var rec Record
		if err := json.Unmarshal(itr.Value(), &rec); err != nil {
			return nil, errors.Wrapf(err, "store: decode record %s", itr.Key())
		}
		a = append(a, &rec)
	}
	if err := itr.Error(); err != nil {
		return nil, err
	}

	sort.SliceStable(a, func(i, j int) bool { return a[i].CreatedAt.Before(a[j].CreatedAt) })
	return a, nil
}

// Delete removes a record. The index is cleared if it points at the record.
func (db *DB) Delete(id uuid.UUID) error {
	rec, err := db.Get(id)
	if err != nil {
		return err
	}

	batch := db.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(recordKey(id), nil); err != nil {
		return err
	}
	if current, err := db.Lookup(rec.Digest, rec.Entry); err == nil && current.ID == id {
		if err := batch.Delete(indexKey(rec.Digest, rec.Entry), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func recordKey(id uuid.UUID) []byte {
	return append([]byte(recordPrefix), id[:]...)
}

func indexKey(digest, entry string) []byte {
	return []byte(indexPrefix + digest + "\x00" + entry)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}
