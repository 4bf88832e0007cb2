// Package journal persists transport task records in BadgerDB so that
// downloads started by a previous process can be rediscovered and
// continued after a relaunch.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get when no record exists.
var ErrNotFound = errors.New("journal record not found")

// Record is the persisted form of one transport task.
type Record struct {
	Session     string              `json:"session"`
	ID          uint64              `json:"id"`
	Kind        int                 `json:"kind"`
	Method      string              `json:"method"`
	URL         string              `json:"url"`
	Header      map[string][]string `json:"header,omitempty"`
	Description string              `json:"description,omitempty"`
	State       int                 `json:"state"`
	TempPath    string              `json:"temp_path,omitempty"`
	Written     int64               `json:"written"`
	Expected    int64               `json:"expected"`
	UpdatedAt   int64               `json:"updated_at"`
}

// Journal wraps a BadgerDB instance.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) a journal stored under dir.
func Open(dir string) (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening badger journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenInMemory opens a journal that lives only as long as the process.
func OpenInMemory() (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func prefix(session string) []byte {
	return []byte("task:" + session + ":")
}

func key(session string, id uint64) []byte {
	return append(prefix(session), strconv.FormatUint(id, 10)...)
}

// Put stores or replaces rec.
func (j *Journal) Put(rec Record) error {
	rec.UpdatedAt = time.Now().Unix()

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.Session, rec.ID), val)
	})
}

// Get returns the record for id in session.
func (j *Journal) Get(session string, id uint64) (Record, error) {
	var rec Record
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(session, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading record: %w", err)
	}
	return rec, nil
}

// Delete removes the record for id in session. Missing records are ignored.
func (j *Journal) Delete(session string, id uint64) error {
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(session, id))
	})
}

// List returns every record of session ordered by id.
func (j *Journal) List(session string) ([]Record, error) {
	var recs []Record
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := prefix(session)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	sort.Slice(recs, func(a, b int) bool { return recs[a].ID < recs[b].ID })
	return recs, nil
}
