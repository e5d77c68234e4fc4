package persist

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Store keeps documents under a path-like key.
type Store interface {
	Write(path string, doc Document) error
	Read(path string) (Document, error)
}

// FileStore writes each document as a YAML file at its path. Writes are
// atomic: a crash leaves either the old file or the new one.
type FileStore struct{}

// Write implements Store.
func (FileStore) Write(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending state file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := yaml.NewEncoder(pending)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// Read implements Store. Unknown keys are rejected.
func (FileStore) Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return decodeDocument(data)
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("parse state: %w", err)
	}
	return doc, nil
}

// BadgerStore keeps every document of a run in one Badger database, keyed
// by path. It suits runs with many participants and frequent savepoints.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemoryBadgerStore opens a database that lives only in memory.
func OpenInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// Write implements Store.
func (s *BadgerStore) Write(path string, doc Document) error {
	buf, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(filepath.Clean(path)), buf)
	})
}

// Read implements Store. A missing key reports fs.ErrNotExist.
func (s *BadgerStore) Read(path string) (Document, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(filepath.Clean(path)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Document{}, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	if err != nil {
		return Document{}, err
	}
	return decodeDocument(data)
}
