package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

const (
	badgerRedirectPrefix = "redirect:"
	badgerTargetPrefix   = "target:"
)

// BadgerStore keeps redirects in an embedded key value store. Each redirect
// is stored under its identity with a secondary key per trimmed target path.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string, inMemory bool) (*BadgerStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" && !inMemory {
		return nil, redirect.ErrInvalidInput
	}
	opts := badger.DefaultOptions(dir).
		WithInMemory(inMemory).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func badgerRedirectKey(sourcePath, host string) []byte {
	return []byte(badgerRedirectPrefix + identityKey(sourcePath, host))
}

func badgerTargetKey(targetPath, sourcePath, host string) []byte {
	return []byte(badgerTargetPrefix + trimTarget(targetPath) + "\x00" + identityKey(sourcePath, host))
}

func badgerTargetPrefixFor(targetPath string) []byte {
	return []byte(badgerTargetPrefix + trimTarget(targetPath) + "\x00")
}

func (s *BadgerStore) Lookup(_ context.Context, sourcePath, host string) (*redirect.Redirect, error) {
	var found *redirect.Redirect
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := badgerGet(txn, badgerRedirectKey(sourcePath, host))
		if err != nil {
			return err
		}
		found = r
		return nil
	})
	return found, err
}

func (s *BadgerStore) Add(_ context.Context, sourcePath, targetPath string, statusCode int, hosts []string) ([]redirect.Redirect, error) {
	redirects, err := newRedirects(sourcePath, targetPath, statusCode, hosts)
	if err != nil {
		return nil, err
	}
	stored := make([]redirect.Redirect, 0, len(redirects))
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, r := range redirects {
			key := badgerRedirectKey(r.SourcePath, r.Host)
			existing, err := badgerGet(txn, key)
			if err != nil {
				return err
			}
			if existing != nil {
				r.ID = existing.ID
				r.CreatedAt = existing.CreatedAt
				if err := txn.Delete(badgerTargetKey(existing.TargetPath, existing.SourcePath, existing.Host)); err != nil {
					return err
				}
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			if err := txn.Set(badgerTargetKey(r.TargetPath, r.SourcePath, r.Host), key); err != nil {
				return err
			}
			stored = append(stored, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *BadgerStore) Remove(_ context.Context, sourcePath, host string) (bool, error) {
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := badgerRedirectKey(sourcePath, host)
		existing, err := badgerGet(txn, key)
		if err != nil || existing == nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		removed = true
		return txn.Delete(badgerTargetKey(existing.TargetPath, existing.SourcePath, existing.Host))
	})
	return removed, err
}

func (s *BadgerStore) FindByTarget(_ context.Context, targetPath string) ([]redirect.Redirect, error) {
	var out []redirect.Redirect
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := badgerTargetPrefixFor(targetPath)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := badgerGet(txn, key)
			if err != nil {
				return err
			}
			if r != nil {
				out = append(out, *r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRedirects(out)
	return out, nil
}

func (s *BadgerStore) All(context.Context) ([]redirect.Redirect, error) {
	var out []redirect.Redirect
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerRedirectPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r redirect.Redirect
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRedirects(out)
	return out, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func badgerGet(txn *badger.Txn, key []byte) (*redirect.Redirect, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var r redirect.Redirect
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
