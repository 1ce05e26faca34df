// Package boltstore implements the git-warp Persistence port on an embedded
// go.etcd.io/bbolt database: a content-addressed blob/tree/commit object
// store plus a ref table, mirroring what a real Git object database gives
// git-warp's ref-and-commit idioms elsewhere in the codebase.
package boltstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/port"
)

var (
	bucketBlobs   = []byte("blobs")
	bucketTrees   = []byte("trees")
	bucketCommits = []byte("commits")
	bucketRefs    = []byte("refs")
	bucketConfig  = []byte("config")
)

// emptyTreeOid is the oid of the zero-entry tree, computed once at package
// init the same way the tree codec below hashes any other tree.
var emptyTreeOid = hashTree(nil)

// Store implements port.Persistence on an embedded bbolt database.
type Store struct {
	db     *bolt.DB
	author string
}

// Open opens (creating if absent) a bbolt database at path and ensures the
// object-store buckets exist.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketTrees, bucketCommits, bucketRefs, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("boltstore: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, author: "git-warp"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithAuthor overrides the author string new commits are stamped with.
func WithAuthor(author string) Option {
	return func(s *Store) { s.author = author }
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashTree canonicalizes entries as sorted "path\x00oid\n" lines before
// hashing, so the same entry set always yields the same tree oid regardless
// of map iteration order.
func hashTree(entries map[string]string) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte(0)
		b.WriteString(entries[p])
		b.WriteByte('\n')
	}
	return hashBytes([]byte(b.String()))
}

func (s *Store) WriteBlob(_ context.Context, data []byte) (string, error) {
	oid := hashBytes(data)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(oid), data)
	})
	if err != nil {
		return "", warperrors.WrapPersistWriteFailed(err, "boltstore: write blob")
	}
	return oid, nil
}

func (s *Store) ReadBlob(_ context.Context, oid string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get([]byte(oid))
		if data == nil {
			return warperrors.NotFoundf("boltstore: blob %s not found", oid)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

type treeRecord struct {
	Entries map[string]string `json:"entries"`
}

func (s *Store) WriteTree(_ context.Context, entries map[string]string) (string, error) {
	oid := hashTree(entries)
	rec := treeRecord{Entries: entries}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("boltstore: marshal tree: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrees).Put([]byte(oid), data)
	})
	if err != nil {
		return "", warperrors.WrapPersistWriteFailed(err, "boltstore: write tree")
	}
	return oid, nil
}

func (s *Store) ReadTreeOids(_ context.Context, oid string) (map[string]string, error) {
	if oid == emptyTreeOid {
		return map[string]string{}, nil
	}
	var rec treeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTrees).Get([]byte(oid))
		if data == nil {
			return warperrors.NotFoundf("boltstore: tree %s not found", oid)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec.Entries, nil
}

func (s *Store) EmptyTreeOid() string { return emptyTreeOid }

type commitRecord struct {
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
	Message string   `json:"message"`
	Author  string   `json:"author"`
	Date    int64    `json:"date"`
}

func (s *Store) CommitNodeWithTree(_ context.Context, tree string, parents []string, message string) (string, error) {
	rec := commitRecord{
		Tree:    tree,
		Parents: parents,
		Message: message,
		Author:  s.author,
		Date:    time.Now().UnixNano(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("boltstore: marshal commit: %w", err)
	}
	sha := hashBytes(data)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommits).Put([]byte(sha), data)
	})
	if err != nil {
		return "", warperrors.WrapPersistWriteFailed(err, "boltstore: write commit")
	}
	return sha, nil
}

func (s *Store) GetNodeInfo(_ context.Context, sha string) (port.CommitInfo, error) {
	var rec commitRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCommits).Get([]byte(sha))
		if data == nil {
			return warperrors.NotFoundf("boltstore: commit %s not found", sha)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return port.CommitInfo{}, err
	}
	return port.CommitInfo{
		Message: rec.Message,
		Tree:    rec.Tree,
		Parents: rec.Parents,
		Author:  rec.Author,
		Date:    rec.Date,
	}, nil
}

func (s *Store) ShowNode(ctx context.Context, sha string) (string, error) {
	info, err := s.GetNodeInfo(ctx, sha)
	if err != nil {
		return "", err
	}
	return info.Message, nil
}

func (s *Store) ReadRef(_ context.Context, name string) (string, bool, error) {
	var sha string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRefs).Get([]byte(name))
		if data != nil {
			sha = string(data)
			found = true
		}
		return nil
	})
	return sha, found, err
}

func (s *Store) UpdateRef(_ context.Context, name, sha string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Put([]byte(name), []byte(sha))
	})
}

func (s *Store) CompareAndSwapRef(_ context.Context, name, newSha, expectedSha string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefs)
		current := b.Get([]byte(name))

		if expectedSha == "" {
			if current != nil {
				return warperrors.CASConflict(name, expectedSha, string(current))
			}
		} else if current == nil || string(current) != expectedSha {
			actual := ""
			if current != nil {
				actual = string(current)
			}
			return warperrors.CASConflict(name, expectedSha, actual)
		}
		return b.Put([]byte(name), []byte(newSha))
	})
}

func (s *Store) DeleteRef(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Delete([]byte(name))
	})
}

func (s *Store) ListRefs(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRefs).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (s *Store) ConfigGet(_ context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get([]byte(key))
		if data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	return value, found, err
}

func (s *Store) ConfigSet(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(key), []byte(value))
	})
}

var _ port.Persistence = (*Store)(nil)
