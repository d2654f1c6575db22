package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAppState = []byte("app_state")
	keyClusterName = []byte("clusterName")
)

// Store persists the client's small amount of cross-session state.
type Store interface {
	// ClusterName returns the last chosen cluster name, or "" when none was saved.
	ClusterName() (string, error)
	SetClusterName(name string) error
	Close() error
}

// BoltStore is a Store backed by a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the state database at path.
func OpenBolt(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAppState)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init state db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) ClusterName() (string, error) {
	var name string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAppState)
		if b == nil {
			return nil
		}
		name = string(b.Get(keyClusterName))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read cluster name: %w", err)
	}
	return name, nil
}

func (s *BoltStore) SetClusterName(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketAppState)
		if err != nil {
			return err
		}
		return b.Put(keyClusterName, []byte(name))
	})
	if err != nil {
		return fmt.Errorf("failed to write cluster name: %w", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MemoryStore is a Store that keeps state in memory only.
type MemoryStore struct {
	mu          sync.Mutex
	clusterName string
	writes      int
}

func NewMemoryStore(clusterName string) *MemoryStore {
	return &MemoryStore{clusterName: clusterName}
}

func (s *MemoryStore) ClusterName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusterName, nil
}

func (s *MemoryStore) SetClusterName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusterName = name
	s.writes++
	return nil
}

// Writes returns how many times SetClusterName was called.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) Close() error { return nil }
