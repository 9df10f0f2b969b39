package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"sync"

	"prayeralert/internal/config"
)

// FileStore persists pending alerts as one JSON document so they survive a
// restart. Every mutation rewrites the file atomically.
type FileStore struct {
	*Authorizer

	mu   sync.Mutex
	path string
}

func NewFileStore(path string, auth *Authorizer) *FileStore {
	return &FileStore{Authorizer: auth, path: path}
}

type fileDoc struct {
	Pending map[string]Blueprint `json:"pending"`
}

func (s *FileStore) load() (map[string]Blueprint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]Blueprint), nil
		}
		return nil, fmt.Errorf("read pending store: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pending store: %w", err)
	}
	if doc.Pending == nil {
		doc.Pending = make(map[string]Blueprint)
	}
	return doc.Pending, nil
}

func (s *FileStore) save(pending map[string]Blueprint) error {
	data, err := json.MarshalIndent(fileDoc{Pending: pending}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pending store: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, data, ".prayeralert-pending-*.tmp"); err != nil {
		return fmt.Errorf("write pending store: %w", err)
	}
	return nil
}

func (s *FileStore) PendingIdentifiers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.load()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(pending)), nil
}

func (s *FileStore) Pending(ctx context.Context) ([]Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.load()
	if err != nil {
		return nil, err
	}
	return sortedBlueprints(pending), nil
}

func (s *FileStore) Add(ctx context.Context, bp Blueprint) error {
	if s.AuthorizationStatus(ctx) != AuthAuthorized {
		return ErrNotAuthorized
	}
	return s.update(func(m map[string]Blueprint) { m[bp.ID] = bp })
}

func (s *FileStore) Remove(ctx context.Context, ids []string) error {
	return s.update(func(m map[string]Blueprint) {
		for _, id := range ids {
			delete(m, id)
		}
	})
}

func (s *FileStore) RemoveIfUnchanged(ctx context.Context, bps []Blueprint) error {
	return s.update(func(m map[string]Blueprint) { removeUnchanged(m, bps) })
}

func (s *FileStore) RemoveAll(ctx context.Context) error {
	return s.update(func(m map[string]Blueprint) { clear(m) })
}

func (s *FileStore) update(fn func(map[string]Blueprint)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.load()
	if err != nil {
		return err
	}
	fn(pending)
	return s.save(pending)
}
