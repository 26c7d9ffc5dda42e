// Package filestore persists versioned key/value state as JSON files
// under a root directory. It is the zero-dependency default backend
// for single-process deployments.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

const entrySuffix = ".json"

type entryEnvelope struct {
	Version   int64     `json:"version"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps one file per key. Writes go through a temp file plus
// rename so readers never observe a partial entry. The mutex
// serializes compare-and-swap within the process; cross-process
// coordination is out of scope for this backend.
type Store struct {
	mu    sync.Mutex
	root  string
	nowFn func() time.Time
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("filestore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root %q: %w", root, err)
	}
	return &Store{root: root, nowFn: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", false, err
	}
	path, err := s.entryPath(key)
	if err != nil {
		return nil, "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, found, err := readEnvelope(path)
	if err != nil || !found {
		return nil, "", false, err
	}
	return envelope.Value, formatVersion(envelope.Version), true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.entryPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, _, err := readEnvelope(path)
	if err != nil {
		return err
	}
	return s.writeEnvelope(path, entryEnvelope{
		Version: envelope.Version + 1,
		Value:   value,
	})
}

func (s *Store) CompareAndSwap(ctx context.Context, key, expectedVersion string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.entryPath(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, found, err := readEnvelope(path)
	if err != nil {
		return false, err
	}
	if expectedVersion == "" {
		if found {
			return false, nil
		}
		if err := s.writeEnvelope(path, entryEnvelope{Version: 1, Value: value}); err != nil {
			return false, err
		}
		return true, nil
	}
	if !found || formatVersion(envelope.Version) != strings.TrimSpace(expectedVersion) {
		return false, nil
	}
	if err := s.writeEnvelope(path, entryEnvelope{Version: envelope.Version + 1, Value: value}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.entryPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("filestore: list entries: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), entrySuffix))
		if err != nil {
			continue
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) entryPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("filestore: state key is required")
	}
	return filepath.Join(s.root, url.PathEscape(key)+entrySuffix), nil
}

func readEnvelope(path string) (entryEnvelope, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return entryEnvelope{}, false, nil
		}
		return entryEnvelope{}, false, fmt.Errorf("filestore: read %q: %w", path, err)
	}
	var envelope entryEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return entryEnvelope{}, false, fmt.Errorf("filestore: decode %q: %w", path, err)
	}
	return envelope, true, nil
}

func (s *Store) writeEnvelope(path string, envelope entryEnvelope) error {
	envelope.UpdatedAt = s.now()
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("filestore: encode %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filestore: write %q: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("filestore: replace %q: %w", path, err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn().UTC()
	}
	return time.Now().UTC()
}

func formatVersion(version int64) string {
	return strconv.FormatInt(version, 10)
}

var (
	_ core.StateStore   = (*Store)(nil)
	_ core.PrefixLister = (*Store)(nil)
)
