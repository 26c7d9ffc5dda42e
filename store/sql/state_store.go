package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// StateStore persists versioned key/value entries in a relational
// database. Versions are row counters rendered as opaque tokens so
// compare-and-swap callers never depend on the storage scheme.
type StateStore struct {
	db    *bun.DB
	repo  repository.Repository[*stateEntryRecord]
	nowFn func() time.Time
}

func NewStateStore(db *bun.DB) (*StateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*stateEntryRecord](db, stateEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid state repository wiring: %w", err)
		}
	}
	return &StateStore{
		db:    db,
		repo:  repo,
		nowFn: time.Now,
	}, nil
}

func (s *StateStore) Get(ctx context.Context, key string) ([]byte, string, bool, error) {
	if s == nil || s.db == nil {
		return nil, "", false, fmt.Errorf("sqlstore: state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, "", false, fmt.Errorf("sqlstore: state key is required")
	}

	record := &stateEntryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("sqlstore: read state %q: %w", key, err)
	}
	return copyBytes(record.Value), formatVersion(record.Version), true, nil
}

func (s *StateStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: state key is required")
	}

	record := &stateEntryRecord{
		Key:       key,
		Value:     copyBytes(value),
		Version:   1,
		UpdatedAt: s.now(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("version = ?TableAlias.version + 1").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: write state %q: %w", key, err)
	}
	return nil
}

func (s *StateStore) CompareAndSwap(ctx context.Context, key, expectedVersion string, value []byte) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("sqlstore: state key is required")
	}

	if expectedVersion == "" {
		record := &stateEntryRecord{
			Key:       key,
			Value:     copyBytes(value),
			Version:   1,
			UpdatedAt: s.now(),
		}
		if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return false, nil
			}
			return false, fmt.Errorf("sqlstore: create state %q: %w", key, err)
		}
		return true, nil
	}

	version, err := parseVersion(expectedVersion)
	if err != nil {
		return false, nil
	}
	result, err := s.db.NewUpdate().
		Model((*stateEntryRecord)(nil)).
		Set("value = ?", copyBytes(value)).
		Set("version = ?", version+1).
		Set("updated_at = ?", s.now()).
		Where("?TableAlias.key = ?", key).
		Where("?TableAlias.version = ?", version).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlstore: swap state %q: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: swap state %q: %w", key, err)
	}
	return affected == 1, nil
}

func (s *StateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: state key is required")
	}
	_, err := s.db.NewDelete().
		Model((*stateEntryRecord)(nil)).
		Where("?TableAlias.key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: delete state %q: %w", key, err)
	}
	return nil
}

func (s *StateStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: state store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.OrderBy("key ASC"),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			if prefix == "" {
				return q
			}
			return q.Where("?TableAlias.key LIKE ?", prefix+"%")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list state keys %q: %w", prefix, err)
	}
	keys := make([]string, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		keys = append(keys, record.Key)
	}
	return keys, nil
}

func (s *StateStore) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn().UTC()
	}
	return time.Now().UTC()
}

func formatVersion(version int64) string {
	return strconv.FormatInt(version, 10)
}

func parseVersion(input string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(input), 10, 64)
}

func copyBytes(input []byte) []byte {
	if input == nil {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
