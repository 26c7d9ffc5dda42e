package sqlstore

import (
	"fmt"

	"github.com/Outbound-Project/outbound-bot/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// StoreFactory builds the SQL-backed state store from whatever
// persistence handle the host wired in.
type StoreFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService
}

func NewStoreFactoryFromDB(db *bun.DB) (*StoreFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &StoreFactory{db: db}, nil
}

func NewStoreFactoryFromPersistence(client *persistence.Client) (*StoreFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewStoreFactoryFromDB(client.DB())
}

// NewStoreFactory accepts a *bun.DB, a *persistence.Client, or any
// value exposing DB() *bun.DB.
func NewStoreFactory(persistenceClient any) (*StoreFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	return NewStoreFactoryFromDB(db)
}

// WithCache makes BuildStateStore wrap the store with read-through
// caching.
func (f *StoreFactory) WithCache(cacheService repositorycache.CacheService) *StoreFactory {
	if f == nil {
		return nil
	}
	f.cache = cacheService
	return f
}

func (f *StoreFactory) BuildStateStore() (core.StateStore, error) {
	if f == nil || f.db == nil {
		return nil, fmt.Errorf("sqlstore: store factory is not configured")
	}
	store, err := NewStateStore(f.db)
	if err != nil {
		return nil, err
	}
	if f.cache == nil {
		return store, nil
	}
	return NewCachedStateStore(store, f.cache)
}

func resolveBunDB(persistenceClient any) (*bun.DB, error) {
	switch typed := persistenceClient.(type) {
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: bun db is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned a nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client %T", persistenceClient)
	}
}
