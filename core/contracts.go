package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// StateStore is the only synchronization primitive in the system. It must
// provide single-key atomicity for CompareAndSwap; cross-key transactions
// are never required. Implementations return versions as opaque tokens.
type StateStore interface {
	// Get returns the stored value, its version token, and whether the key
	// exists. A missing key is not an error.
	Get(ctx context.Context, key string) (value []byte, version string, found bool, err error)

	// Put writes unconditionally.
	Put(ctx context.Context, key string, value []byte) error

	// CompareAndSwap writes value only if the stored version still equals
	// expectedVersion. An empty expectedVersion means create-if-absent.
	// It returns false, nil when the version check loses; errors are
	// reserved for store failures.
	CompareAndSwap(ctx context.Context, key string, expectedVersion string, value []byte) (bool, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// PrefixLister is an optional StateStore extension used by the opportunistic
// dedup sweep. Backends that cannot enumerate keys simply skip the sweep.
type PrefixLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type RegisterWatchRequest struct {
	WorkflowID  string
	ChannelID   string
	FolderID    string
	CallbackURL string
	Token       string
	TTL         time.Duration
}

type WatchRegistration struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// WatchProvider is the upstream change-notification API: Drive-style
// changes.watch registration, channel stop, and the change cursor.
type WatchProvider interface {
	Register(ctx context.Context, req RegisterWatchRequest) (WatchRegistration, error)
	Stop(ctx context.Context, channelID string, resourceID string) error
	StartPageToken(ctx context.Context) (string, error)
}

// Pipeline is the downstream processing boundary. One invocation handles
// the entire fetch-transform-publish unit of work for a workflow; any
// failure inside it is uniform for dedup purposes.
type Pipeline interface {
	Process(ctx context.Context, wf WorkflowConfig) (ProcessingSummary, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
