package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

// stateEntryRecord is a single versioned key/value row. Versions are
// monotonically increasing per key and drive compare-and-swap updates.
type stateEntryRecord struct {
	bun.BaseModel `bun:"table:outbound_state,alias:os"`

	Key       string    `bun:"key,pk"`
	Value     []byte    `bun:"value,notnull"`
	Version   int64     `bun:"version,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
