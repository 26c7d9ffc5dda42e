package sqlstore

import (
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func stateEntryHandlers() repository.ModelHandlers[*stateEntryRecord] {
	return repository.ModelHandlers[*stateEntryRecord]{
		NewRecord: func() *stateEntryRecord {
			return &stateEntryRecord{}
		},
		GetID: func(record *stateEntryRecord) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(record *stateEntryRecord, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "key"
		},
		GetIdentifierValue: func(record *stateEntryRecord) string {
			if record == nil {
				return ""
			}
			return record.Key
		},
	}
}
