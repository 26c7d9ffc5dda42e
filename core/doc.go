// Package core implements the change-notification lifecycle: watch channel
// registration and renewal, dedup-keyed idempotent dispatch, and the
// contracts the store backends, providers, and pipeline plug into.
package core
