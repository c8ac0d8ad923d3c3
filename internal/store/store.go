// Package store persists SyncProgress records keyed by request id. The
// scheduler treats it as a narrow key-value interface; implementations
// cover in-memory (tests, single process) and bbolt (durable).
package store

import "github.com/treemover/treemover/pkg/model"

// Store is the durable progress collaborator interface.
type Store interface {
	// Put upserts the progress record for its request id.
	Put(progress model.SyncProgress) error
	// Get returns the record for requestID, and whether it exists.
	Get(requestID string) (model.SyncProgress, bool, error)
	// List returns every stored record in unspecified order.
	List() ([]model.SyncProgress, error)
}
