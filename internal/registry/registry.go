package registry

import (
	"context"
)

// Registry stores the identifiers of live connections.
type Registry interface {
	// Add records a newly established connection
	Add(ctx context.Context, connectionId string) error

	// List returns a snapshot of every recorded connection, oldest first
	List(ctx context.Context) ([]string, error)

	// Remove forgets a connection. Removing an unknown id is not an error.
	Remove(ctx context.Context, connectionId string) error
}
