package scoretable

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Repository persists score table versions. Versions are append-only: Publish
// never overwrites, and exactly one version is active at a time.
type Repository interface {
	// Publish validates and stores a new version. Fails with
	// shared.ErrConfiguration when validation fails, and with
	// shared.ErrAlreadyExists when the version is taken.
	Publish(ctx context.Context, t *Table) error

	// Activate flips the active flag to the given version atomically.
	Activate(ctx context.Context, version shared.TableVersion) error

	// GetActive returns the active version, or shared.ErrNoActiveTable.
	GetActive(ctx context.Context) (*Table, error)

	// GetVersion returns a specific version, or shared.ErrTableNotFound.
	// Historical cards resolve their snapshot against this, never GetActive.
	GetVersion(ctx context.Context, version shared.TableVersion) (*Table, error)

	// ListVersions returns all version ids, newest first.
	ListVersions(ctx context.Context) ([]shared.TableVersion, error)
}
