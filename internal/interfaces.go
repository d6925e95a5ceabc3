package internal

import (
	"context"
	"errors"
	"time"

	"github.com/lychee-technology/extid"
)

var (
	ErrMappingNotFound = errors.New("mapping not found")
	ErrMappingExists   = errors.New("mapping already exists")
	ErrSystemNotFound  = errors.New("external system not found")
)

// MappingRepository stores ledger entries. Implementations must serialize mutations of
// a single (element, system) key without serializing unrelated keys.
type MappingRepository interface {
	// Put creates the entry for m.Key() or, when overwrite is set, replaces it. Replacing
	// with the same identifier value keeps CreatedAt, Sequence and LastSynchronized;
	// a different value starts a fresh link. Without overwrite an existing entry is
	// returned together with ErrMappingExists.
	Put(ctx context.Context, m *extid.IdentifierMapping, now time.Time, overwrite bool) (stored *extid.IdentifierMapping, created bool, err error)
	// Update replaces the descriptive fields of the entry matching key and identifier value.
	Update(ctx context.Context, key extid.MappingKey, identifier extid.ExternalIdentifier, now time.Time) (*extid.IdentifierMapping, error)
	// Delete removes the entry matching key, element type and identifier value. It reports
	// false when nothing matched.
	Delete(ctx context.Context, key extid.MappingKey, elementTypeName, identifierValue string) (bool, error)
	Confirm(ctx context.Context, key extid.MappingKey, identifierValue string, at time.Time) (*extid.IdentifierMapping, error)

	Get(ctx context.Context, key extid.MappingKey) (*extid.IdentifierMapping, error)
	ListByIdentifier(ctx context.Context, systemGUID, identifierValue string, offset, limit int) ([]*extid.IdentifierMapping, int64, error)
	ListByElement(ctx context.Context, elementGUID string, offset, limit int) ([]*extid.IdentifierMapping, int64, error)
	Scan(ctx context.Context, fn func(*extid.IdentifierMapping) error) error
}

// SystemRepository stores external system registrations.
type SystemRepository interface {
	// Register stores ref unless its qualified name is already registered, in which case
	// the existing registration is returned with created=false.
	Register(ctx context.Context, ref *extid.ExternalSystemRef) (stored *extid.ExternalSystemRef, created bool, err error)
	Get(ctx context.Context, guid string) (*extid.ExternalSystemRef, error)
}
