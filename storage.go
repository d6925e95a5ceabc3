package extid

import (
	"context"
	"time"
)

// Ledger reconciles open metadata elements with the identifiers external systems use for them.
type Ledger interface {
	// Mutations
	AddExternalIdentifier(ctx context.Context, elementGUID, elementTypeName, systemGUID, systemName string, identifier ExternalIdentifier) (*IdentifierMapping, error)
	UpdateExternalIdentifier(ctx context.Context, elementGUID, elementTypeName, systemGUID, systemName string, identifier ExternalIdentifier) (*IdentifierMapping, error)
	RemoveExternalIdentifier(ctx context.Context, elementGUID, elementTypeName, systemGUID, systemName, identifierValue string) error
	ConfirmSynchronization(ctx context.Context, elementGUID, systemGUID, systemName, identifierValue string) (*IdentifierMapping, error)

	// Lookups
	GetElementsForExternalIdentifier(ctx context.Context, systemGUID, systemName, identifierValue string, pageOffset, pageSize int) (*ElementPage, error)
	GetExternalIdentifiersForElement(ctx context.Context, elementGUID string, pageOffset, pageSize int) (*MappingPage, error)
	GetExternalIdentifier(ctx context.Context, elementGUID, systemGUID string) (*IdentifierMapping, error)

	// External systems
	RegisterExternalSystem(ctx context.Context, qualifiedName string) (*ExternalSystemRef, error)
	GetExternalSystem(ctx context.Context, systemGUID string) (*ExternalSystemRef, error)

	// Drift
	CheckSynchronization(ctx context.Context, elementGUID, systemGUID string, elementUpdatedAt, externalUpdatedAt time.Time) (SyncStatus, error)
}

// ElementStore is the read-only view of the open metadata repository the ledger consults
// before mutating entries.
type ElementStore interface {
	ElementExists(ctx context.Context, guid string) (bool, error)
	// GetElementHeader returns (nil, nil) when the element does not exist.
	GetElementHeader(ctx context.Context, guid string) (*ElementHeader, error)
}

// AccessController is the hook into the caller's access-control layer.
// A non-nil error denies the operation.
type AccessController interface {
	CheckAccess(ctx context.Context, op Operation, systemGUID string) error
}

// AllowAll grants every operation.
type AllowAll struct{}

func (AllowAll) CheckAccess(context.Context, Operation, string) error { return nil }
