package internal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/extid"
	"go.uber.org/zap"
)

type reconciliationLedger struct {
	mappings MappingRepository
	systems  SystemRepository
	elements extid.ElementStore
	access   extid.AccessController
	config   *extid.Config
	nowFunc  func() time.Time
	newID    func() string
}

// LedgerOption customises a ledger built by NewLedger.
type LedgerOption func(*reconciliationLedger)

func WithAccessController(ac extid.AccessController) LedgerOption {
	return func(l *reconciliationLedger) {
		if ac != nil {
			l.access = ac
		}
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *reconciliationLedger) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

func WithIDGenerator(newID func() string) LedgerOption {
	return func(l *reconciliationLedger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// NewLedger creates a Ledger over the given repositories. elements may be nil, in which
// case element validation is skipped even when enabled in config.
func NewLedger(
	mappings MappingRepository,
	systems SystemRepository,
	elements extid.ElementStore,
	config *extid.Config,
	opts ...LedgerOption,
) extid.Ledger {
	if config == nil {
		config = extid.DefaultConfig()
	}
	l := &reconciliationLedger{
		mappings: mappings,
		systems:  systems,
		elements: elements,
		access:   extid.AllowAll{},
		config:   config,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// now is truncated to milliseconds so every backend stores identical timestamps.
func (l *reconciliationLedger) now() time.Time {
	return l.nowFunc().UTC().Truncate(time.Millisecond)
}

func (l *reconciliationLedger) observe(ctx context.Context, op extid.Operation) func(*error) {
	start := time.Now()
	return func(errp *error) {
		EmitLatency(ctx, op, time.Since(start).Milliseconds())
		EmitOperation(ctx, op, *errp)
	}
}

func (l *reconciliationLedger) AddExternalIdentifier(
	ctx context.Context,
	elementGUID, elementTypeName, systemGUID, systemName string,
	identifier extid.ExternalIdentifier,
) (result *extid.IdentifierMapping, err error) {
	defer l.observe(ctx, extid.OperationAdd)(&err)

	if err = requireFields(
		requiredField{"openMetadataElementGUID", elementGUID},
		requiredField{"openMetadataElementTypeName", elementTypeName},
		requiredField{"externalSystemGUID", systemGUID},
	); err != nil {
		return nil, err
	}
	if identifier, err = normalizeIdentifier(identifier); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationAdd, systemGUID); err != nil {
		return nil, err
	}
	if systemName, err = l.resolveSystemName(ctx, systemGUID, systemName); err != nil {
		return nil, err
	}
	if err = l.validateElementHeader(ctx, elementGUID, elementTypeName); err != nil {
		return nil, err
	}

	mapping := &extid.IdentifierMapping{
		Element:    extid.ElementHeader{GUID: elementGUID, TypeName: elementTypeName},
		SystemGUID: systemGUID,
		SystemName: systemName,
		Identifier: identifier,
	}
	stored, created, err := l.mappings.Put(ctx, mapping, l.now(), !l.config.Ledger.StrictCreate)
	if errors.Is(err, ErrMappingExists) {
		existing := ""
		if stored != nil {
			existing = stored.Identifier.IdentifierValue
		}
		zap.S().Warnw("rejected duplicate external identifier",
			"element_guid", elementGUID, "system_guid", systemGUID,
			"identifier", identifier.IdentifierValue, "existing_identifier", existing)
		return nil, extid.NewConflictError(mapping.Key(), existing)
	}
	if err != nil {
		return nil, extid.NewStorageError("failed to store external identifier", err).WithKey(mapping.Key())
	}

	zap.S().Debugw("recorded external identifier",
		"element_guid", elementGUID, "system_guid", systemGUID,
		"identifier", identifier.IdentifierValue, "created", created)
	return stored, nil
}

func (l *reconciliationLedger) UpdateExternalIdentifier(
	ctx context.Context,
	elementGUID, elementTypeName, systemGUID, systemName string,
	identifier extid.ExternalIdentifier,
) (result *extid.IdentifierMapping, err error) {
	defer l.observe(ctx, extid.OperationUpdate)(&err)

	if err = requireFields(
		requiredField{"openMetadataElementGUID", elementGUID},
		requiredField{"openMetadataElementTypeName", elementTypeName},
		requiredField{"externalSystemGUID", systemGUID},
	); err != nil {
		return nil, err
	}
	if identifier, err = normalizeIdentifier(identifier); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationUpdate, systemGUID); err != nil {
		return nil, err
	}
	if _, err = l.resolveSystemName(ctx, systemGUID, systemName); err != nil {
		return nil, err
	}
	if err = l.validateElementHeader(ctx, elementGUID, elementTypeName); err != nil {
		return nil, err
	}

	key := extid.MappingKey{ElementGUID: elementGUID, SystemGUID: systemGUID}
	stored, err := l.mappings.Update(ctx, key, identifier, l.now())
	if errors.Is(err, ErrMappingNotFound) {
		return nil, extid.NewMappingNotFoundError(key, identifier.IdentifierValue)
	}
	if err != nil {
		return nil, extid.NewStorageError("failed to update external identifier", err).WithKey(key)
	}
	return stored, nil
}

func (l *reconciliationLedger) RemoveExternalIdentifier(
	ctx context.Context,
	elementGUID, elementTypeName, systemGUID, systemName, identifierValue string,
) (err error) {
	defer l.observe(ctx, extid.OperationRemove)(&err)

	if err = requireFields(
		requiredField{"openMetadataElementGUID", elementGUID},
		requiredField{"openMetadataElementTypeName", elementTypeName},
		requiredField{"externalSystemGUID", systemGUID},
		requiredField{"identifier", identifierValue},
	); err != nil {
		return err
	}
	if err = l.authorize(ctx, extid.OperationRemove, systemGUID); err != nil {
		return err
	}
	if _, err = l.resolveSystemName(ctx, systemGUID, systemName); err != nil {
		return err
	}

	key := extid.MappingKey{ElementGUID: elementGUID, SystemGUID: systemGUID}
	removed, err := l.mappings.Delete(ctx, key, elementTypeName, identifierValue)
	if err != nil {
		return extid.NewStorageError("failed to remove external identifier", err).WithKey(key)
	}
	if !removed {
		zap.S().Debugw("external identifier already absent",
			"element_guid", elementGUID, "element_type", elementTypeName,
			"system_guid", systemGUID, "identifier", identifierValue)
	}
	return nil
}

func (l *reconciliationLedger) ConfirmSynchronization(
	ctx context.Context,
	elementGUID, systemGUID, systemName, identifierValue string,
) (result *extid.IdentifierMapping, err error) {
	defer l.observe(ctx, extid.OperationConfirm)(&err)

	if err = requireFields(
		requiredField{"openMetadataElementGUID", elementGUID},
		requiredField{"externalSystemGUID", systemGUID},
		requiredField{"identifier", identifierValue},
	); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationConfirm, systemGUID); err != nil {
		return nil, err
	}
	if _, err = l.resolveSystemName(ctx, systemGUID, systemName); err != nil {
		return nil, err
	}
	if err = l.validateElementExists(ctx, elementGUID); err != nil {
		return nil, err
	}

	key := extid.MappingKey{ElementGUID: elementGUID, SystemGUID: systemGUID}
	confirmedAt := l.now()
	stored, err := l.mappings.Confirm(ctx, key, identifierValue, confirmedAt)
	if errors.Is(err, ErrMappingNotFound) {
		return nil, extid.NewMappingNotFoundError(key, identifierValue)
	}
	if err != nil {
		return nil, extid.NewStorageError("failed to confirm synchronization", err).WithKey(key)
	}

	zap.S().Debugw("confirmed synchronization",
		"element_guid", elementGUID, "system_guid", systemGUID,
		"identifier", identifierValue, "at", confirmedAt)
	return stored, nil
}

func (l *reconciliationLedger) GetElementsForExternalIdentifier(
	ctx context.Context,
	systemGUID, systemName, identifierValue string,
	pageOffset, pageSize int,
) (result *extid.ElementPage, err error) {
	defer l.observe(ctx, extid.OperationLookup)(&err)

	if err = requireFields(
		requiredField{"externalSystemGUID", systemGUID},
		requiredField{"identifier", identifierValue},
	); err != nil {
		return nil, err
	}
	if pageSize, err = l.normalizePaging(pageOffset, pageSize); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationLookup, systemGUID); err != nil {
		return nil, err
	}
	if _, err = l.resolveSystemName(ctx, systemGUID, systemName); err != nil {
		return nil, err
	}

	mappings, total, err := l.mappings.ListByIdentifier(ctx, systemGUID, identifierValue, pageOffset, pageSize)
	if err != nil {
		return nil, extid.NewStorageError("failed to look up external identifier", err)
	}

	elements := make([]extid.ElementHeader, 0, len(mappings))
	for _, m := range mappings {
		elements = append(elements, m.Element)
	}
	return &extid.ElementPage{
		Elements:   elements,
		TotalCount: total,
		PageOffset: pageOffset,
		PageSize:   pageSize,
	}, nil
}

func (l *reconciliationLedger) GetExternalIdentifiersForElement(
	ctx context.Context,
	elementGUID string,
	pageOffset, pageSize int,
) (result *extid.MappingPage, err error) {
	defer l.observe(ctx, extid.OperationLookup)(&err)

	if err = requireFields(requiredField{"openMetadataElementGUID", elementGUID}); err != nil {
		return nil, err
	}
	if pageSize, err = l.normalizePaging(pageOffset, pageSize); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationLookup, ""); err != nil {
		return nil, err
	}

	mappings, total, err := l.mappings.ListByElement(ctx, elementGUID, pageOffset, pageSize)
	if err != nil {
		return nil, extid.NewStorageError("failed to list external identifiers", err)
	}
	return &extid.MappingPage{
		Mappings:   mappings,
		TotalCount: total,
		PageOffset: pageOffset,
		PageSize:   pageSize,
	}, nil
}

func (l *reconciliationLedger) GetExternalIdentifier(ctx context.Context, elementGUID, systemGUID string) (result *extid.IdentifierMapping, err error) {
	defer l.observe(ctx, extid.OperationGet)(&err)

	if err = requireFields(
		requiredField{"openMetadataElementGUID", elementGUID},
		requiredField{"externalSystemGUID", systemGUID},
	); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationGet, systemGUID); err != nil {
		return nil, err
	}
	return l.getMapping(ctx, extid.MappingKey{ElementGUID: elementGUID, SystemGUID: systemGUID})
}

func (l *reconciliationLedger) getMapping(ctx context.Context, key extid.MappingKey) (*extid.IdentifierMapping, error) {
	stored, err := l.mappings.Get(ctx, key)
	if errors.Is(err, ErrMappingNotFound) {
		return nil, extid.NewMappingNotFoundError(key, "")
	}
	if err != nil {
		return nil, extid.NewStorageError("failed to read external identifier", err).WithKey(key)
	}
	return stored, nil
}

func (l *reconciliationLedger) RegisterExternalSystem(ctx context.Context, qualifiedName string) (result *extid.ExternalSystemRef, err error) {
	defer l.observe(ctx, extid.OperationRegisterSystem)(&err)

	if err = requireFields(requiredField{"qualifiedName", qualifiedName}); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationRegisterSystem, ""); err != nil {
		return nil, err
	}

	ref := &extid.ExternalSystemRef{
		GUID:          l.newID(),
		QualifiedName: qualifiedName,
		CreatedAt:     l.now(),
	}
	stored, created, err := l.systems.Register(ctx, ref)
	if err != nil {
		return nil, extid.NewStorageError("failed to register external system", err)
	}
	if created {
		zap.S().Infow("registered external system", "system_guid", stored.GUID, "qualified_name", qualifiedName)
	}
	return stored, nil
}

func (l *reconciliationLedger) GetExternalSystem(ctx context.Context, systemGUID string) (result *extid.ExternalSystemRef, err error) {
	defer l.observe(ctx, extid.OperationGet)(&err)

	if err = requireFields(requiredField{"externalSystemGUID", systemGUID}); err != nil {
		return nil, err
	}
	if err = l.authorize(ctx, extid.OperationGet, systemGUID); err != nil {
		return nil, err
	}
	ref, err := l.systems.Get(ctx, systemGUID)
	if errors.Is(err, ErrSystemNotFound) {
		return nil, extid.NewSystemNotFoundError(systemGUID)
	}
	if err != nil {
		return nil, extid.NewStorageError("failed to read external system", err)
	}
	return ref, nil
}

func (l *reconciliationLedger) CheckSynchronization(
	ctx context.Context,
	elementGUID, systemGUID string,
	elementUpdatedAt, externalUpdatedAt time.Time,
) (status extid.SyncStatus, err error) {
	defer l.observe(ctx, extid.OperationCheckSync)(&err)

	if err = requireFields(
		requiredField{"openMetadataElementGUID", elementGUID},
		requiredField{"externalSystemGUID", systemGUID},
	); err != nil {
		return "", err
	}
	if err = l.authorize(ctx, extid.OperationCheckSync, systemGUID); err != nil {
		return "", err
	}
	stored, err := l.getMapping(ctx, extid.MappingKey{ElementGUID: elementGUID, SystemGUID: systemGUID})
	if err != nil {
		return "", err
	}
	return extid.EvaluateSync(stored.Identifier.LastSynchronized, elementUpdatedAt, externalUpdatedAt), nil
}
