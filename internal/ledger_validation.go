package internal

import (
	"context"
	"errors"
	"strings"

	"github.com/lychee-technology/extid"
	"go.uber.org/zap"
)

type requiredField struct {
	name  string
	value string
}

func requireFields(fields ...requiredField) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return extid.NewRequiredFieldError(f.name)
		}
	}
	return nil
}

// normalizeIdentifier applies the LOCAL_KEY default and rejects unknown patterns.
func normalizeIdentifier(identifier extid.ExternalIdentifier) (extid.ExternalIdentifier, error) {
	if strings.TrimSpace(identifier.IdentifierValue) == "" {
		return identifier, extid.NewRequiredFieldError("identifier")
	}
	identifier.KeyPattern = identifier.KeyPattern.OrDefault()
	if !identifier.KeyPattern.IsValid() {
		return identifier, extid.NewInvalidKeyPatternError(string(identifier.KeyPattern))
	}
	// Callers never set the confirmation time directly.
	identifier.LastSynchronized = nil
	return identifier.Clone(), nil
}

func (l *reconciliationLedger) normalizePaging(pageOffset, pageSize int) (int, error) {
	if pageOffset < 0 {
		return 0, extid.NewInvalidPagingError("pageOffset", "must not be negative")
	}
	if pageSize < 0 {
		return 0, extid.NewInvalidPagingError("pageSize", "must not be negative")
	}
	if pageSize == 0 {
		pageSize = l.config.Ledger.DefaultPageSize
	}
	if limit := l.config.Ledger.MaxPageSize; limit > 0 && pageSize > limit {
		pageSize = limit
	}
	return pageSize, nil
}

func (l *reconciliationLedger) authorize(ctx context.Context, op extid.Operation, systemGUID string) error {
	if err := l.access.CheckAccess(ctx, op, systemGUID); err != nil {
		return extid.NewUnauthorizedError(op, systemGUID, err)
	}
	return nil
}

// resolveSystemName checks systemName against the registry. Unregistered systems are
// accepted as-is; a registered system fills in an empty name and rejects a different one.
func (l *reconciliationLedger) resolveSystemName(ctx context.Context, systemGUID, systemName string) (string, error) {
	if l.systems == nil {
		return systemName, nil
	}
	ref, err := l.systems.Get(ctx, systemGUID)
	if errors.Is(err, ErrSystemNotFound) {
		return systemName, nil
	}
	if err != nil {
		return "", extid.NewStorageError("failed to read external system", err)
	}
	if systemName == "" {
		return ref.QualifiedName, nil
	}
	if systemName != ref.QualifiedName {
		return "", extid.NewSystemNameMismatchError(systemGUID, ref.QualifiedName, systemName)
	}
	return systemName, nil
}

func (l *reconciliationLedger) elementValidationEnabled() bool {
	return l.elements != nil && l.config.Ledger.ValidateElements
}

func (l *reconciliationLedger) validateElementHeader(ctx context.Context, elementGUID, elementTypeName string) error {
	if !l.elementValidationEnabled() {
		return nil
	}
	header, err := l.elements.GetElementHeader(ctx, elementGUID)
	if err != nil {
		zap.S().Warnw("element validation failed", "element_guid", elementGUID, "error", err)
		return asUnavailable(err)
	}
	if header == nil {
		return extid.NewElementNotFoundError(elementGUID)
	}
	if header.TypeName != elementTypeName {
		return extid.NewElementTypeMismatchError(elementGUID, header.TypeName, elementTypeName)
	}
	return nil
}

func (l *reconciliationLedger) validateElementExists(ctx context.Context, elementGUID string) error {
	if !l.elementValidationEnabled() {
		return nil
	}
	exists, err := l.elements.ElementExists(ctx, elementGUID)
	if err != nil {
		zap.S().Warnw("element validation failed", "element_guid", elementGUID, "error", err)
		return asUnavailable(err)
	}
	if !exists {
		return extid.NewElementNotFoundError(elementGUID)
	}
	return nil
}

func asUnavailable(err error) error {
	var extErr *extid.ExtIDError
	if errors.As(err, &extErr) {
		return extErr
	}
	return extid.NewUnavailableError("element store call failed", err)
}
