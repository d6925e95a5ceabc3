package extid

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeUnavailable     ErrorType = "unavailable"
	ErrorTypeInternal        ErrorType = "internal"
)

// ExtIDError is the typed failure returned by every ledger operation.
type ExtIDError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Key     *MappingKey    `json:"key,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ExtIDError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("[%s:%s] mapping %s: %s", e.Type, e.Code, e.Key, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *ExtIDError) Unwrap() error {
	return e.Cause
}

// WithDetails merges details into the error
func (e *ExtIDError) WithDetails(details map[string]any) *ExtIDError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail
func (e *ExtIDError) WithDetail(key string, value any) *ExtIDError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *ExtIDError) WithCause(cause error) *ExtIDError {
	e.Cause = cause
	return e
}

func (e *ExtIDError) WithField(field string) *ExtIDError {
	e.Field = field
	return e
}

func (e *ExtIDError) WithKey(key MappingKey) *ExtIDError {
	e.Key = &key
	return e
}

const (
	ErrCodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	ErrCodeInvalidKeyPattern    = "INVALID_KEY_PATTERN"
	ErrCodeInvalidPaging        = "INVALID_PAGING"
	ErrCodeSystemNameMismatch   = "SYSTEM_NAME_MISMATCH"
	ErrCodeElementTypeMismatch  = "ELEMENT_TYPE_MISMATCH"
	ErrCodeElementNotFound      = "ELEMENT_NOT_FOUND"
	ErrCodeMappingNotFound      = "MAPPING_NOT_FOUND"
	ErrCodeSystemNotFound       = "SYSTEM_NOT_FOUND"
	ErrCodeMappingExists        = "MAPPING_ALREADY_EXISTS"
	ErrCodeAccessDenied         = "ACCESS_DENIED"
	ErrCodeElementStoreDown     = "ELEMENT_STORE_UNAVAILABLE"
	ErrCodeStorageFailed        = "STORAGE_FAILED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

func NewExtIDError(errorType ErrorType, code, message string) *ExtIDError {
	return &ExtIDError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewInvalidArgumentError reports a malformed or missing request field.
func NewInvalidArgumentError(field, message string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInvalidArgument,
		Code:    ErrCodeRequiredFieldMissing,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewRequiredFieldError is the common "field must not be empty" case.
func NewRequiredFieldError(field string) *ExtIDError {
	return NewInvalidArgumentError(field, "must not be empty")
}

func NewInvalidKeyPatternError(value string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInvalidArgument,
		Code:    ErrCodeInvalidKeyPattern,
		Message: fmt.Sprintf("unknown key pattern %q", value),
		Field:   "keyPattern",
		Details: map[string]any{"value": value},
	}
}

func NewInvalidPagingError(field, message string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInvalidArgument,
		Code:    ErrCodeInvalidPaging,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

func NewSystemNameMismatchError(systemGUID, registered, supplied string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInvalidArgument,
		Code:    ErrCodeSystemNameMismatch,
		Message: fmt.Sprintf("external system %s is registered as %q, not %q", systemGUID, registered, supplied),
		Field:   "externalSystemName",
		Details: map[string]any{
			"system_guid": systemGUID,
			"registered":  registered,
			"supplied":    supplied,
		},
	}
}

func NewElementTypeMismatchError(elementGUID, actual, supplied string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInvalidArgument,
		Code:    ErrCodeElementTypeMismatch,
		Message: fmt.Sprintf("element %s is a %s, not a %s", elementGUID, actual, supplied),
		Field:   "openMetadataElementTypeName",
		Details: map[string]any{
			"element_guid": elementGUID,
			"actual":       actual,
			"supplied":     supplied,
		},
	}
}

// NewElementNotFoundError reports a reference to an element the metadata repository does not know.
func NewElementNotFoundError(elementGUID string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInvalidArgument,
		Code:    ErrCodeElementNotFound,
		Message: fmt.Sprintf("open metadata element %s does not exist", elementGUID),
		Field:   "openMetadataElementGUID",
		Details: map[string]any{"element_guid": elementGUID},
	}
}

// NewMappingNotFoundError reports that no ledger entry matched the request.
func NewMappingNotFoundError(key MappingKey, identifierValue string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeMappingNotFound,
		Message: fmt.Sprintf("no external identifier %q recorded", identifierValue),
		Key:     &key,
		Details: map[string]any{"identifier": identifierValue},
	}
}

func NewSystemNotFoundError(systemGUID string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeSystemNotFound,
		Message: fmt.Sprintf("external system %s is not registered", systemGUID),
		Details: map[string]any{"system_guid": systemGUID},
	}
}

// NewConflictError reports a strict-mode create against an existing entry.
func NewConflictError(key MappingKey, existing string) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeMappingExists,
		Message: fmt.Sprintf("an external identifier %q is already recorded", existing),
		Key:     &key,
		Details: map[string]any{"existing_identifier": existing},
	}
}

func NewUnauthorizedError(op Operation, systemGUID string, cause error) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeUnauthorized,
		Code:    ErrCodeAccessDenied,
		Message: fmt.Sprintf("operation %s denied for external system %s", op, systemGUID),
		Cause:   cause,
		Details: map[string]any{"operation": string(op), "system_guid": systemGUID},
	}
}

func NewUnavailableError(message string, cause error) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeUnavailable,
		Code:    ErrCodeElementStoreDown,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

func NewStorageError(message string, cause error) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeStorageFailed,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

func NewInternalError(message string, cause error) *ExtIDError {
	return &ExtIDError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// ErrorTypeOf returns the ErrorType carried by err, or ErrorTypeInternal when err
// is not an ExtIDError. It returns "" for a nil error.
func ErrorTypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var extErr *ExtIDError
	if errors.As(err, &extErr) {
		return extErr.Type
	}
	return ErrorTypeInternal
}

func IsInvalidArgument(err error) bool { return ErrorTypeOf(err) == ErrorTypeInvalidArgument }
func IsNotFound(err error) bool        { return ErrorTypeOf(err) == ErrorTypeNotFound }
func IsConflict(err error) bool        { return ErrorTypeOf(err) == ErrorTypeConflict }
func IsUnauthorized(err error) bool    { return ErrorTypeOf(err) == ErrorTypeUnauthorized }
func IsUnavailable(err error) bool     { return ErrorTypeOf(err) == ErrorTypeUnavailable }
