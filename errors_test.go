package extid

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtIDError_Error(t *testing.T) {
	key := MappingKey{ElementGUID: "E1", SystemGUID: "S1"}

	assert.Equal(t, "[not_found:MAPPING_NOT_FOUND] mapping E1@S1: no external identifier \"EXT-1\" recorded",
		NewMappingNotFoundError(key, "EXT-1").Error())
	assert.Equal(t, "[invalid_argument:REQUIRED_FIELD_MISSING] field 'identifier': must not be empty",
		NewRequiredFieldError("identifier").Error())
	assert.Equal(t, "[unavailable:ELEMENT_STORE_UNAVAILABLE] store down",
		NewUnavailableError("store down", nil).Error())
}

func TestExtIDError_UnwrapAndClassify(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", NewStorageError("failed to write", cause))

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, ErrorTypeInternal, ErrorTypeOf(err))
	assert.Equal(t, ErrorTypeInternal, ErrorTypeOf(errors.New("plain")))
	assert.Equal(t, ErrorType(""), ErrorTypeOf(nil))

	assert.True(t, IsInvalidArgument(NewInvalidKeyPatternError("X")))
	assert.True(t, IsInvalidArgument(NewElementNotFoundError("E1")))
	assert.True(t, IsInvalidArgument(NewElementTypeMismatchError("E1", "Asset", "Process")))
	assert.True(t, IsNotFound(NewSystemNotFoundError("S1")))
	assert.True(t, IsConflict(NewConflictError(MappingKey{}, "EXT-1")))
	assert.True(t, IsUnauthorized(NewUnauthorizedError(OperationAdd, "S1", cause)))
	assert.True(t, IsUnavailable(NewUnavailableError("down", cause)))
}

func TestExtIDError_Builders(t *testing.T) {
	err := NewExtIDError(ErrorTypeConflict, ErrCodeMappingExists, "dup").
		WithField("identifier").
		WithKey(MappingKey{ElementGUID: "E1", SystemGUID: "S1"}).
		WithDetail("existing_identifier", "EXT-1").
		WithDetails(map[string]any{"attempted": "EXT-2"})

	assert.Equal(t, "identifier", err.Field)
	assert.Equal(t, "E1", err.Key.ElementGUID)
	assert.Equal(t, "EXT-1", err.Details["existing_identifier"])
	assert.Equal(t, "EXT-2", err.Details["attempted"])

	mismatch := NewSystemNameMismatchError("S1", "crm", "erp")
	assert.Equal(t, "externalSystemName", mismatch.Field)
	assert.Equal(t, "crm", mismatch.Details["registered"])
}
