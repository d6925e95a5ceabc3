package extid

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// KeyPattern describes how stable or reusable an external system's key is.
type KeyPattern string

const (
	KeyPatternLocal     KeyPattern = "LOCAL_KEY"
	KeyPatternRecycled  KeyPattern = "RECYCLED_KEY"
	KeyPatternAggregate KeyPattern = "AGGREGATE_KEY"
	KeyPatternCallers   KeyPattern = "CALLERS_KEY"
	KeyPatternStable    KeyPattern = "STABLE_KEY"
	KeyPatternOther     KeyPattern = "OTHER"
)

var keyPatterns = []KeyPattern{
	KeyPatternLocal,
	KeyPatternRecycled,
	KeyPatternAggregate,
	KeyPatternCallers,
	KeyPatternStable,
	KeyPatternOther,
}

// KeyPatterns lists every supported key pattern in declaration order.
func KeyPatterns() []KeyPattern {
	return append([]KeyPattern(nil), keyPatterns...)
}

// ParseKeyPattern accepts the canonical upper-case names as well as lower-case
// and dash-separated spellings. An empty string resolves to KeyPatternLocal.
func ParseKeyPattern(s string) (KeyPattern, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if normalized == "" {
		return KeyPatternLocal, nil
	}
	for _, p := range keyPatterns {
		if string(p) == normalized {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown key pattern %q", s)
}

// OrDefault returns KeyPatternLocal for the zero value.
func (p KeyPattern) OrDefault() KeyPattern {
	if p == "" {
		return KeyPatternLocal
	}
	return p
}

func (p KeyPattern) IsValid() bool {
	for _, known := range keyPatterns {
		if p == known {
			return true
		}
	}
	return false
}

func (p KeyPattern) String() string {
	return string(p)
}

func (p *KeyPattern) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("key pattern must be a string: %w", err)
	}
	parsed, err := ParseKeyPattern(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ElementHeader identifies an open metadata element owned by the metadata repository.
type ElementHeader struct {
	GUID     string `json:"guid"`
	TypeName string `json:"typeName"`
}

// ExternalSystemRef identifies a third-party system of record (an "asset manager").
type ExternalSystemRef struct {
	GUID          string    `json:"guid"`
	QualifiedName string    `json:"qualifiedName"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ExternalIdentifier is one external system's own key for one open metadata element.
type ExternalIdentifier struct {
	IdentifierValue   string            `json:"identifier"`
	KeyPattern        KeyPattern        `json:"keyPattern,omitempty"`
	Description       string            `json:"description,omitempty"`
	Usage             string            `json:"usage,omitempty"`
	Source            string            `json:"source,omitempty"`
	MappingProperties map[string]string `json:"mappingProperties,omitempty"`
	LastSynchronized  *time.Time        `json:"lastSynchronized,omitempty"`
}

// Clone returns a deep copy so callers never share the mapping properties map.
func (e ExternalIdentifier) Clone() ExternalIdentifier {
	out := e
	if e.MappingProperties != nil {
		out.MappingProperties = maps.Clone(e.MappingProperties)
	}
	if e.LastSynchronized != nil {
		ts := *e.LastSynchronized
		out.LastSynchronized = &ts
	}
	return out
}

// MappingKey is the primary key of the ledger: one entry per element per external system.
type MappingKey struct {
	ElementGUID string `json:"elementGuid"`
	SystemGUID  string `json:"systemGuid"`
}

func (k MappingKey) String() string {
	return k.ElementGUID + "@" + k.SystemGUID
}

// IdentifierMapping is a stored ledger entry.
type IdentifierMapping struct {
	Element    ElementHeader      `json:"element"`
	SystemGUID string             `json:"systemGuid"`
	SystemName string             `json:"systemName"`
	Identifier ExternalIdentifier `json:"externalIdentifier"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	// Sequence breaks CreatedAt ties so creation ordering stays stable.
	Sequence int64 `json:"sequence"`
}

func (m *IdentifierMapping) Key() MappingKey {
	return MappingKey{ElementGUID: m.Element.GUID, SystemGUID: m.SystemGUID}
}

func (m *IdentifierMapping) Clone() *IdentifierMapping {
	if m == nil {
		return nil
	}
	out := *m
	out.Identifier = m.Identifier.Clone()
	return &out
}

// ElementPage is a page of element headers returned by a reverse lookup.
type ElementPage struct {
	Elements   []ElementHeader `json:"elements"`
	TotalCount int64           `json:"totalCount"`
	PageOffset int             `json:"pageOffset"`
	PageSize   int             `json:"pageSize"`
}

// MappingPage is a page of ledger entries returned by a forward lookup.
type MappingPage struct {
	Mappings   []*IdentifierMapping `json:"mappings"`
	TotalCount int64                `json:"totalCount"`
	PageOffset int                  `json:"pageOffset"`
	PageSize   int                  `json:"pageSize"`
}

// Operation names a ledger operation for access control and telemetry.
type Operation string

const (
	OperationAdd            Operation = "add"
	OperationUpdate         Operation = "update"
	OperationRemove         Operation = "remove"
	OperationConfirm        Operation = "confirm"
	OperationLookup         Operation = "lookup"
	OperationGet            Operation = "get"
	OperationRegisterSystem Operation = "register_system"
	OperationCheckSync      Operation = "check_sync"
)

// SyncStatus is the outcome of comparing both sides against the last confirmation.
type SyncStatus string

const (
	SyncStatusNeverSynchronized SyncStatus = "NEVER_SYNCHRONIZED"
	SyncStatusInSync            SyncStatus = "IN_SYNC"
	SyncStatusElementChanged    SyncStatus = "ELEMENT_CHANGED"
	SyncStatusExternalChanged   SyncStatus = "EXTERNAL_CHANGED"
	SyncStatusBothChanged       SyncStatus = "BOTH_CHANGED"
)

// EvaluateSync classifies drift given the last confirmation time and the latest
// update time observed on each side. Zero update times are treated as "unchanged".
func EvaluateSync(lastSynchronized *time.Time, elementUpdatedAt, externalUpdatedAt time.Time) SyncStatus {
	if lastSynchronized == nil {
		return SyncStatusNeverSynchronized
	}
	elementChanged := !elementUpdatedAt.IsZero() && elementUpdatedAt.After(*lastSynchronized)
	externalChanged := !externalUpdatedAt.IsZero() && externalUpdatedAt.After(*lastSynchronized)
	switch {
	case elementChanged && externalChanged:
		return SyncStatusBothChanged
	case elementChanged:
		return SyncStatusElementChanged
	case externalChanged:
		return SyncStatusExternalChanged
	default:
		return SyncStatusInSync
	}
}
