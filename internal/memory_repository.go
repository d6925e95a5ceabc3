package internal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lychee-technology/extid"
)

type identifierKey struct {
	systemGUID      string
	identifierValue string
}

type mappingShard struct {
	mu      sync.RWMutex
	entries map[extid.MappingKey]*extid.IdentifierMapping
}

type indexShard[K comparable] struct {
	mu   sync.RWMutex
	keys map[K]keySet
}

func (s *indexShard[K]) add(k K, key extid.MappingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.keys[k]
	if !ok {
		set = keySet{}
		s.keys[k] = set
	}
	set.add(key)
}

func (s *indexShard[K]) remove(k K, key extid.MappingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.keys[k]
	if !ok {
		return
	}
	set.remove(key)
	if len(set) == 0 {
		delete(s.keys, k)
	}
}

func (s *indexShard[K]) snapshot(k K) []extid.MappingKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.keys[k]
	if !ok {
		return nil
	}
	return set.keys()
}

// MemoryMappingRepository keeps the ledger in sharded maps. The primary index is keyed by
// (element, system); two secondary indexes map (system, identifier value) and element GUID
// back to primary keys.
//
// Lock order: a primary shard lock may be held while taking an index shard lock, never
// the other way round. Readers copy keys out of an index shard before touching primaries.
type MemoryMappingRepository struct {
	primary   []*mappingShard
	byIdent   []*indexShard[identifierKey]
	byElement []*indexShard[string]
	sequence  atomic.Int64
}

func NewMemoryMappingRepository(shards int) *MemoryMappingRepository {
	if shards <= 0 {
		shards = 1
	}
	r := &MemoryMappingRepository{
		primary:   make([]*mappingShard, shards),
		byIdent:   make([]*indexShard[identifierKey], shards),
		byElement: make([]*indexShard[string], shards),
	}
	for i := 0; i < shards; i++ {
		r.primary[i] = &mappingShard{entries: make(map[extid.MappingKey]*extid.IdentifierMapping)}
		r.byIdent[i] = &indexShard[identifierKey]{keys: make(map[identifierKey]keySet)}
		r.byElement[i] = &indexShard[string]{keys: make(map[string]keySet)}
	}
	return r
}

func (r *MemoryMappingRepository) primaryFor(key extid.MappingKey) *mappingShard {
	return r.primary[fnv32a(key.ElementGUID+"\x00"+key.SystemGUID)%uint32(len(r.primary))]
}

func (r *MemoryMappingRepository) identShardFor(k identifierKey) *indexShard[identifierKey] {
	return r.byIdent[fnv32a(k.systemGUID+"\x00"+k.identifierValue)%uint32(len(r.byIdent))]
}

func (r *MemoryMappingRepository) elementShardFor(elementGUID string) *indexShard[string] {
	return r.byElement[fnv32a(elementGUID)%uint32(len(r.byElement))]
}

func (r *MemoryMappingRepository) indexIdentifier(systemGUID, value string, key extid.MappingKey) {
	k := identifierKey{systemGUID: systemGUID, identifierValue: value}
	r.identShardFor(k).add(k, key)
}

func (r *MemoryMappingRepository) unindexIdentifier(systemGUID, value string, key extid.MappingKey) {
	k := identifierKey{systemGUID: systemGUID, identifierValue: value}
	r.identShardFor(k).remove(k, key)
}

func (r *MemoryMappingRepository) Put(ctx context.Context, m *extid.IdentifierMapping, now time.Time, overwrite bool) (*extid.IdentifierMapping, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key := m.Key()
	shard := r.primaryFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.entries[key]
	if ok && !overwrite {
		return existing.Clone(), false, ErrMappingExists
	}

	stored := m.Clone()
	stored.UpdatedAt = now
	sameLink := ok && existing.Identifier.IdentifierValue == stored.Identifier.IdentifierValue
	if sameLink {
		stored.CreatedAt = existing.CreatedAt
		stored.Sequence = existing.Sequence
		stored.Identifier.LastSynchronized = existing.Clone().Identifier.LastSynchronized
	} else {
		if ok {
			r.unindexIdentifier(key.SystemGUID, existing.Identifier.IdentifierValue, key)
		} else {
			r.elementShardFor(key.ElementGUID).add(key.ElementGUID, key)
		}
		stored.CreatedAt = now
		stored.Sequence = r.sequence.Add(1)
		stored.Identifier.LastSynchronized = nil
		r.indexIdentifier(key.SystemGUID, stored.Identifier.IdentifierValue, key)
	}

	shard.entries[key] = stored
	return stored.Clone(), !ok, nil
}

func (r *MemoryMappingRepository) Update(ctx context.Context, key extid.MappingKey, identifier extid.ExternalIdentifier, now time.Time) (*extid.IdentifierMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shard := r.primaryFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.entries[key]
	if !ok || existing.Identifier.IdentifierValue != identifier.IdentifierValue {
		return nil, ErrMappingNotFound
	}

	updated := existing.Clone()
	replacement := identifier.Clone()
	updated.Identifier.KeyPattern = replacement.KeyPattern
	updated.Identifier.Description = replacement.Description
	updated.Identifier.Usage = replacement.Usage
	updated.Identifier.Source = replacement.Source
	updated.Identifier.MappingProperties = replacement.MappingProperties
	updated.UpdatedAt = now

	shard.entries[key] = updated
	return updated.Clone(), nil
}

func (r *MemoryMappingRepository) Delete(ctx context.Context, key extid.MappingKey, elementTypeName, identifierValue string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	shard := r.primaryFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.entries[key]
	if !ok || existing.Identifier.IdentifierValue != identifierValue || existing.Element.TypeName != elementTypeName {
		return false, nil
	}
	delete(shard.entries, key)
	r.unindexIdentifier(key.SystemGUID, identifierValue, key)
	r.elementShardFor(key.ElementGUID).remove(key.ElementGUID, key)
	return true, nil
}

func (r *MemoryMappingRepository) Confirm(ctx context.Context, key extid.MappingKey, identifierValue string, at time.Time) (*extid.IdentifierMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shard := r.primaryFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.entries[key]
	if !ok || existing.Identifier.IdentifierValue != identifierValue {
		return nil, ErrMappingNotFound
	}
	confirmed := existing.Clone()
	ts := at
	confirmed.Identifier.LastSynchronized = &ts
	shard.entries[key] = confirmed
	return confirmed.Clone(), nil
}

func (r *MemoryMappingRepository) Get(ctx context.Context, key extid.MappingKey) (*extid.IdentifierMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shard := r.primaryFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	existing, ok := shard.entries[key]
	if !ok {
		return nil, ErrMappingNotFound
	}
	return existing.Clone(), nil
}

// collect resolves primary keys into mappings, skipping entries removed or re-pointed
// after the index snapshot was taken.
func (r *MemoryMappingRepository) collect(keys []extid.MappingKey, keep func(*extid.IdentifierMapping) bool) []*extid.IdentifierMapping {
	out := make([]*extid.IdentifierMapping, 0, len(keys))
	for _, key := range keys {
		shard := r.primaryFor(key)
		shard.mu.RLock()
		m, ok := shard.entries[key]
		if ok && keep(m) {
			out = append(out, m.Clone())
		}
		shard.mu.RUnlock()
	}
	sortByCreation(out)
	return out
}

func (r *MemoryMappingRepository) ListByIdentifier(ctx context.Context, systemGUID, identifierValue string, offset, limit int) ([]*extid.IdentifierMapping, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	k := identifierKey{systemGUID: systemGUID, identifierValue: identifierValue}
	keys := r.identShardFor(k).snapshot(k)
	all := r.collect(keys, func(m *extid.IdentifierMapping) bool {
		return m.SystemGUID == systemGUID && m.Identifier.IdentifierValue == identifierValue
	})
	return pageSlice(all, offset, limit), int64(len(all)), nil
}

func (r *MemoryMappingRepository) ListByElement(ctx context.Context, elementGUID string, offset, limit int) ([]*extid.IdentifierMapping, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	keys := r.elementShardFor(elementGUID).snapshot(elementGUID)
	all := r.collect(keys, func(m *extid.IdentifierMapping) bool {
		return m.Element.GUID == elementGUID
	})
	return pageSlice(all, offset, limit), int64(len(all)), nil
}

// Scan visits every entry in creation order. It works on a copy, so fn may call back
// into the repository.
func (r *MemoryMappingRepository) Scan(ctx context.Context, fn func(*extid.IdentifierMapping) error) error {
	var all []*extid.IdentifierMapping
	for _, shard := range r.primary {
		shard.mu.RLock()
		for _, m := range shard.entries {
			all = append(all, m.Clone())
		}
		shard.mu.RUnlock()
	}
	sortByCreation(all)
	for _, m := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// MemorySystemRepository keeps external system registrations in memory. Registrations are
// rare, so a single lock is enough here.
type MemorySystemRepository struct {
	mu     sync.RWMutex
	byGUID map[string]*extid.ExternalSystemRef
	byName map[string]string
}

func NewMemorySystemRepository() *MemorySystemRepository {
	return &MemorySystemRepository{
		byGUID: make(map[string]*extid.ExternalSystemRef),
		byName: make(map[string]string),
	}
}

func (r *MemorySystemRepository) Register(ctx context.Context, ref *extid.ExternalSystemRef) (*extid.ExternalSystemRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if guid, ok := r.byName[ref.QualifiedName]; ok {
		existing := *r.byGUID[guid]
		return &existing, false, nil
	}
	stored := *ref
	r.byGUID[stored.GUID] = &stored
	r.byName[stored.QualifiedName] = stored.GUID
	out := stored
	return &out, true, nil
}

func (r *MemorySystemRepository) Get(ctx context.Context, guid string) (*extid.ExternalSystemRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.byGUID[guid]
	if !ok {
		return nil, ErrSystemNotFound
	}
	out := *ref
	return &out, nil
}
