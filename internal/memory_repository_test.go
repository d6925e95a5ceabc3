package internal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lychee-technology/extid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMapping(elementGUID, systemGUID, value string) *extid.IdentifierMapping {
	return &extid.IdentifierMapping{
		Element:    extid.ElementHeader{GUID: elementGUID, TypeName: "Asset"},
		SystemGUID: systemGUID,
		Identifier: extid.ExternalIdentifier{IdentifierValue: value, KeyPattern: extid.KeyPatternLocal},
	}
}

func TestMemoryMappingRepository_PutStrict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMappingRepository(4)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	stored, created, err := repo.Put(ctx, newMapping("E1", "S1", "A"), now, false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), stored.Sequence)

	existing, created, err := repo.Put(ctx, newMapping("E1", "S1", "B"), now.Add(time.Second), false)
	require.ErrorIs(t, err, ErrMappingExists)
	assert.False(t, created)
	assert.Equal(t, "A", existing.Identifier.IdentifierValue)
}

func TestMemoryMappingRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMappingRepository(1)
	m := newMapping("E1", "S1", "A")
	m.Identifier.MappingProperties = map[string]string{"k": "v"}

	stored, _, err := repo.Put(ctx, m, time.Now(), true)
	require.NoError(t, err)
	stored.Identifier.MappingProperties["k"] = "mutated"
	m.Identifier.MappingProperties["k"] = "mutated"

	got, err := repo.Get(ctx, m.Key())
	require.NoError(t, err)
	assert.Equal(t, "v", got.Identifier.MappingProperties["k"])
}

func TestMemoryMappingRepository_IndexesFollowReplacement(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMappingRepository(2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := repo.Put(ctx, newMapping("E1", "S1", "A"), now, true)
	require.NoError(t, err)
	_, _, err = repo.Put(ctx, newMapping("E1", "S1", "B"), now.Add(time.Second), true)
	require.NoError(t, err)

	byA, total, err := repo.ListByIdentifier(ctx, "S1", "A", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, byA)
	assert.Equal(t, int64(0), total)

	byB, _, err := repo.ListByIdentifier(ctx, "S1", "B", 0, 10)
	require.NoError(t, err)
	require.Len(t, byB, 1)

	byElement, total, err := repo.ListByElement(ctx, "E1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "B", byElement[0].Identifier.IdentifierValue)

	removed, err := repo.Delete(ctx, extid.MappingKey{ElementGUID: "E1", SystemGUID: "S1"}, "Process", "B")
	require.NoError(t, err)
	assert.False(t, removed, "element type must match")

	removed, err = repo.Delete(ctx, extid.MappingKey{ElementGUID: "E1", SystemGUID: "S1"}, "Asset", "B")
	require.NoError(t, err)
	assert.True(t, removed)

	byElement, total, err = repo.ListByElement(ctx, "E1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, byElement)
	assert.Equal(t, int64(0), total)
}

func TestMemoryMappingRepository_SameTimestampOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMappingRepository(8)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		_, _, err := repo.Put(ctx, newMapping(fmt.Sprintf("E%02d", i), "S1", "SHARED"), now, true)
		require.NoError(t, err)
	}

	mappings, total, err := repo.ListByIdentifier(ctx, "S1", "SHARED", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
	for i, m := range mappings {
		assert.Equal(t, fmt.Sprintf("E%02d", i), m.Element.GUID)
	}
}

func TestMemoryMappingRepository_ScanInCreationOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMappingRepository(4)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, elem := range []string{"E3", "E1", "E2"} {
		_, _, err := repo.Put(ctx, newMapping(elem, "S1", elem), base.Add(time.Duration(i)*time.Second), true)
		require.NoError(t, err)
	}

	var seen []string
	require.NoError(t, repo.Scan(ctx, func(m *extid.IdentifierMapping) error {
		seen = append(seen, m.Element.GUID)
		return nil
	}))
	assert.Equal(t, []string{"E3", "E1", "E2"}, seen)
}

func TestMemoryMappingRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewMemoryMappingRepository(1)

	_, _, err := repo.Put(ctx, newMapping("E1", "S1", "A"), time.Now(), true)
	require.ErrorIs(t, err, context.Canceled)
	_, err = repo.Get(ctx, extid.MappingKey{ElementGUID: "E1", SystemGUID: "S1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryMappingRepository_ConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMappingRepository(4)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				elem := fmt.Sprintf("E%d", i%10)
				value := fmt.Sprintf("V%d", (i+w)%3)
				_, _, err := repo.Put(ctx, newMapping(elem, "S1", value), time.Now(), true)
				assert.NoError(t, err)
				if i%7 == 0 {
					_, err = repo.Delete(ctx, extid.MappingKey{ElementGUID: elem, SystemGUID: "S1"}, "Asset", value)
					assert.NoError(t, err)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				mappings, _, err := repo.ListByIdentifier(ctx, "S1", fmt.Sprintf("V%d", i%3), 0, 0)
				assert.NoError(t, err)
				for _, m := range mappings {
					assert.Equal(t, fmt.Sprintf("V%d", i%3), m.Identifier.IdentifierValue)
				}
			}
		}()
	}
	wg.Wait()

	// Every surviving entry is reachable through exactly one identifier index.
	total := int64(0)
	for v := 0; v < 3; v++ {
		_, n, err := repo.ListByIdentifier(ctx, "S1", fmt.Sprintf("V%d", v), 0, 0)
		require.NoError(t, err)
		total += n
	}
	stored := 0
	require.NoError(t, repo.Scan(ctx, func(*extid.IdentifierMapping) error {
		stored++
		return nil
	}))
	assert.Equal(t, int64(stored), total)
}

func TestMemorySystemRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySystemRepository()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ref, isNew, err := repo.Register(ctx, &extid.ExternalSystemRef{GUID: "S1", QualifiedName: "crm", CreatedAt: created})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "S1", ref.GUID)

	ref, isNew, err = repo.Register(ctx, &extid.ExternalSystemRef{GUID: "S2", QualifiedName: "crm", CreatedAt: created.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "S1", ref.GUID)
	assert.Equal(t, created, ref.CreatedAt)

	_, err = repo.Get(ctx, "S2")
	require.ErrorIs(t, err, ErrSystemNotFound)
}
