package internal

import (
	"maps"
	"slices"

	"github.com/lychee-technology/extid"
)

// keySet holds the primary keys an index entry points at.
type keySet map[extid.MappingKey]struct{}

func (s keySet) add(key extid.MappingKey) {
	s[key] = struct{}{}
}

func (s keySet) remove(key extid.MappingKey) {
	delete(s, key)
}

// keys returns the members in no particular order; callers sort by creation.
func (s keySet) keys() []extid.MappingKey {
	return slices.Collect(maps.Keys(s))
}
