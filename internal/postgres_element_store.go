package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/extid"
)

type elementPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresElementStore reads element headers from a table replicated from the
// metadata repository (guid TEXT PRIMARY KEY, type_name TEXT).
type PostgresElementStore struct {
	pool  elementPool
	table string
}

func NewPostgresElementStore(pool elementPool, table string) *PostgresElementStore {
	return &PostgresElementStore{pool: pool, table: sanitizeIdentifier(table)}
}

func (s *PostgresElementStore) ElementExists(ctx context.Context, guid string) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE guid = $1)", s.table)
	if err := s.pool.QueryRow(ctx, query, guid).Scan(&exists); err != nil {
		return false, fmt.Errorf("check element %s: %w", guid, err)
	}
	return exists, nil
}

func (s *PostgresElementStore) GetElementHeader(ctx context.Context, guid string) (*extid.ElementHeader, error) {
	var header extid.ElementHeader
	query := fmt.Sprintf("SELECT guid, type_name FROM %s WHERE guid = $1", s.table)
	err := s.pool.QueryRow(ctx, query, guid).Scan(&header.GUID, &header.TypeName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load element %s: %w", guid, err)
	}
	return &header, nil
}
