package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/extid"
)

type mappingPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const mappingColumns = "element_guid, element_type_name, system_guid, system_name, identifier_value, " +
	"key_pattern, description, usage_note, source, mapping_properties, last_synchronized_at, " +
	"created_at, updated_at, seq"

// PostgresMappingRepository stores ledger entries in a single table keyed by
// (element_guid, system_guid). Every mutation is one statement, so Postgres row locks
// serialize writers of the same key while other keys proceed in parallel.
type PostgresMappingRepository struct {
	pool  mappingPool
	table string
}

func NewPostgresMappingRepository(pool mappingPool, table string) *PostgresMappingRepository {
	return &PostgresMappingRepository{
		pool:  pool,
		table: sanitizeIdentifier(table),
	}
}

func encodeMappingProperties(props map[string]string) (string, error) {
	if props == nil {
		props = map[string]string{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode mapping properties: %w", err)
	}
	return string(data), nil
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func scanMapping(row pgx.Row) (*extid.IdentifierMapping, error) {
	var (
		m          extid.IdentifierMapping
		keyPattern string
		props      []byte
		lastSync   *int64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(
		&m.Element.GUID,
		&m.Element.TypeName,
		&m.SystemGUID,
		&m.SystemName,
		&m.Identifier.IdentifierValue,
		&keyPattern,
		&m.Identifier.Description,
		&m.Identifier.Usage,
		&m.Identifier.Source,
		&props,
		&lastSync,
		&createdAt,
		&updatedAt,
		&m.Sequence,
	); err != nil {
		return nil, err
	}
	m.Identifier.KeyPattern = extid.KeyPattern(keyPattern)
	if len(props) > 0 {
		if err := json.Unmarshal(props, &m.Identifier.MappingProperties); err != nil {
			return nil, fmt.Errorf("decode mapping properties: %w", err)
		}
		if len(m.Identifier.MappingProperties) == 0 {
			m.Identifier.MappingProperties = nil
		}
	}
	if lastSync != nil {
		ts := fromMillis(*lastSync)
		m.Identifier.LastSynchronized = &ts
	}
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

func (r *PostgresMappingRepository) Put(ctx context.Context, m *extid.IdentifierMapping, now time.Time, overwrite bool) (*extid.IdentifierMapping, bool, error) {
	props, err := encodeMappingProperties(m.Identifier.MappingProperties)
	if err != nil {
		return nil, false, err
	}
	nowMs := now.UnixMilli()
	args := []any{
		m.Element.GUID,
		m.Element.TypeName,
		m.SystemGUID,
		m.SystemName,
		m.Identifier.IdentifierValue,
		string(m.Identifier.KeyPattern),
		m.Identifier.Description,
		m.Identifier.Usage,
		m.Identifier.Source,
		props,
		nowMs,
	}

	if !overwrite {
		query := fmt.Sprintf(
			`INSERT INTO %s (element_guid, element_type_name, system_guid, system_name, identifier_value,
				key_pattern, description, usage_note, source, mapping_properties, last_synchronized_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, NULL, $11, $11)
			ON CONFLICT (element_guid, system_guid) DO NOTHING
			RETURNING %s`,
			r.table, mappingColumns,
		)
		stored, err := scanMapping(r.pool.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := r.Get(ctx, m.Key())
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, ErrMappingExists
		}
		if err != nil {
			return nil, false, fmt.Errorf("insert mapping: %w", err)
		}
		return stored, true, nil
	}

	// Same identifier value keeps the original link; a new value restarts it.
	query := fmt.Sprintf(
		`INSERT INTO %[1]s AS cur (element_guid, element_type_name, system_guid, system_name, identifier_value,
			key_pattern, description, usage_note, source, mapping_properties, last_synchronized_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, NULL, $11, $11)
		ON CONFLICT (element_guid, system_guid) DO UPDATE SET
			element_type_name = EXCLUDED.element_type_name,
			system_name = EXCLUDED.system_name,
			identifier_value = EXCLUDED.identifier_value,
			key_pattern = EXCLUDED.key_pattern,
			description = EXCLUDED.description,
			usage_note = EXCLUDED.usage_note,
			source = EXCLUDED.source,
			mapping_properties = EXCLUDED.mapping_properties,
			updated_at = EXCLUDED.updated_at,
			created_at = CASE WHEN cur.identifier_value = EXCLUDED.identifier_value THEN cur.created_at ELSE EXCLUDED.created_at END,
			seq = CASE WHEN cur.identifier_value = EXCLUDED.identifier_value THEN cur.seq ELSE EXCLUDED.seq END,
			last_synchronized_at = CASE WHEN cur.identifier_value = EXCLUDED.identifier_value THEN cur.last_synchronized_at ELSE NULL END
		RETURNING %[2]s, (xmax = 0) AS inserted`,
		r.table, mappingColumns,
	)

	var (
		stored   *extid.IdentifierMapping
		inserted bool
	)
	row := r.pool.QueryRow(ctx, query, args...)
	stored, err = scanMapping(rowWithTrailer{row: row, trailer: &inserted})
	if err != nil {
		return nil, false, fmt.Errorf("upsert mapping: %w", err)
	}
	return stored, inserted, nil
}

// rowWithTrailer appends extra scan targets after the mapping columns.
type rowWithTrailer struct {
	row     pgx.Row
	trailer *bool
}

func (r rowWithTrailer) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.trailer)...)
}

func (r *PostgresMappingRepository) Update(ctx context.Context, key extid.MappingKey, identifier extid.ExternalIdentifier, now time.Time) (*extid.IdentifierMapping, error) {
	props, err := encodeMappingProperties(identifier.MappingProperties)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`UPDATE %s SET key_pattern = $1, description = $2, usage_note = $3, source = $4,
			mapping_properties = $5::jsonb, updated_at = $6
		WHERE element_guid = $7 AND system_guid = $8 AND identifier_value = $9
		RETURNING %s`,
		r.table, mappingColumns,
	)
	stored, err := scanMapping(r.pool.QueryRow(ctx, query,
		string(identifier.KeyPattern),
		identifier.Description,
		identifier.Usage,
		identifier.Source,
		props,
		now.UnixMilli(),
		key.ElementGUID,
		key.SystemGUID,
		identifier.IdentifierValue,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update mapping: %w", err)
	}
	return stored, nil
}

func (r *PostgresMappingRepository) Delete(ctx context.Context, key extid.MappingKey, elementTypeName, identifierValue string) (bool, error) {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE element_guid = $1 AND system_guid = $2 AND identifier_value = $3 AND element_type_name = $4",
		r.table,
	)
	tag, err := r.pool.Exec(ctx, query, key.ElementGUID, key.SystemGUID, identifierValue, elementTypeName)
	if err != nil {
		return false, fmt.Errorf("delete mapping: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresMappingRepository) Confirm(ctx context.Context, key extid.MappingKey, identifierValue string, at time.Time) (*extid.IdentifierMapping, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET last_synchronized_at = $1
		WHERE element_guid = $2 AND system_guid = $3 AND identifier_value = $4
		RETURNING %s`,
		r.table, mappingColumns,
	)
	stored, err := scanMapping(r.pool.QueryRow(ctx, query, at.UnixMilli(), key.ElementGUID, key.SystemGUID, identifierValue))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("confirm mapping: %w", err)
	}
	return stored, nil
}

func (r *PostgresMappingRepository) Get(ctx context.Context, key extid.MappingKey) (*extid.IdentifierMapping, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE element_guid = $1 AND system_guid = $2",
		mappingColumns, r.table,
	)
	stored, err := scanMapping(r.pool.QueryRow(ctx, query, key.ElementGUID, key.SystemGUID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return stored, nil
}

func (r *PostgresMappingRepository) ListByIdentifier(ctx context.Context, systemGUID, identifierValue string, offset, limit int) ([]*extid.IdentifierMapping, int64, error) {
	where := "system_guid = $1 AND identifier_value = $2"
	return r.listPage(ctx, where, []any{systemGUID, identifierValue}, offset, limit)
}

func (r *PostgresMappingRepository) ListByElement(ctx context.Context, elementGUID string, offset, limit int) ([]*extid.IdentifierMapping, int64, error) {
	return r.listPage(ctx, "element_guid = $1", []any{elementGUID}, offset, limit)
}

func (r *PostgresMappingRepository) listPage(ctx context.Context, where string, args []any, offset, limit int) ([]*extid.IdentifierMapping, int64, error) {
	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", r.table, where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mappings: %w", err)
	}
	if total == 0 || int64(offset) >= total {
		return []*extid.IdentifierMapping{}, total, nil
	}

	pageArgs := append(append([]any{}, args...), limit, offset)
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY created_at, seq LIMIT $%d OFFSET $%d",
		mappingColumns, r.table, where, len(args)+1, len(args)+2,
	)
	rows, err := r.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*extid.IdentifierMapping, 0, limit)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, total, nil
}

func (r *PostgresMappingRepository) Scan(ctx context.Context, fn func(*extid.IdentifierMapping) error) error {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at, seq", mappingColumns, r.table)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("scan mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return fmt.Errorf("scan mapping: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PostgresSystemRepository stores external system registrations.
type PostgresSystemRepository struct {
	pool  mappingPool
	table string
}

func NewPostgresSystemRepository(pool mappingPool, table string) *PostgresSystemRepository {
	return &PostgresSystemRepository{
		pool:  pool,
		table: sanitizeIdentifier(table),
	}
}

func scanSystem(row pgx.Row) (*extid.ExternalSystemRef, error) {
	var (
		ref       extid.ExternalSystemRef
		createdAt int64
	)
	if err := row.Scan(&ref.GUID, &ref.QualifiedName, &createdAt); err != nil {
		return nil, err
	}
	ref.CreatedAt = fromMillis(createdAt)
	return &ref, nil
}

func (r *PostgresSystemRepository) Register(ctx context.Context, ref *extid.ExternalSystemRef) (*extid.ExternalSystemRef, bool, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (guid, qualified_name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (qualified_name) DO NOTHING
		RETURNING guid, qualified_name, created_at`,
		r.table,
	)
	stored, err := scanSystem(r.pool.QueryRow(ctx, query, ref.GUID, ref.QualifiedName, ref.CreatedAt.UnixMilli()))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("register external system: %w", err)
	}

	lookup := fmt.Sprintf("SELECT guid, qualified_name, created_at FROM %s WHERE qualified_name = $1", r.table)
	existing, err := scanSystem(r.pool.QueryRow(ctx, lookup, ref.QualifiedName))
	if err != nil {
		return nil, false, fmt.Errorf("load external system %q: %w", ref.QualifiedName, err)
	}
	return existing, false, nil
}

func (r *PostgresSystemRepository) Get(ctx context.Context, guid string) (*extid.ExternalSystemRef, error) {
	query := fmt.Sprintf("SELECT guid, qualified_name, created_at FROM %s WHERE guid = $1", r.table)
	ref, err := scanSystem(r.pool.QueryRow(ctx, query, guid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSystemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get external system: %w", err)
	}
	return ref, nil
}
