package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/extid"
)

// QuoteTable quotes a possibly schema-qualified table name for use in SQL.
func QuoteTable(name string) string {
	return sanitizeIdentifier(name)
}

// IndexName derives an index name from a possibly schema-qualified table name.
func IndexName(table, suffix string) string {
	base := strings.ReplaceAll(table, ".", "_")
	base = strings.ReplaceAll(base, `"`, "")
	return fmt.Sprintf("%s_%s_idx", base, suffix)
}

// SchemaStatements returns the idempotent DDL for the ledger tables. The elements table is
// only created when tables.Elements is set.
func SchemaStatements(tables extid.TableNames) []string {
	mappings := sanitizeIdentifier(tables.Mappings)

	// seq is filled by its default so creation order survives equal created_at values.
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		element_guid          TEXT NOT NULL,
		element_type_name     TEXT NOT NULL,
		system_guid           TEXT NOT NULL,
		system_name           TEXT NOT NULL DEFAULT '',
		identifier_value      TEXT NOT NULL,
		key_pattern           TEXT NOT NULL DEFAULT 'LOCAL_KEY',
		description           TEXT NOT NULL DEFAULT '',
		usage_note            TEXT NOT NULL DEFAULT '',
		source                TEXT NOT NULL DEFAULT '',
		mapping_properties    JSONB NOT NULL DEFAULT '{}'::jsonb,
		last_synchronized_at  BIGINT,
		created_at            BIGINT NOT NULL,
		updated_at            BIGINT NOT NULL,
		seq                   BIGSERIAL NOT NULL,
		PRIMARY KEY (element_guid, system_guid)
	)`, mappings),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (system_guid, identifier_value, created_at, seq)`,
			sanitizeIdentifier(IndexName(tables.Mappings, "lookup")), mappings),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at, seq)`,
			sanitizeIdentifier(IndexName(tables.Mappings, "created")), mappings),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		guid            TEXT PRIMARY KEY,
		qualified_name  TEXT UNIQUE NOT NULL,
		created_at      BIGINT NOT NULL
	)`, sanitizeIdentifier(tables.Systems)),
	}

	if tables.Elements != "" {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		guid       TEXT PRIMARY KEY,
		type_name  TEXT NOT NULL
	)`, sanitizeIdentifier(tables.Elements)))
	}
	return stmts
}
