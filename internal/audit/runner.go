package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/lychee-technology/extid"
	"go.uber.org/zap"
)

// generateIAMTokenFn is replaced in tests.
var generateIAMTokenFn = auth.GenerateDbConnectAuthToken

const sqlMappingColumns = "element_guid, element_type_name, system_guid, system_name, identifier_value, " +
	"key_pattern, description, usage_note, source, mapping_properties, last_synchronized_at, " +
	"created_at, updated_at, seq"

// ConnString renders a lib/pq keyword/value connection string.
func ConnString(db extid.DatabaseConfig, password string) string {
	sslMode := db.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, quoteConnValue(password), db.Database, sslMode)
}

func quoteConnValue(v string) string {
	if v == "" {
		return "''"
	}
	out := make([]byte, 0, len(v)+2)
	out = append(out, '\'')
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' || v[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, v[i])
	}
	return string(append(out, '\''))
}

// lockKey derives the advisory lock id from the mapping table name so concurrent exports
// of the same ledger skip instead of racing.
func lockKey(table string) int64 {
	h := fnv.New64a()
	h.Write([]byte("extid-audit:" + table))
	return int64(h.Sum64())
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(part, ` "`); part != "" {
			quoted = append(quoted, pq.QuoteIdentifier(part))
		}
	}
	return strings.Join(quoted, ".")
}

func scanQuery(table string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at, seq", sqlMappingColumns, quoteTable(table))
}

// sqlSource streams mappings over a dedicated database/sql connection.
type sqlSource struct {
	conn  *sql.Conn
	table string
}

func (s *sqlSource) Scan(ctx context.Context, fn func(*extid.IdentifierMapping) error) error {
	rows, err := s.conn.QueryContext(ctx, scanQuery(s.table))
	if err != nil {
		return fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m          extid.IdentifierMapping
			keyPattern string
			props      []byte
			lastSync   sql.NullInt64
			createdAt  int64
			updatedAt  int64
		)
		if err := rows.Scan(
			&m.Element.GUID, &m.Element.TypeName, &m.SystemGUID, &m.SystemName,
			&m.Identifier.IdentifierValue, &keyPattern, &m.Identifier.Description,
			&m.Identifier.Usage, &m.Identifier.Source, &props, &lastSync,
			&createdAt, &updatedAt, &m.Sequence,
		); err != nil {
			return fmt.Errorf("scan mapping: %w", err)
		}
		m.Identifier.KeyPattern = extid.KeyPattern(keyPattern)
		if len(props) > 0 && string(props) != "{}" {
			if err := json.Unmarshal(props, &m.Identifier.MappingProperties); err != nil {
				return fmt.Errorf("decode mapping properties: %w", err)
			}
		}
		if lastSync.Valid {
			ts := time.UnixMilli(lastSync.Int64).UTC()
			m.Identifier.LastSynchronized = &ts
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		if err := fn(&m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// resolvePassword swaps in an Aurora DSQL auth token when IAM auth is enabled, falling
// back to the configured password if token generation fails.
func resolvePassword(ctx context.Context, cfg *extid.Config, logger *zap.Logger) string {
	password := cfg.Database.Password
	if !cfg.Database.UseIAMAuth {
		return password
	}
	awsCfg, err := LoadAWSConfig(ctx, extid.AuditConfig{Region: cfg.Database.Region})
	if err != nil {
		logger.Sugar().Warnw("failed to load aws config for IAM auth; using configured password", "err", err)
		return password
	}
	endpoint := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
	token, err := generateIAMTokenFn(ctx, endpoint, cfg.Database.Region, awsCfg.Credentials)
	if err != nil || token == "" {
		logger.Sugar().Warnw("failed to generate IAM auth token; using configured password", "err", err)
		return password
	}
	logger.Sugar().Infow("generated IAM auth token for Postgres connection (dsql)")
	return token
}

// RunOnce exports one snapshot of the Postgres-backed ledger. Only one exporter per
// mapping table runs at a time; a run that cannot take the lock returns (nil, nil).
// With dryRun set the snapshot is encoded and counted but not uploaded.
func RunOnce(ctx context.Context, cfg *extid.Config, dryRun bool, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.L()
	}
	password := resolvePassword(ctx, cfg, logger)

	db, err := sql.Open("postgres", ConnString(cfg.Database, password))
	if err != nil {
		return nil, fmt.Errorf("open pg: %w", err)
	}
	defer db.Close()

	// Advisory locks are session scoped, so lock and scan share one connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire pg connection: %w", err)
	}
	defer conn.Close()

	table := cfg.Database.TableNames.Mappings
	key := lockKey(table)
	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		return nil, fmt.Errorf("acquire export lock: %w", err)
	}
	if !locked {
		logger.Sugar().Infow("export lock held elsewhere, skipping", "table", table)
		return nil, nil
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			logger.Sugar().Warnw("release export lock failed", "table", table, "err", err)
		}
	}()

	src := &sqlSource{conn: conn, table: table}

	if dryRun {
		runID := uuid.Must(uuid.NewV7()).String()
		exportedAt := time.Now().UTC()
		buf, count, err := Encode(ctx, src, runID, exportedAt)
		if err != nil {
			return nil, err
		}
		logger.Sugar().Infow("dry-run: skipping upload", "run_id", runID, "entries", count, "bytes", buf.Len())
		return &Result{RunID: runID, Bucket: cfg.Audit.Bucket, Count: count, Bytes: buf.Len(), ExportedAt: exportedAt}, nil
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.Audit)
	if err != nil {
		return nil, err
	}
	exporter := NewExporter(NewS3Client(awsCfg, cfg.Audit), cfg.Audit, logger)
	return exporter.Export(ctx, src)
}
