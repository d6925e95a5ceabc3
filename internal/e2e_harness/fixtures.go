package e2e_harness

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/extid"
	"github.com/lychee-technology/extid/internal"
	"github.com/lychee-technology/extid/internal/audit"
)

// ApplySchema creates the ledger tables, dropping any leftovers from a previous run.
func ApplySchema(ctx context.Context, db *sql.DB, tables extid.TableNames) error {
	for _, table := range []string{tables.Mappings, tables.Systems, tables.Elements} {
		if table == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+internal.QuoteTable(table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	for _, stmt := range internal.SchemaStatements(tables) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SeedElements inserts element headers into the replicated element table.
func SeedElements(ctx context.Context, db *sql.DB, table string, headers ...extid.ElementHeader) error {
	stmt := fmt.Sprintf("INSERT INTO %s (guid, type_name) VALUES ($1, $2) ON CONFLICT (guid) DO NOTHING",
		internal.QuoteTable(table))
	for _, h := range headers {
		if _, err := db.ExecContext(ctx, stmt, h.GUID, h.TypeName); err != nil {
			return fmt.Errorf("insert element %s: %w", h.GUID, err)
		}
	}
	return nil
}

// DatabaseConfigFromDSN turns a postgres:// URL into the settings the audit runner needs.
func DatabaseConfigFromDSN(dsn string) (extid.DatabaseConfig, error) {
	cfg := extid.DefaultConfig().Database
	u, err := url.Parse(dsn)
	if err != nil {
		return cfg, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return cfg, fmt.Errorf("parse dsn port: %w", err)
		}
		cfg.Port = port
	}
	cfg.Database = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		cfg.SSLMode = mode
	}
	return cfg, nil
}

// ReadSnapshot downloads one JSON-lines audit object and decodes its records.
func ReadSnapshot(ctx context.Context, cfg extid.AuditConfig, key string) ([]audit.Record, error) {
	awsCfg, err := audit.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := audit.NewS3Client(awsCfg, cfg)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	var records []audit.Record
	scanner := bufio.NewScanner(out.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// ListKeys returns every object key under prefix.
func ListKeys(ctx context.Context, cfg extid.AuditConfig, prefix string) ([]string, error) {
	awsCfg, err := audit.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := audit.NewS3Client(awsCfg, cfg)

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
