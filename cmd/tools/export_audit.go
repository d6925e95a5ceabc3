package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lychee-technology/extid"
	"github.com/lychee-technology/extid/internal"
	"github.com/lychee-technology/extid/internal/audit"
	"go.uber.org/zap"
)

// runAuditFn is replaced in tests.
var runAuditFn = audit.RunOnce

func runExportAudit(args []string) error {
	flags := flag.NewFlagSet("export-audit", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: extid-tools export-audit [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	cfg := extid.DefaultConfig()
	db := &cfg.Database
	flags.StringVar(&db.Host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&db.Port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&db.Database, "db-name", getenvDefault("DB_NAME", "extid"), "database name")
	flags.StringVar(&db.Username, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&db.Password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&db.SSLMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.BoolVar(&db.UseIAMAuth, "db-iam-auth", getenvDefaultBool("DB_USE_IAM_AUTH", false), "authenticate with an Aurora DSQL IAM token")
	flags.StringVar(&db.Region, "db-region", getenvDefault("DB_REGION", ""), "AWS region used for IAM auth")
	flags.StringVar(&db.TableNames.Mappings, "mapping-table", getenvDefault("MAPPING_TABLE", db.TableNames.Mappings), "identifier mapping table name")

	a := &cfg.Audit
	flags.StringVar(&a.Bucket, "bucket", getenvDefault("AUDIT_BUCKET", ""), "destination S3 bucket")
	flags.StringVar(&a.Prefix, "prefix", getenvDefault("AUDIT_PREFIX", a.Prefix), "object key prefix")
	flags.StringVar(&a.Region, "region", getenvDefault("AWS_REGION", a.Region), "S3 region")
	flags.StringVar(&a.Endpoint, "endpoint", getenvDefault("S3_ENDPOINT", ""), "custom S3 endpoint (MinIO, RustFS)")
	flags.BoolVar(&a.UsePathStyle, "path-style", getenvDefaultBool("S3_USE_PATH_STYLE", false), "use path-style S3 addressing")
	flags.StringVar(&a.AccessKey, "access-key", getenvDefault("S3_ACCESS_KEY", ""), "static S3 access key")
	flags.StringVar(&a.SecretKey, "secret-key", getenvDefault("S3_SECRET_KEY", ""), "static S3 secret key")

	dryRun := flags.Bool("dry-run", false, "encode the snapshot without uploading it")
	timeout := flags.Duration("timeout", 10*time.Minute, "overall export timeout")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return exportAudit(context.Background(), cfg, *dryRun, *timeout)
}

func exportAudit(ctx context.Context, cfg *extid.Config, dryRun bool, timeout time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := internal.ValidatePostgresConfig(cfg.Database); err != nil {
		return err
	}
	if !dryRun {
		if err := internal.ValidateAuditConfig(cfg.Audit); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !dryRun {
		if err := internal.S3HealthCheck(ctx, cfg.Audit, 5*time.Second); err != nil {
			return fmt.Errorf("s3 endpoint not reachable: %w", err)
		}
	}

	result, err := runAuditFn(ctx, cfg, dryRun, zap.L())
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("Another export holds the lock; nothing to do.")
		return nil
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
