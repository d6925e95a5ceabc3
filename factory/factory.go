package factory

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/extid"
	"github.com/lychee-technology/extid/internal"
	"go.uber.org/zap"
)

// Option customises the ledger built by the constructors in this package.
type Option = internal.LedgerOption

// WithAccessController plugs the caller's access-control layer into the ledger.
func WithAccessController(ac extid.AccessController) Option {
	return internal.WithAccessController(ac)
}

// Pool is the subset of *pgxpool.Pool the Postgres-backed ledger needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// generateIAMTokenFn is replaced in tests.
var generateIAMTokenFn = auth.GenerateDbConnectAuthToken

// NewPool opens a pgx pool for cfg.Database and checks it is reachable. With UseIAMAuth a
// fresh Aurora DSQL auth token is generated for every new connection.
func NewPool(ctx context.Context, cfg *extid.Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		cfg = extid.DefaultConfig()
	}
	if err := internal.ValidatePostgresConfig(cfg.Database); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(connectionURL(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	if cfg.Database.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.Database.MaxIdleConns, cfg.Database.MaxConnections))
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}
	if cfg.Database.Timeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.Database.Timeout
	}

	if cfg.Database.UseIAMAuth {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Database.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := net.JoinHostPort(cfg.Database.Host, strconv.Itoa(cfg.Database.Port))
		region := cfg.Database.Region
		poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			token, err := generateIAMTokenFn(ctx, endpoint, region, awsCfg.Credentials)
			if err != nil {
				return fmt.Errorf("generate dsql auth token: %w", err)
			}
			cc.Password = token
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := internal.PostgresHealthCheck(ctx, pool, cfg.Database.Timeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func connectionURL(db extid.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   "/" + db.Database,
	}
	if db.Username != "" {
		u.User = url.UserPassword(db.Username, db.Password)
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{db.SSLMode}}.Encode()
	}
	return u.String()
}

// NewLedgerWithConfig creates a Postgres-backed Ledger. This is the primary way for
// external projects to create a Ledger instance.
//
// elements may be nil. When it is nil and config.Database.TableNames.Elements is set, the
// element headers are read from that table. Any element store is wrapped with a timeout
// and circuit breaker taken from config.Elements.
//
// Usage:
//
//	config := extid.DefaultConfig()
//	pool, err := factory.NewPool(ctx, config)
//	if err != nil {
//	    // handle error
//	}
//	ledger, err := factory.NewLedgerWithConfig(config, pool, nil)
func NewLedgerWithConfig(config *extid.Config, pool Pool, elements extid.ElementStore, opts ...Option) (extid.Ledger, error) {
	if config == nil {
		config = extid.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}

	tables := config.Database.TableNames
	missing, err := internal.MissingTables(context.Background(), pool, tables.Mappings, tables.Systems, tables.Elements)
	if err != nil {
		return nil, fmt.Errorf("failed to verify database tables: %w", err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required tables are missing in the database: %v (run `tools init-db`)", missing)
	}

	if elements == nil && tables.Elements != "" {
		elements = internal.NewPostgresElementStore(pool, tables.Elements)
	}

	zap.S().Infow("ledger storage ready",
		"mappings", tables.Mappings, "systems", tables.Systems,
		"element_validation", config.Ledger.ValidateElements && elements != nil,
		"strict_create", config.Ledger.StrictCreate)

	return internal.NewLedger(
		internal.NewPostgresMappingRepository(pool, tables.Mappings),
		internal.NewPostgresSystemRepository(pool, tables.Systems),
		guard(elements, config),
		config,
		opts...,
	), nil
}

// NewInMemoryLedger creates a Ledger that keeps everything in process memory.
func NewInMemoryLedger(config *extid.Config, elements extid.ElementStore, opts ...Option) (extid.Ledger, error) {
	if config == nil {
		config = extid.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return internal.NewLedger(
		internal.NewMemoryMappingRepository(config.Ledger.ShardCount),
		internal.NewMemorySystemRepository(),
		guard(elements, config),
		config,
		opts...,
	), nil
}

func guard(elements extid.ElementStore, config *extid.Config) extid.ElementStore {
	if elements == nil {
		return nil
	}
	return internal.NewGuardedElementStore(elements, config.Elements)
}
