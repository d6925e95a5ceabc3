package factory

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/extid"
	"github.com/lychee-technology/extid/internal"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	code := m.Run()
	_ = logger.Sync()
	os.Exit(code)
}

const listTablesQuery = "SELECT table_name FROM information_schema.tables"

func expectTables(mock pgxmock.PgxPoolIface, names ...string) {
	rows := pgxmock.NewRows([]string{"table_name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	mock.ExpectQuery(listTablesQuery).WillReturnRows(rows)
}

type denyAll struct{}

func (denyAll) CheckAccess(context.Context, extid.Operation, string) error {
	return errors.New("denied")
}

func TestNewLedgerWithConfig_NilPool(t *testing.T) {
	ledger, err := NewLedgerWithConfig(extid.DefaultConfig(), nil, nil)
	require.Error(t, err)
	assert.Nil(t, ledger)
}

func TestNewLedgerWithConfig_InvalidConfig(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := extid.DefaultConfig()
	cfg.Database.TableNames.Systems = ""

	_, err = NewLedgerWithConfig(cfg, mock, nil)
	require.Error(t, err)
	var cfgErr *extid.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "database.tableNames.systems", cfgErr.Field)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerWithConfig_TableQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(listTablesQuery).WillReturnError(errors.New("connection refused"))

	_, err = NewLedgerWithConfig(extid.DefaultConfig(), mock, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to verify database tables")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerWithConfig_MissingRequiredTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectTables(mock, "external_identifier_mapping")

	_, err = NewLedgerWithConfig(extid.DefaultConfig(), mock, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_system")
	assert.NotContains(t, err.Error(), "[external_identifier_mapping")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerWithConfig_MissingElementsTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := extid.DefaultConfig()
	cfg.Database.TableNames.Elements = "om_element"
	expectTables(mock, "external_identifier_mapping", "external_system")

	_, err = NewLedgerWithConfig(cfg, mock, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "om_element")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerWithConfig_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectTables(mock, "external_identifier_mapping", "external_system", "unrelated")

	ledger, err := NewLedgerWithConfig(extid.DefaultConfig(), mock, nil)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerWithConfig_ElementsTableBacksValidation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := extid.DefaultConfig()
	cfg.Database.TableNames.Elements = "om_element"
	cfg.Ledger.ValidateElements = true
	expectTables(mock, "external_identifier_mapping", "external_system", "om_element")

	ledger, err := NewLedgerWithConfig(cfg, mock, nil)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT guid, qualified_name, created_at FROM "external_system"`).
		WithArgs("S1").
		WillReturnRows(pgxmock.NewRows([]string{"guid", "qualified_name", "created_at"}))
	mock.ExpectQuery(`SELECT guid, type_name FROM "om_element"`).
		WithArgs("E-missing").
		WillReturnRows(pgxmock.NewRows([]string{"guid", "type_name"}))

	_, err = ledger.AddExternalIdentifier(context.Background(), "E-missing", "Asset", "S1", "crm",
		extid.ExternalIdentifier{IdentifierValue: "EXT-1"})
	require.Error(t, err)
	assert.True(t, extid.IsInvalidArgument(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewInMemoryLedger(t *testing.T) {
	ctx := context.Background()
	elements := internal.NewMemoryElementStore(extid.ElementHeader{GUID: "E1", TypeName: "Asset"})
	cfg := extid.DefaultConfig()
	cfg.Ledger.ValidateElements = true

	ledger, err := NewInMemoryLedger(cfg, elements)
	require.NoError(t, err)

	_, err = ledger.AddExternalIdentifier(ctx, "E1", "Asset", "S1", "crm", extid.ExternalIdentifier{IdentifierValue: "EXT-1"})
	require.NoError(t, err)

	page, err := ledger.GetElementsForExternalIdentifier(ctx, "S1", "", "EXT-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Elements, 1)
	assert.Equal(t, "E1", page.Elements[0].GUID)

	_, err = ledger.AddExternalIdentifier(ctx, "E2", "Asset", "S1", "crm", extid.ExternalIdentifier{IdentifierValue: "EXT-2"})
	assert.True(t, extid.IsInvalidArgument(err))
}

func TestNewInMemoryLedger_WithAccessController(t *testing.T) {
	ledger, err := NewInMemoryLedger(nil, nil, WithAccessController(denyAll{}))
	require.NoError(t, err)

	_, err = ledger.AddExternalIdentifier(context.Background(), "E1", "Asset", "S1", "crm",
		extid.ExternalIdentifier{IdentifierValue: "EXT-1"})
	assert.True(t, extid.IsUnauthorized(err))
}

func TestConnectionURL(t *testing.T) {
	db := extid.DefaultConfig().Database
	db.Host = "db.internal"
	db.Port = 6543
	db.Database = "ledger"
	db.Username = "extid"
	db.Password = "p@ss word"

	cfg, err := pgx.ParseConfig(connectionURL(db))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, uint16(6543), cfg.Port)
	assert.Equal(t, "ledger", cfg.Database)
	assert.Equal(t, "extid", cfg.User)
	assert.Equal(t, "p@ss word", cfg.Password)
	assert.Nil(t, cfg.TLSConfig)
}

func TestNewPool_InvalidConfig(t *testing.T) {
	cfg := extid.DefaultConfig()
	cfg.Database.Host = ""

	pool, err := NewPool(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, pool)
	assert.Contains(t, err.Error(), "database.host")
}
