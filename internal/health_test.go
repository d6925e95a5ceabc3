package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lychee-technology/extid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePostgresAndAuditConfig(t *testing.T) {
	pg := extid.DefaultConfig().Database
	pg.Host = ""
	require.Error(t, ValidatePostgresConfig(pg), "empty host should fail validation")

	pg.Host = "localhost"
	require.NoError(t, ValidatePostgresConfig(pg), "valid postgres config should pass")

	pg.Port = 70000
	require.Error(t, ValidatePostgresConfig(pg))

	audit := extid.AuditConfig{Region: "us-east-1"}
	require.Error(t, ValidateAuditConfig(audit), "bucket is required")

	audit.Bucket = "ledger-audit"
	require.NoError(t, ValidateAuditConfig(audit))

	audit.AccessKey = "k"
	require.Error(t, ValidateAuditConfig(audit), "access key without secret should fail")

	audit = extid.AuditConfig{Bucket: "ledger-audit", SecretKey: "s"}
	require.Error(t, ValidateAuditConfig(audit))
}

func TestPostgresHealthCheck(t *testing.T) {
	ctx := context.Background()
	require.Error(t, PostgresHealthCheck(ctx, nil, 0))

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	mock.ExpectExec(`^SELECT 1$`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, PostgresHealthCheck(ctx, mock, 0))

	mock.ExpectPing().WillReturnError(errors.New("connection reset"))
	err = PostgresHealthCheck(ctx, mock, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping failed")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT table_name FROM information_schema.tables`).
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).
			AddRow("external_identifier_mapping").
			AddRow("unrelated"))

	missing, err := MissingTables(context.Background(), mock, "external_identifier_mapping", "external_system", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"external_system"}, missing)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestS3HealthCheck(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, S3HealthCheck(ctx, extid.AuditConfig{}, 0), "AWS S3 without endpoint is not probed")

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	require.NoError(t, S3HealthCheck(ctx, extid.AuditConfig{Endpoint: ok.URL}, 0))

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer denied.Close()
	err := S3HealthCheck(ctx, extid.AuditConfig{Endpoint: denied.URL}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth error")
}
