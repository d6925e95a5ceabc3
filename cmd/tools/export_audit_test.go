package main

import (
	"context"
	"testing"
	"time"

	"github.com/lychee-technology/extid"
	"github.com/lychee-technology/extid/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func withRunAudit(t *testing.T, fn func(context.Context, *extid.Config, bool, *zap.Logger) (*audit.Result, error)) {
	t.Helper()
	orig := runAuditFn
	runAuditFn = fn
	t.Cleanup(func() { runAuditFn = orig })
}

func TestExportAuditDryRunSkipsBucketChecks(t *testing.T) {
	var gotDryRun bool
	withRunAudit(t, func(_ context.Context, cfg *extid.Config, dryRun bool, _ *zap.Logger) (*audit.Result, error) {
		gotDryRun = dryRun
		return &audit.Result{RunID: "run-1", Count: 3}, nil
	})

	cfg := extid.DefaultConfig()
	require.NoError(t, exportAudit(context.Background(), cfg, true, time.Minute))
	assert.True(t, gotDryRun)
}

func TestExportAuditRequiresBucket(t *testing.T) {
	called := false
	withRunAudit(t, func(context.Context, *extid.Config, bool, *zap.Logger) (*audit.Result, error) {
		called = true
		return nil, nil
	})

	err := exportAudit(context.Background(), extid.DefaultConfig(), false, time.Minute)
	require.Error(t, err)
	assert.False(t, called)
}

func TestExportAuditLockHeld(t *testing.T) {
	withRunAudit(t, func(context.Context, *extid.Config, bool, *zap.Logger) (*audit.Result, error) {
		return nil, nil
	})

	cfg := extid.DefaultConfig()
	cfg.Audit.Bucket = "ledger-audit"
	require.NoError(t, exportAudit(context.Background(), cfg, false, time.Minute))
}
