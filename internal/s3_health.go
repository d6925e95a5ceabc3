package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lychee-technology/extid"
)

// ValidateAuditConfig performs basic sanity checks on the audit export settings.
func ValidateAuditConfig(cfg extid.AuditConfig) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("audit.bucket is required")
	}
	if cfg.AccessKey != "" && cfg.SecretKey == "" {
		return fmt.Errorf("audit.accessKey provided without audit.secretKey")
	}
	if cfg.SecretKey != "" && cfg.AccessKey == "" {
		return fmt.Errorf("audit.secretKey provided without audit.accessKey")
	}
	if cfg.Endpoint == "" && cfg.Region == "" {
		return fmt.Errorf("audit: either endpoint or region is required")
	}
	return nil
}

// S3HealthCheck attempts a best-effort HTTP ping against a custom S3 endpoint such as MinIO.
// It is a no-op for AWS S3 (no endpoint configured). 401/403 answers still prove the
// endpoint is reachable and are reported as errors the caller may choose to ignore.
func S3HealthCheck(ctx context.Context, cfg extid.AuditConfig, timeout time.Duration) error {
	if cfg.Endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{
		Timeout: timeout,
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("s3 health request build failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("s3 health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("s3 endpoint reachable but returned auth error: %d", resp.StatusCode)
	}
	return fmt.Errorf("s3 endpoint returned unexpected status: %d", resp.StatusCode)
}
