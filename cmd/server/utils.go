package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/lychee-technology/extid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// APIResponse is the standard error response format
type APIResponse struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, data)
}

// statusForError maps ledger error kinds onto HTTP status codes.
func statusForError(err error) int {
	switch extid.ErrorTypeOf(err) {
	case extid.ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	case extid.ErrorTypeNotFound:
		return http.StatusNotFound
	case extid.ErrorTypeConflict:
		return http.StatusConflict
	case extid.ErrorTypeUnauthorized:
		return http.StatusForbidden
	case extid.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError renders a ledger failure, keeping the typed error's code and details.
func writeLedgerError(w http.ResponseWriter, err error) error {
	status := statusForError(err)
	resp := APIResponse{Success: false, Error: err.Error()}
	var extErr *extid.ExtIDError
	if errors.As(err, &extErr) {
		resp.Error = extErr.Message
		resp.Code = extErr.Code
		resp.Field = extErr.Field
		if len(extErr.Details) > 0 {
			resp.Details = extErr.Details
		}
	}
	if status == http.StatusInternalServerError {
		zap.S().Errorw("ledger request failed", "error", err)
		resp.Details = nil
	}
	return writeJSON(w, status, resp)
}

// readJSONBody reads the request body, capped at maxBodyBytes.
func readJSONBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// parsePaging extracts offset and size. Missing values are 0; the ledger applies its
// own default page size.
func parsePaging(queryParams url.Values) (offset int, size int, err error) {
	if v := queryParams.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid offset: %w", err)
		}
	}
	if v := queryParams.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid size: %w", err)
		}
	}
	return offset, size, nil
}

func parseTimeParam(queryParams url.Values, key string) (time.Time, error) {
	v := queryParams.Get(key)
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: want RFC3339 or unix milliseconds", key)
	}
	return t, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
