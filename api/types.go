package api

import (
	"net/url"
)

// Routes of the storage API.
const (
	KVPathPrefix = "/api/kv/"
	MetricsPath  = "/api/metrics"
	BackendsPath = "/api/backends"
)

// ConsistencyParam is the query parameter selecting the consistency level of
// a key operation.
const ConsistencyParam = "consistency"

// DefaultMaxValueSize is the largest value accepted by PUT (16MB).
const DefaultMaxValueSize = 16 << 20

// Error codes carried in ErrorResponse so clients can recover the error kind.
const (
	CodeNotFound         = "not_found"
	CodeInvalidKey       = "invalid_key"
	CodeInvalidConfig    = "invalid_config"
	CodeBackendNotFound  = "backend_not_found"
	CodeNoBackends       = "no_backends"
	CodeConnectionFailed = "connection_failed"
	CodeReadOnly         = "read_only"
	CodeTooLarge         = "too_large"
	CodeInternal         = "internal"
)

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// KVPath returns the escaped path of key.
func KVPath(key string) string {
	return KVPathPrefix + url.PathEscape(key)
}
