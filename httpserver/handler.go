package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/node-storage/api"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/manager"
)

// StorageService is the storage surface exposed over HTTP. *manager.Manager
// implements it.
type StorageService interface {
	Get(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) error
	Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) error
	Available(ctx context.Context) bool
	Metrics() manager.MetricsSnapshot
	ResetMetrics()
	ListBackends() []manager.BackendInfo
}

// RequestError pairs an HTTP status with the error that caused it.
type RequestError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// classify maps a storage error to its HTTP status and error code.
func classify(err error) *RequestError {
	var re *RequestError
	if errors.As(err, &re) {
		return re
	}

	switch {
	case errors.Is(err, interfaces.ErrInvalidKey):
		return &RequestError{StatusCode: http.StatusBadRequest, Code: api.CodeInvalidKey, Err: err}
	case errors.Is(err, interfaces.ErrInvalidConfig):
		return &RequestError{StatusCode: http.StatusBadRequest, Code: api.CodeInvalidConfig, Err: err}
	case errors.Is(err, interfaces.ErrBackendNotFound):
		return &RequestError{StatusCode: http.StatusServiceUnavailable, Code: api.CodeBackendNotFound, Err: err}
	case errors.Is(err, interfaces.ErrNoBackends):
		return &RequestError{StatusCode: http.StatusServiceUnavailable, Code: api.CodeNoBackends, Err: err}
	case errors.Is(err, interfaces.ErrConnectionFailed):
		return &RequestError{StatusCode: http.StatusServiceUnavailable, Code: api.CodeConnectionFailed, Err: err}
	case errors.Is(err, interfaces.ErrReadOnly):
		return &RequestError{StatusCode: http.StatusInternalServerError, Code: api.CodeReadOnly, Err: err}
	default:
		return &RequestError{StatusCode: http.StatusInternalServerError, Code: api.CodeInternal, Err: err}
	}
}

// Handler serves the key-value API on top of a StorageService.
type Handler struct {
	svc          StorageService
	log          *slog.Logger
	maxValueSize int64
}

func NewHandler(svc StorageService, log *slog.Logger) *Handler {
	log = common.LoggerOrDefault(log)
	return &Handler{
		svc:          svc,
		log:          log,
		maxValueSize: api.DefaultMaxValueSize,
	}
}

// SetMaxValueSize overrides the largest value accepted by PUT.
func (h *Handler) SetMaxValueSize(n int64) {
	h.maxValueSize = n
}

// HandleGet returns the raw value of a key.
//
// URL format: GET /api/kv/{key}?consistency=strong
// Response: 200 with the value as application/octet-stream, 404 when absent.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, consistency, err := keyRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	value, found, err := h.svc.Get(r.Context(), key, consistency)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !found {
		h.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Code: api.CodeNotFound, Message: "key not found"})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(value); err != nil {
		h.log.Debug("Failed to write response", "err", err)
	}
}

// HandlePut stores the request body under a key.
//
// URL format: PUT /api/kv/{key}?consistency=strong
// Response: 204.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	key, consistency, err := keyRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxValueSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Code: api.CodeTooLarge, Err: err})
			return
		}
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Code: api.CodeInternal, Err: err})
		return
	}

	if err := h.svc.Put(r.Context(), key, value, consistency); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a key. Deleting an absent key succeeds.
//
// URL format: DELETE /api/kv/{key}?consistency=strong
// Response: 204.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key, consistency, err := keyRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.svc.Delete(r.Context(), key, consistency); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMetrics returns the manager's metrics snapshot.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Metrics())
}

// HandleResetMetrics zeroes the manager's counters.
func (h *Handler) HandleResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetMetrics()
	h.log.Info("Storage metrics reset")
	w.WriteHeader(http.StatusNoContent)
}

// HandleBackends lists the registered backends.
func (h *Handler) HandleBackends(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.ListBackends())
}

func keyRequest(r *http.Request) (string, interfaces.ConsistencyLevel, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", interfaces.ErrInvalidKey, err)
	}
	if err := interfaces.ValidateKey(key); err != nil {
		return "", 0, err
	}

	consistency, err := interfaces.ParseConsistencyLevel(r.URL.Query().Get(api.ConsistencyParam))
	if err != nil {
		return "", 0, err
	}
	return key, consistency, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	re := classify(err)
	if re.StatusCode >= http.StatusInternalServerError {
		h.log.Error("Storage request failed", "err", err, "status", re.StatusCode)
	} else {
		h.log.Debug("Storage request rejected", "err", err, "status", re.StatusCode)
	}
	h.writeJSON(w, re.StatusCode, api.ErrorResponse{Code: re.Code, Message: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("Failed to encode response", "err", err)
	}
}
