package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/iho/guardledger/internal/adapter/http/dto"
	"github.com/iho/guardledger/internal/adapter/http/middleware"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/ledger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError writes err with the status and kind it maps to.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := mapDomainError(err)
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Kind:    domain.Kind(err),
		Message: err.Error(),
	})
}

// mapDomainError maps domain errors to HTTP status codes. A rejected
// transfer wraps the recipient's own error, so it is matched first.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrTransferRejected):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAccountID),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, domain.ErrAttackUnderfunded),
		errors.Is(err, domain.ErrDirectTransfer):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrReentrantCall), errors.Is(err, domain.ErrCooldownActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLimitExceeded), errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInconsistent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a single JSON object into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// actingID returns the authenticated caller when there is one, otherwise the
// ID named in the request.
func actingID(r *http.Request, requested string) string {
	if user, ok := middleware.GetUserFromContext(r.Context()); ok {
		return user.ID
	}
	return requested
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// parseUintQuery parses an unsigned query parameter. Missing means zero.
func parseUintQuery(r *http.Request, key string) (uint64, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return 0, nil
	}
	return strconv.ParseUint(val, 10, 64)
}
