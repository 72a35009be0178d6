package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to an HTTP status and sends it. The
// error text is returned verbatim; domain errors carry no internals.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidConfiguration),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidShares),
		errors.Is(err, domain.ErrLiquidityParamInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrMarketNotTradable),
		errors.Is(err, domain.ErrMarketNotEnded),
		errors.Is(err, domain.ErrMarketNotResolved),
		errors.Is(err, domain.ErrAlreadyRedeemed),
		errors.Is(err, domain.ErrNothingToRedeem),
		errors.Is(err, domain.ErrRedemptionSuspended):
		return http.StatusConflict
	case errors.Is(err, domain.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter using Go 1.22+ routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseOutcome parses an outcome index from a string field.
func parseOutcome(s string) (uint8, bool) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
