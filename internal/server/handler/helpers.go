// Package handler serves the JSON API. Handlers depend on small local
// interfaces that the router satisfies.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/server/middleware"
	"github.com/alanyoungcy/yieldmarket/internal/token"
)

const maxRequestBody = 1 << 20

// TokenLookup resolves token decimals for amount conversion.
type TokenLookup interface {
	TokenMetadata(tok domain.Address) (token.Metadata, error)
}

// Amount is a token amount in base units and in display units.
type Amount struct {
	Raw   string `json:"raw"`
	Value string `json:"value"`
}

func newAmount(v *big.Int, decimals int32) Amount {
	return Amount{Raw: domain.CloneInt(v).String(), Value: domain.FormatAmount(v, decimals)}
}

// writeJSON marshals v with the given status, falling back to a plain 500.
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

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// StatusFor maps an error to its HTTP status by error kind.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrContextDone):
		return http.StatusServiceUnavailable
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindState:
		return http.StatusConflict
	case domain.KindSlippage:
		return http.StatusUnprocessableEntity
	case domain.KindExternalTransfer:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// writeDomainError answers with the mapped status. Unknown errors are logged
// and their text withheld.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: domain.KindOf(err).String()})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", domain.ErrInvalidParams, err)
	}
	return nil
}

// callerOf returns the authenticated caller or an authorization error.
func callerOf(r *http.Request) (domain.Address, error) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return domain.ZeroAddress, fmt.Errorf("no caller: %w", domain.ErrUnauthorized)
	}
	return addr, nil
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func parseAddress(name, s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.ZeroAddress, fmt.Errorf("%w: %s %q is not an address", domain.ErrInvalidParams, name, s)
	}
	return common.HexToAddress(s), nil
}

func parseExpiry(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expiry %q", domain.ErrInvalidParams, s)
	}
	return v, nil
}

// parseTokenAmount converts a display amount of tok into base units. An
// empty string is zero.
func parseTokenAmount(tokens TokenLookup, tok domain.Address, s string) (*big.Int, int32, error) {
	meta, err := tokens.TokenMetadata(tok)
	if err != nil {
		return nil, 0, err
	}
	if s == "" {
		return new(big.Int), meta.Decimals, nil
	}
	v, err := domain.ParseAmount(s, meta.Decimals)
	return v, meta.Decimals, err
}

func decimalsOf(tokens TokenLookup, tok domain.Address) int32 {
	meta, err := tokens.TokenMetadata(tok)
	if err != nil {
		return 0
	}
	return meta.Decimals
}
