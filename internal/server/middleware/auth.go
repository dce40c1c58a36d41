package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldmarket/internal/crypto"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	// HeaderCaller names the caller when signature auth is disabled.
	HeaderCaller = "X-Caller"

	maxSignedBody = 1 << 20
)

type callerKey struct{}

// WithCaller stores the authenticated caller in ctx.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the caller stored by SignatureAuth.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// AuthConfig configures SignatureAuth.
type AuthConfig struct {
	// Enabled requires signatures on mutating requests. When false the
	// caller is taken from X-Caller as is.
	Enabled bool
	// MaxSkew bounds how far X-Timestamp may be from now (default 5m).
	MaxSkew time.Duration
	Now     func() time.Time
	// Replay, when set, rejects a signature used twice.
	Replay *ReplayGuard
}

// SignatureAuth recovers the caller of every non-GET request from an EIP-191
// signature over METHOD, path, X-Timestamp and body.
func SignatureAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !cfg.Enabled {
				if h := r.Header.Get(HeaderCaller); common.IsHexAddress(h) {
					r = r.WithContext(WithCaller(r.Context(), common.HexToAddress(h)))
				}
				next.ServeHTTP(w, r)
				return
			}

			sig := r.Header.Get(HeaderSignature)
			if sig == "" {
				writeStatus(w, http.StatusUnauthorized, "missing signature")
				return
			}
			ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				writeStatus(w, http.StatusUnauthorized, "missing or bad timestamp")
				return
			}
			if skew := cfg.Now().Sub(time.Unix(ts, 0)); skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
				writeStatus(w, http.StatusUnauthorized, "stale timestamp")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeStatus(w, http.StatusBadRequest, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverRequest(r.Method, r.URL.Path, ts, body, sig)
			if err != nil {
				writeStatus(w, http.StatusUnauthorized, "invalid signature")
				return
			}
			if cfg.Replay != nil && cfg.Replay.Seen(sig) {
				writeStatus(w, http.StatusUnauthorized, "replayed signature")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
