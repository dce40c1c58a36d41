package server_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/yieldmarket/internal/config"
	"github.com/alanyoungcy/yieldmarket/internal/server"
	"github.com/alanyoungcy/yieldmarket/internal/server/middleware"
)

func TestDefaultConfigRejectsUnsignedWrites(t *testing.T) {
	cfg := config.Defaults()
	srv := server.NewServer(server.Config{
		Port:          cfg.Server.Port,
		SignatureAuth: cfg.Server.SignatureAuth,
	}, server.Handlers{}, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, path := range []string{"/api/yield/tokenize", "/api/markets/0x00000000000000000000000000000000000000aa/swap", "/api/tokens/approve"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"amount":"1"}`))
		req.Header.Set(middleware.HeaderCaller, "0x00000000000000000000000000000000000a11ce")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}
