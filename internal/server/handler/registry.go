package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// RegistryService resolves registered claim tokens and sources.
type RegistryService interface {
	ClaimTokens(source domain.SourceID, underlying domain.Address, expiry uint64) (ot, yt domain.Address)
	Sources() []domain.SourceID
}

type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{registry: registry, logger: logger}
}

type claimTokensResponse struct {
	Source         domain.SourceID `json:"source"`
	Underlying     domain.Address  `json:"underlying"`
	Expiry         uint64          `json:"expiry"`
	OwnershipToken domain.Address  `json:"ownership_token"`
	YieldToken     domain.Address  `json:"yield_token"`
}

// ClaimTokens returns the OT and YT registered for a yield contract.
// GET /api/registry/tokens/{source}/{underlying}/{expiry}
func (h *RegistryHandler) ClaimTokens(w http.ResponseWriter, r *http.Request) {
	key, err := yieldKeyFromPath(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim tokens", err)
		return
	}
	ot, yt := h.registry.ClaimTokens(key.Source, key.Underlying, key.Expiry)
	if ot == domain.ZeroAddress {
		writeError(w, http.StatusNotFound, "no yield contract "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, claimTokensResponse{
		Source:         key.Source,
		Underlying:     key.Underlying,
		Expiry:         key.Expiry,
		OwnershipToken: ot,
		YieldToken:     yt,
	})
}

// Sources lists the registered yield sources.
// GET /api/registry/sources
func (h *RegistryHandler) Sources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": h.registry.Sources()})
}
