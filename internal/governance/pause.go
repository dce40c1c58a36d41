package governance

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Pause keys understood by the router.
const PauseRouter = "router"

// ForgePauseKey is the pause key of a forge.
func ForgePauseKey(id domain.SourceID) string { return "forge:" + string(id) }

// MarketPauseKey is the pause key of a market.
func MarketPauseKey(addr domain.Address) string { return "market:" + addr.Hex() }

// PauseRegistry records which entities are paused. Reads are lock-free since
// every dispatched call consults it.
type PauseRegistry struct {
	auth   *Authority
	paused *xsync.Map[string, bool]
}

// NewPauseRegistry returns a registry with nothing paused.
func NewPauseRegistry(auth *Authority) *PauseRegistry {
	return &PauseRegistry{auth: auth, paused: xsync.NewMap[string, bool]()}
}

// IsPaused reports whether entity is paused.
func (p *PauseRegistry) IsPaused(entity string) bool {
	v, ok := p.paused.Load(entity)
	return ok && v
}

// SetPaused pauses or resumes entity.
func (p *PauseRegistry) SetPaused(caller domain.Address, entity string, paused bool) error {
	if err := p.auth.Require(caller); err != nil {
		return err
	}
	if paused {
		p.paused.Store(entity, true)
	} else {
		p.paused.Delete(entity)
	}
	return nil
}

// Paused lists every paused entity.
func (p *PauseRegistry) Paused() []string {
	var out []string
	p.paused.Range(func(k string, v bool) bool {
		if v {
			out = append(out, k)
		}
		return true
	})
	return out
}
