package exttable

import lua "github.com/yuin/gopher-lua"

const (
	homeGlobal      = "_home"
	homeAliasGlobal = "_memory" // legacy synonym, installed only when enabled
)

// Home tracks the external table currently bound to the `_home` global
// (and, when enabled, its legacy `_memory` alias). The home id survives
// across calls and is the vehicle scripts use to persist state between
// executions of the same guest.
type Home struct {
	registry     *Registry
	id           uint32
	aliasEnabled bool
}

// NewHome allocates a fresh external table and publishes it as `_home`.
func NewHome(r *Registry, aliasEnabled bool) *Home {
	id := r.allocID()
	h := &Home{registry: r, id: id, aliasEnabled: aliasEnabled}
	h.publish()
	return h
}

func (h *Home) publish() {
	proxy := h.registry.Resolve(h.id)
	h.registry.L.SetGlobal(homeGlobal, proxy)
	if h.aliasEnabled {
		h.registry.L.SetGlobal(homeAliasGlobal, proxy)
	} else {
		h.registry.L.SetGlobal(homeAliasGlobal, lua.LNil)
	}
}

// ID returns the current home table id, or 0 if none is bound.
func (h *Home) ID() uint32 {
	if h == nil {
		return 0
	}
	return h.id
}

// Attach rebinds `_home` (and the alias, if enabled) to an existing id
// without reallocating, raising the free-id counter past id if needed.
// A zero id is a no-op, matching the ABI's "no-op if id is 0" contract.
func (h *Home) Attach(id uint32) {
	if id == 0 {
		return
	}
	h.id = id
	h.registry.raiseCounterPast(id)
	h.publish()
}

// SetAliasEnabled toggles whether the legacy `_memory` global tracks
// `_home`, re-publishing immediately so the effect is visible right away.
func (h *Home) SetAliasEnabled(enabled bool) {
	h.aliasEnabled = enabled
	h.publish()
}
