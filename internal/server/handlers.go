package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nostr-lanes/internal/lane"
	"nostr-lanes/internal/nips"
)

type handler struct {
	deps Deps
}

func (h *handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports ok once at least one relay is connected.
func (h *handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Relays != nil && h.deps.Relays.Connections() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no relay connections"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) ListLanes(w http.ResponseWriter, r *http.Request) {
	names := h.deps.Lanes.Names()
	out := make([]laneSummary, 0, len(names))
	for _, name := range names {
		v, ok := h.deps.Lanes.View(name)
		if !ok {
			continue
		}
		snap, err := v.Snapshot(r.Context())
		if err != nil {
			h.snapshotFailed(w, name, err)
			return
		}
		out = append(out, laneSummary{Name: snap.Name, Central: snap.Central, Notes: len(snap.Notes)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) GetLane(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, ok := h.deps.Lanes.View(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("lane not found"))
		return
	}
	snap, err := v.Snapshot(r.Context())
	if err != nil {
		h.snapshotFailed(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, toLaneResponse(snap))
}

func (h *handler) ListRelays(w http.ResponseWriter, r *http.Request) {
	resp := relaysResponse{Relays: []string{}}
	if h.deps.Relays != nil {
		resp.Relays = nonNil(h.deps.Relays.Relays())
		resp.Connections = h.deps.Relays.Connections()
	}
	if h.deps.Store != nil {
		known, err := h.deps.Store.CountRelays(r.Context())
		if err != nil {
			h.deps.Logger.Warn("count relays failed", slog.String("error", err.Error()))
		}
		resp.Known = known
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) GetPersona(w http.ResponseWriter, r *http.Request) {
	pubkey, err := nips.ParsePubkey(chi.URLParam(r, "pubkey"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("pubkey must be hex or npub"))
		return
	}
	if h.deps.Store == nil {
		writeJSON(w, http.StatusNotFound, errorBody("persona not found"))
		return
	}

	persona, err := h.deps.Store.GetPersona(r.Context(), pubkey)
	if err != nil {
		h.deps.Logger.Error("persona lookup failed", slog.String("pubkey", pubkey), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if persona == nil {
		writeJSON(w, http.StatusNotFound, errorBody("persona not found"))
		return
	}
	writeJSON(w, http.StatusOK, toPersonaResponse(persona))
}

func (h *handler) snapshotFailed(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, lane.ErrViewStopped) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("lane stopped"))
		return
	}
	h.deps.Logger.Warn("lane snapshot failed", slog.String("lane", name), slog.String("error", err.Error()))
	writeJSON(w, http.StatusServiceUnavailable, errorBody("lane unavailable"))
}
