package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mugen-arena/server/config"
	"mugen-arena/server/roster"
	"mugen-arena/server/stats"
)

// Router exposes read-only snapshots of the roster and statistics store.
// Nothing here mutates battle state.
func Router(st *stats.Store, cfg config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "lastSave": st.LastSave()})
	})

	// Live directory scan, so characters dropped in while running show up.
	r.Get("/api/roster", func(w http.ResponseWriter, req *http.Request) {
		combatants, err := roster.Combatants(cfg.CharsDir)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		arenas, err := roster.Arenas(cfg.StagesDir)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]any{
			"combatants":         config.Enabled(combatants, cfg.Roster.Combatants.Disabled),
			"arenas":             config.Enabled(arenas, cfg.Roster.Arenas.Disabled),
			"disabledCombatants": cfg.Roster.Combatants.Disabled,
			"disabledArenas":     cfg.Roster.Arenas.Disabled,
		})
	})

	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"combatantStats":  st.Combatants(),
			"arenaStats":      st.Arenas(),
			"recentDurations": st.RecentDurations(),
			"lastSave":        st.LastSave(),
		})
	})

	r.Get("/api/combatant", func(w http.ResponseWriter, req *http.Request) {
		name := strings.TrimSpace(req.URL.Query().Get("name"))
		if name == "" {
			http.Error(w, `missing "name" query parameter`, http.StatusBadRequest)
			return
		}
		cs, ok := st.Combatant(name)
		if !ok {
			http.Error(w, "unknown combatant", http.StatusNotFound)
			return
		}
		defeated, defeatedN := st.MostDefeated(name)
		lostTo, lostToN := st.MostLostTo(name)
		writeJSON(w, map[string]any{
			"name":              name,
			"stats":             cs,
			"mostDefeated":      defeated,
			"mostDefeatedCount": defeatedN,
			"mostLostTo":        lostTo,
			"mostLostToCount":   lostToN,
		})
	})

	r.Get("/api/leaderboard", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"rows": st.Leaderboard()})
	})

	r.Get("/api/arena-stats", func(w http.ResponseWriter, req *http.Request) {
		arenas := st.Arenas()
		names := make([]string, 0, len(arenas))
		for name := range arenas {
			names = append(names, name)
		}
		sort.Strings(names)
		type row struct {
			Name string `json:"name"`
			stats.ArenaStats
		}
		out := make([]row, 0, len(names))
		for _, name := range names {
			out = append(out, row{Name: name, ArenaStats: arenas[name]})
		}
		writeJSON(w, map[string]any{"rows": out})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func httpError(w http.ResponseWriter, code int, err error) {
	http.Error(w, err.Error(), code)
}
