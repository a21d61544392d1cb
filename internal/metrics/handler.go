package metrics

import (
	"encoding/json"
	"net/http"
)

// Handler serves the metrics snapshot as JSON. cacheEntries may be nil.
func (m *Metrics) Handler(algorithm string, pool Pool, cacheEntries func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := m.Snapshot(algorithm, pool)
		if cacheEntries != nil {
			snap.CacheEntries = cacheEntries()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
