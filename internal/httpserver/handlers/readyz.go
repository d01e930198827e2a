package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/openviewer/gridman/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Grid  string `json:"grid,omitempty"`
}

// Readyz reports readiness: a grid must be selected and resolved
// before logins can be attempted.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := d.Selector.ReadyToLogin()

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(readyzResponse{
			Ready: ready,
			Grid:  d.Selector.CurrentGrid(),
		})
	}
}
