package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openviewer/gridman/internal/httpserver/deps"
)

type componentStatus struct {
	OK         bool   `json:"ok"`
	GridsKnown *int   `json:"grids_known,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Impact     string `json:"impact,omitempty"`
	Error      string `json:"error,omitempty"`
}

type statusResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Status reports the health of the subsystem's moving parts: the
// registry, the current selection and the optional record cache.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		gridCount := d.Registry.Count()
		components := map[string]componentStatus{
			"registry": {
				OK:         gridCount > 0,
				GridsKnown: &gridCount,
			},
			"selection": {
				OK:   d.Selector.ReadyToLogin(),
				Mode: d.Selector.PlatformTag(),
			},
			"cache": checkRedis(d),
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(statusResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if reg, exists := components["registry"]; exists && !reg.OK {
		return "critical"
	}
	if sel, exists := components["selection"]; exists && !sel.OK {
		return "resolving"
	}
	if cache, exists := components["cache"]; exists && !cache.OK {
		return "degraded"
	}
	return "ok"
}

func checkRedis(d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "disabled",
			Impact: "records reload from files only",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "record cache unavailable",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:   true,
		Mode: "optimal",
	}
}
