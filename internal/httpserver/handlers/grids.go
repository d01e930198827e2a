package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openviewer/gridman/internal/fetcher"
	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/httpserver/deps"
	"github.com/openviewer/gridman/internal/logger"
)

type gridSummary struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Current bool   `json:"current,omitempty"`
}

type gridDetail struct {
	Key              string   `json:"key"`
	Label            string   `json:"label"`
	Nickname         string   `json:"nickname"`
	LoginURIs        []string `json:"login_uris"`
	LoginPage        string   `json:"login_page,omitempty"`
	HelperURI        string   `json:"helper_uri,omitempty"`
	UpdateServiceURL string   `json:"update_service_url,omitempty"`
	SlurlBase        string   `json:"slurl_base,omitempty"`
	AppSlurlBase     string   `json:"app_slurl_base,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	System           bool     `json:"system"`
	Hypergrid        bool     `json:"hypergrid,omitempty"`
}

func detailOf(rec *grid.Record) gridDetail {
	return gridDetail{
		Key:              rec.Key,
		Label:            rec.DisplayLabel(),
		Nickname:         rec.Nickname,
		LoginURIs:        rec.LoginURIs,
		LoginPage:        rec.LoginPage,
		HelperURI:        rec.HelperURI,
		UpdateServiceURL: rec.UpdateServiceURL,
		SlurlBase:        rec.SlurlBase,
		AppSlurlBase:     rec.AppSlurlBase,
		Platform:         rec.Platform,
		System:           rec.IsSystemGrid,
		Hypergrid:        rec.IsHypergrid,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListGrids returns every selectable grid.
func ListGrids(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := d.Selector.CurrentGrid()
		known := d.Selector.KnownGrids()

		out := make([]gridSummary, 0, len(known))
		for key, label := range known {
			out = append(out, gridSummary{
				Key:     key,
				Label:   label,
				Current: key == current,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CurrentGrid returns the full record of the selected grid, together
// with the effective (override-aware) endpoints.
func CurrentGrid(d deps.Deps) http.HandlerFunc {
	type response struct {
		gridDetail
		ReadyToLogin       bool     `json:"ready_to_login"`
		EffectiveLoginURIs []string `json:"effective_login_uris"`
		EffectiveLoginPage string   `json:"effective_login_page,omitempty"`
		EffectiveHelperURI string   `json:"effective_helper_uri,omitempty"`
		EffectiveUpdateURL string   `json:"effective_update_url,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key := d.Selector.CurrentGrid()
		rec, ok := d.Registry.Lookup(key)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no grid selected"})
			return
		}

		writeJSON(w, http.StatusOK, response{
			gridDetail:         detailOf(rec),
			ReadyToLogin:       d.Selector.ReadyToLogin(),
			EffectiveLoginURIs: d.Selector.LoginURIs(),
			EffectiveLoginPage: d.Selector.LoginPage(),
			EffectiveHelperURI: d.Selector.HelperURI(),
			EffectiveUpdateURL: d.Selector.UpdateServiceURL(),
		})
	}
}

// SelectGrid switches the current grid. Known tokens select
// synchronously; unknown ones start a resolution, so the selection may
// land later.
func SelectGrid(d deps.Deps) http.HandlerFunc {
	type request struct {
		Grid string `json:"grid"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Grid == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing grid token"})
			return
		}

		d.Selector.SetGridChoice(r.Context(), req.Grid)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"grid":    req.Grid,
			"current": d.Selector.CurrentGrid(),
		})
	}
}

// AddGrid resolves a grid from its login URI and selects it. The
// request blocks until resolution finishes so the caller gets the
// outcome directly.
func AddGrid(d deps.Deps) http.HandlerFunc {
	type request struct {
		LoginURI string `json:"login_uri"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LoginURI == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing login_uri"})
			return
		}

		select {
		case res := <-d.Selector.AddGrid(r.Context(), req.LoginURI):
			if res.State != fetcher.StateFinish {
				d.Logger.Warn("grid add failed",
					logger.String("login_uri", req.LoginURI),
					logger.Error(res.Err))
				writeJSON(w, http.StatusBadGateway, map[string]string{
					"error": "grid could not be resolved",
				})
				return
			}
			writeJSON(w, http.StatusCreated, detailOf(res.Record))

		case <-r.Context().Done():
			writeJSON(w, http.StatusRequestTimeout, map[string]string{
				"error": "resolution cancelled",
			})
		}
	}
}

// RemoveGrid tombstones a grid so it stays gone across restarts.
func RemoveGrid(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing grid key"})
			return
		}

		if !d.Selector.RemoveGrid(key) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "unknown grid or system grid",
			})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
