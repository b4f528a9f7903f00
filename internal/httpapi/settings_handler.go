package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"llm_chat/internal/apperr"
	"llm_chat/internal/catalog"
	"llm_chat/internal/routing"
	"llm_chat/internal/session"
	"llm_chat/internal/utils"
)

type settingsResponse struct {
	SelectedModel  string `json:"selectedModel"`
	AggregatorOnly *bool  `json:"aggregatorOnly"`
	HasKeys        bool   `json:"hasKeys"`
}

func (d *Dependencies) writeSettings(w http.ResponseWriter, r *http.Request, adapter session.Adapter) {
	ctx := r.Context()
	keys, err := d.storeOn(r, adapter).Keys(ctx)
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	settings := session.NewSettings(adapter)
	selected, _, err := settings.SelectedModel(ctx)
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	pref, err := settings.AggregatorOnly(ctx)
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, settingsResponse{
		SelectedModel:  routing.ResolveInitialModel("", selected, keys),
		AggregatorOnly: pref,
		HasKeys:        keys.Any(),
	})
}

func (d *Dependencies) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	d.writeSettings(w, r, d.state(w, r))
}

// handleUpdateSettings accepts {selectedModel?, aggregatorOnly?}. The model
// must exist and be usable with the caller's keys.
func (d *Dependencies) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SelectedModel  *string `json:"selectedModel"`
		AggregatorOnly *bool   `json:"aggregatorOnly"`
	}
	if !decode(w, r, apperr.SurfaceAPI, &req) {
		return
	}

	ctx := r.Context()
	adapter := d.state(w, r)
	settings := session.NewSettings(adapter)

	if req.SelectedModel != nil {
		key := *req.SelectedModel
		if _, ok := catalog.GetModelByKey(key); !ok {
			apperr.Write(w, apperr.Newf(apperr.ModelNotFound, apperr.SurfaceModels, "Unknown model %q", key), apperr.SurfaceModels)
			return
		}
		keys, err := d.storeOn(r, adapter).Keys(ctx)
		if err != nil {
			apperr.Write(w, err, apperr.SurfaceAPI)
			return
		}
		if !routing.CanUseModel(key, keys) {
			apperr.Write(w, apperr.Newf(apperr.APIKeyMissing, apperr.SurfaceModels, "Add an API key to use %s", key), apperr.SurfaceModels)
			return
		}
		if err := settings.SetSelectedModel(ctx, key); err != nil {
			apperr.Write(w, err, apperr.SurfaceAPI)
			return
		}
	}

	if req.AggregatorOnly != nil {
		if err := settings.SetAggregatorOnly(ctx, *req.AggregatorOnly); err != nil {
			apperr.Write(w, err, apperr.SurfaceAPI)
			return
		}
	}

	d.writeSettings(w, r, adapter)
}

func (d *Dependencies) handleListPinned(w http.ResponseWriter, r *http.Request) {
	ids, err := session.NewPinnedThreads(d.state(w, r)).List(r.Context())
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"pinned": ids})
}

func (d *Dependencies) handlePin(w http.ResponseWriter, r *http.Request) {
	ids, err := session.NewPinnedThreads(d.state(w, r)).Pin(r.Context(), chi.URLParam(r, "threadId"))
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"pinned": ids})
}

func (d *Dependencies) handleUnpin(w http.ResponseWriter, r *http.Request) {
	ids, err := session.NewPinnedThreads(d.state(w, r)).Unpin(r.Context(), chi.URLParam(r, "threadId"))
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"pinned": ids})
}
