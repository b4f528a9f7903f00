package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"llm_chat/internal/apperr"
	"llm_chat/internal/catalog"
	"llm_chat/internal/credentials"
	"llm_chat/internal/session"
	"llm_chat/internal/utils"
)

// keysState is returned by every key endpoint
type keysState struct {
	Providers      map[catalog.Provider]string `json:"providers"` // masked
	HasKeys        bool                        `json:"hasKeys"`
	SelectedModel  string                      `json:"selectedModel,omitempty"`
	AggregatorOnly *bool                       `json:"aggregatorOnly"`
}

func loadKeysState(ctx context.Context, store *credentials.Store, adapter session.Adapter) (*keysState, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	settings := session.NewSettings(adapter)
	selected, _, err := settings.SelectedModel(ctx)
	if err != nil {
		return nil, err
	}
	pref, err := settings.AggregatorOnly(ctx)
	if err != nil {
		return nil, err
	}

	masked := make(map[catalog.Provider]string, len(keys))
	for p, k := range keys {
		masked[p] = credentials.MaskKey(k)
	}
	return &keysState{
		Providers:      masked,
		HasKeys:        keys.Any(),
		SelectedModel:  selected,
		AggregatorOnly: pref,
	}, nil
}

func providerParam(w http.ResponseWriter, r *http.Request) (catalog.Provider, bool) {
	p := catalog.Provider(chi.URLParam(r, "provider"))
	if !catalog.IsCredentialProvider(p) {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceAPI, "Unknown provider %q", p), apperr.SurfaceAPI)
		return "", false
	}
	return p, true
}

func (d *Dependencies) respondKeys(w http.ResponseWriter, r *http.Request, adapter session.Adapter, store *credentials.Store) {
	state, err := loadKeysState(r.Context(), store, adapter)
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, state)
}

func (d *Dependencies) handleListKeys(w http.ResponseWriter, r *http.Request) {
	adapter := d.state(w, r)
	d.respondKeys(w, r, adapter, d.storeOn(r, adapter))
}

// handleValidateKey checks a key without saving it
func (d *Dependencies) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider catalog.Provider `json:"provider"`
		Key      string           `json:"key"`
	}
	if !decode(w, r, apperr.SurfaceAPI, &req) {
		return
	}
	if !catalog.IsCredentialProvider(req.Provider) {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceAPI, "Unknown provider %q", req.Provider), apperr.SurfaceAPI)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d.Validator.Validate(r.Context(), req.Provider, req.Key))
}

// handleSaveKey validates and stores a key. A rejected key answers 422 with
// the validation result so the client can show it next to the input.
func (d *Dependencies) handleSaveKey(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if !decode(w, r, apperr.SurfaceAPI, &req) || !requireField(w, apperr.SurfaceAPI, "key", req.Key) {
		return
	}

	adapter := d.state(w, r)
	store := d.storeOn(r, adapter)
	if err := store.SaveKey(r.Context(), provider, req.Key); err != nil {
		if ve, ok := credentials.IsValidationError(err); ok {
			utils.RespondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"code":       string(apperr.BadRequest) + ":" + string(apperr.SurfaceAPI),
				"message":    ve.Result.Error,
				"validation": ve.Result,
			})
			return
		}
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	d.respondKeys(w, r, adapter, store)
}

func (d *Dependencies) handleRemoveKey(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	adapter := d.state(w, r)
	store := d.storeOn(r, adapter)
	if err := store.RemoveKey(r.Context(), provider); err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	d.respondKeys(w, r, adapter, store)
}

func (d *Dependencies) handleClearKeys(w http.ResponseWriter, r *http.Request) {
	adapter := d.state(w, r)
	store := d.storeOn(r, adapter)
	if err := store.ClearAllKeys(r.Context()); err != nil {
		apperr.Write(w, err, apperr.SurfaceAPI)
		return
	}
	d.respondKeys(w, r, adapter, store)
}
