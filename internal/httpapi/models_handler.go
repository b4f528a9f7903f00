package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"llm_chat/internal/apperr"
	"llm_chat/internal/catalog"
	"llm_chat/internal/routing"
	"llm_chat/internal/session"
	"llm_chat/internal/utils"
)

// parseFilters maps query parameters onto catalog filters:
// provider, capability, without, tier, speed, quality (comma separated),
// maxPrice and minContext.
func parseFilters(q url.Values) (*catalog.Filters, error) {
	f := &catalog.Filters{}

	for _, p := range splitList(q.Get("provider")) {
		f.Providers = append(f.Providers, catalog.Provider(p))
	}
	for _, c := range splitList(q.Get("capability")) {
		if f.Capabilities == nil {
			f.Capabilities = make(map[catalog.Capability]bool)
		}
		f.Capabilities[catalog.Capability(c)] = true
	}
	for _, c := range splitList(q.Get("without")) {
		if f.Capabilities == nil {
			f.Capabilities = make(map[catalog.Capability]bool)
		}
		f.Capabilities[catalog.Capability(c)] = false
	}
	for _, t := range splitList(q.Get("tier")) {
		f.Tiers = append(f.Tiers, catalog.Tier(t))
	}
	for _, s := range splitList(q.Get("speed")) {
		f.Speeds = append(f.Speeds, catalog.Speed(s))
	}
	for _, s := range splitList(q.Get("quality")) {
		f.Qualities = append(f.Qualities, catalog.Quality(s))
	}

	if v := q.Get("maxPrice"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		f.MaxPrice = &price
	}
	if v := q.Get("minContext"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		f.MinContextWindow = n
	}
	return f, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type modelEntry struct {
	Key string `json:"key"`
	catalog.ModelConfig
}

func entries(list []catalog.ModelConfig) []modelEntry {
	out := make([]modelEntry, 0, len(list))
	for _, m := range list {
		out = append(out, modelEntry{Key: m.Key(), ModelConfig: m})
	}
	return out
}

// handleListModels serves GET /api/models
func (d *Dependencies) handleListModels(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceModels, "Invalid filter: %v", err), apperr.SurfaceModels)
		return
	}

	list := catalog.GetAvailableModels(filters)
	if r.URL.Query().Get("groupBy") == "tier" {
		groups := make(map[catalog.Tier][]modelEntry)
		for tier, models := range catalog.GroupByTier(list) {
			groups[tier] = entries(models)
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"models":       entries(list),
		"defaultModel": catalog.DefaultModelKey,
	})
}

// handleAvailableModels serves GET /api/models/available: the models the
// caller's keys can use and the model a new chat opens with
func (d *Dependencies) handleAvailableModels(w http.ResponseWriter, r *http.Request) {
	keys, err := d.keyStore(w, r).Keys(r.Context())
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceModels)
		return
	}
	selected, _, err := session.NewSettings(d.state(w, r)).SelectedModel(r.Context())
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceModels)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"models":       entries(routing.UsableModels(keys)),
		"defaultModel": routing.GetBestAvailableDefaultModel(keys),
		"initialModel": routing.ResolveInitialModel("", selected, keys),
	})
}
