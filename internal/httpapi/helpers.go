package httpapi

import (
	"net/http"
	"strings"

	"llm_chat/internal/apperr"
	"llm_chat/internal/credentials"
	"llm_chat/internal/middleware"
	"llm_chat/internal/routing"
	"llm_chat/internal/session"
	"llm_chat/internal/utils"
)

// decode reads a JSON body, mapping failures to bad_request on surface
func decode(w http.ResponseWriter, r *http.Request, surface apperr.Surface, target interface{}) bool {
	if err := utils.DecodeJSON(r, target); err != nil {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, surface, "Invalid request body: %v", err), surface)
		return false
	}
	return true
}

// requireField writes bad_request when value is blank
func requireField(w http.ResponseWriter, surface apperr.Surface, name, value string) bool {
	if strings.TrimSpace(value) == "" {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, surface, "%s is required", name), surface)
		return false
	}
	return true
}

func (d *Dependencies) state(w http.ResponseWriter, r *http.Request) session.Adapter {
	return d.State(w, r, middleware.GetUserID(r.Context()))
}

// keyStore returns the credential store of the calling user
func (d *Dependencies) keyStore(w http.ResponseWriter, r *http.Request) *credentials.Store {
	return d.storeOn(r, d.state(w, r))
}

// storeOn returns the caller's credential store over an existing adapter, so
// a cookie adapter sees its own pending writes within one request
func (d *Dependencies) storeOn(r *http.Request, adapter session.Adapter) *credentials.Store {
	return credentials.NewStore(middleware.GetUserID(r.Context()), adapter, d.Validator, routing.Resolver{})
}
