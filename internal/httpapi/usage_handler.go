package httpapi

import (
	"net/http"
	"time"

	"llm_chat/internal/apperr"
	"llm_chat/internal/middleware"
	"llm_chat/internal/utils"
)

// handleUsage reports the caller's token usage for ?month=YYYY-MM, the
// current month by default
func (d *Dependencies) handleUsage(w http.ResponseWriter, r *http.Request) {
	month := time.Now().UTC()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceAPI, "month must look like 2006-01"), apperr.SurfaceAPI)
			return
		}
		month = parsed
	}

	if d.Usage == nil {
		apperr.Write(w, apperr.Newf(apperr.NotFound, apperr.SurfaceAPI, "usage tracking is disabled"), apperr.SurfaceAPI)
		return
	}

	summary, err := d.Usage.Monthly(r.Context(), middleware.GetUserID(r.Context()), month.Year(), int(month.Month()))
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceAPI, err), apperr.SurfaceAPI)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, summary)
}
