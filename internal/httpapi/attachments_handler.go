package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"llm_chat/internal/apperr"
	"llm_chat/internal/middleware"
	"llm_chat/internal/utils"
)

// multipartOverhead covers boundaries and part headers around the file
const multipartOverhead = 64 << 10

// handleUpload accepts a multipart form with a single "file" part
func (d *Dependencies) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := d.Uploader.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			apperr.Write(w, apperr.Newf(apperr.FileTooLarge, apperr.SurfaceFiles, "file exceeds %d bytes", maxSize), apperr.SurfaceFiles)
			return
		}
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceFiles, "invalid multipart form"), apperr.SurfaceFiles)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceFiles, "missing file"), apperr.SurfaceFiles)
		return
	}
	defer file.Close()

	// one extra byte lets Validate report the oversize case
	body, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.UploadFailed, apperr.SurfaceFiles, err), apperr.SurfaceFiles)
		return
	}

	up, err := d.Uploader.Upload(r.Context(), middleware.GetUserID(r.Context()), header.Filename, body)
	if err != nil {
		apperr.Write(w, err, apperr.SurfaceFiles)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, up)
}

// handleFile serves uploads held by the in-process blob store
func (d *Dependencies) handleFile(w http.ResponseWriter, r *http.Request) {
	obj, ok := d.Files.Get(chi.URLParam(r, "*"))
	if !ok {
		apperr.Write(w, apperr.New(apperr.NotFound, apperr.SurfaceFiles), apperr.SurfaceFiles)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Body)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Body)
}

// handleMe returns the signed-in user
func (d *Dependencies) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		apperr.Write(w, apperr.New(apperr.Unauthorized, apperr.SurfaceAuth), apperr.SurfaceAuth)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"id":    claims.UserID(),
		"email": claims.Email,
		"name":  claims.Name,
	})
}
