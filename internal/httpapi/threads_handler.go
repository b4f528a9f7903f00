package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"llm_chat/internal/apperr"
	"llm_chat/internal/middleware"
	"llm_chat/internal/models"
	"llm_chat/internal/threads"
	"llm_chat/internal/titles"
	"llm_chat/internal/utils"
)

func writeThreadError(w http.ResponseWriter, err error) {
	apperr.Write(w, threads.ToAppError(err), apperr.SurfaceThread)
}

// enqueueTitle schedules title generation after the response is written
func (d *Dependencies) enqueueTitle(ctx context.Context, userID, threadID, prompt string) {
	if d.Titles == nil || prompt == "" {
		return
	}
	job := &titles.Job{UserID: userID, ThreadID: threadID, Prompt: prompt, QueuedAt: time.Now().UTC()}
	if err := d.Titles.Enqueue(ctx, job); err != nil {
		logger.Warn("Failed to enqueue title job", "thread_id", threadID, "error", err)
	}
}

func (d *Dependencies) handleListThreads(w http.ResponseWriter, r *http.Request) {
	list, err := d.Threads.ListThreads(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeThreadError(w, err)
		return
	}
	if list == nil {
		list = []models.Thread{}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"threads": list})
}

// handleCreateThread accepts {id?, title?, prompt?}. A prompt without a
// title queues title generation.
func (d *Dependencies) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Prompt string `json:"prompt"`
	}
	if !decode(w, r, apperr.SurfaceThread, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	userID := middleware.GetUserID(r.Context())
	thread, err := d.Threads.CreateThread(r.Context(), userID, req.ID, req.Title)
	if err != nil {
		writeThreadError(w, err)
		return
	}
	if req.Title == "" {
		d.enqueueTitle(r.Context(), userID, thread.ID, req.Prompt)
	}
	utils.RespondWithJSON(w, http.StatusCreated, thread)
}

func (d *Dependencies) handleGetThread(w http.ResponseWriter, r *http.Request) {
	twm, err := d.Threads.GetThread(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "threadId"))
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, twm)
}

func (d *Dependencies) handleRenameThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, apperr.SurfaceThread, &req) {
		return
	}
	err := d.Threads.RenameThread(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "threadId"), req.Title)
	if err != nil {
		writeThreadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := d.Threads.DeleteThread(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "threadId")); err != nil {
		writeThreadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visibility models.Visibility `json:"visibility"`
	}
	if !decode(w, r, apperr.SurfaceThread, &req) {
		return
	}
	err := d.Threads.SetVisibility(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "threadId"), req.Visibility)
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"visibility": req.Visibility})
}

// handleBranch serves POST /api/threads/{threadId}/branch {messageId, newThreadId?}
func (d *Dependencies) handleBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID   string `json:"messageId"`
		NewThreadID string `json:"newThreadId"`
	}
	if !decode(w, r, apperr.SurfaceThread, &req) || !requireField(w, apperr.SurfaceThread, "messageId", req.MessageID) {
		return
	}

	twm, err := d.Threads.Branch(r.Context(), middleware.GetUserID(r.Context()),
		chi.URLParam(r, "threadId"), req.MessageID, req.NewThreadID)
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, twm)
}

// handleSaveMessage upserts a message into the thread; the client uses it to
// persist edits and locally stopped messages
func (d *Dependencies) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if !decode(w, r, apperr.SurfaceThread, &msg) {
		return
	}
	msg.ThreadID = chi.URLParam(r, "threadId")
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.StatusDone
	}

	if err := d.Threads.SaveMessage(r.Context(), middleware.GetUserID(r.Context()), &msg); err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, msg)
}

func (d *Dependencies) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := d.Threads.DeleteMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "messageId")); err != nil {
		writeThreadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteTrailing deletes the messages after {messageId}; with
// ?inclusive=true the message itself goes too
func (d *Dependencies) handleDeleteTrailing(w http.ResponseWriter, r *http.Request) {
	inclusive := false
	if v := r.URL.Query().Get("inclusive"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceThread, "inclusive must be a boolean"), apperr.SurfaceThread)
			return
		}
		inclusive = parsed
	}

	n, err := d.Threads.DeleteTrailingMessages(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "messageId"), inclusive)
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

// handleGetShared serves GET /api/share/{threadId} to anyone for public
// threads and to the owner for private ones
func (d *Dependencies) handleGetShared(w http.ResponseWriter, r *http.Request) {
	twm, err := d.Threads.SharedThread(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "threadId"))
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, twm)
}

func (d *Dependencies) handleCreatePartialShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"messageId"`
	}
	if !decode(w, r, apperr.SurfaceThread, &req) || !requireField(w, apperr.SurfaceThread, "messageId", req.MessageID) {
		return
	}

	share, err := d.Threads.CreatePartialShare(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "threadId"), req.MessageID)
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, share)
}

func (d *Dependencies) handleGetPartialShare(w http.ResponseWriter, r *http.Request) {
	twm, err := d.Threads.PartialShared(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeThreadError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, twm)
}

func (d *Dependencies) handleListPartialShares(w http.ResponseWriter, r *http.Request) {
	shares, err := d.Threads.ListPartialShares(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeThreadError(w, err)
		return
	}
	if shares == nil {
		shares = []threads.PartialShare{}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"shares": shares})
}

func (d *Dependencies) handleDeletePartialShare(w http.ResponseWriter, r *http.Request) {
	if err := d.Threads.DeletePartialShare(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "token")); err != nil {
		writeThreadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
