package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/service"
)

type transitionFunc func(ctx context.Context, ownerID, id string) (*model.Campaign, error)

// DispatchController serves scheduled sends, status posts, interactive
// sends, template checks and history.
type DispatchController struct {
	Service *service.DispatchService
}

func (c *DispatchController) CreateScheduledSend(w http.ResponseWriter, r *http.Request) {
	var body service.ScheduledSendInput
	if !decode(w, r, &body) {
		return
	}
	send, err := c.Service.CreateScheduledSend(r.Context(), ownerID(r), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, send)
}

func (c *DispatchController) ListScheduledSends(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	sends, pagination, err := c.Service.ListScheduledSends(r.Context(), ownerID(r), page, pageSize, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       sends,
		"pagination": pagination,
	})
}

func (c *DispatchController) CancelScheduledSend(w http.ResponseWriter, r *http.Request) {
	send, err := c.Service.CancelScheduledSend(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, send)
}

func (c *DispatchController) CreateStatusPost(w http.ResponseWriter, r *http.Request) {
	var body service.StatusPostInput
	if !decode(w, r, &body) {
		return
	}
	post, err := c.Service.CreateStatusPost(r.Context(), ownerID(r), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (c *DispatchController) CancelStatusPost(w http.ResponseWriter, r *http.Request) {
	post, err := c.Service.CancelStatusPost(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// SendMessage is the interactive path: the response carries the row's
// final status.
func (c *DispatchController) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body service.SendNowInput
	if !decode(w, r, &body) {
		return
	}
	send, err := c.Service.SendNow(r.Context(), ownerID(r), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, send)
}

func (c *DispatchController) ValidateTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Template string `json:"template"`
	}
	if !decode(w, r, &body) {
		return
	}
	problems := service.ValidateTemplate(body.Template)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

func (c *DispatchController) ListHistory(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	recs, pagination, err := c.Service.ListHistory(r.Context(), ownerID(r), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       recs,
		"pagination": pagination,
	})
}
