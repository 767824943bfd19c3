// internal/controller/campaign_controller.go
package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/dispatch-engine/internal/service"
)

type CampaignController struct {
	Service *service.DispatchService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CampaignInput
	if !decode(w, r, &body) {
		return
	}

	campaign, err := c.Service.CreateCampaign(r.Context(), ownerID(r), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.Service.ListCampaigns(r.Context(), ownerID(r), page, pageSize, status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.Service.GetCampaignDetailsWithStats(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) AddContacts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Contacts []service.ContactInput `json:"contacts"`
	}
	if !decode(w, r, &body) {
		return
	}

	id := chi.URLParam(r, "id")
	total, err := c.Service.AddCampaignContacts(r.Context(), ownerID(r), id, body.Contacts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":    id,
		"added":          len(body.Contacts),
		"total_contacts": total,
	})
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.Service.StartCampaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.Service.PauseCampaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.Service.ResumeCampaign)
}

func (c *CampaignController) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	campaign, err := fn(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.Service.DeleteCampaign(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Contact          service.ContactInput `json:"contact"`
		OverrideTemplate *string              `json:"override_template"`
	}
	if !decode(w, r, &body) {
		return
	}

	id := chi.URLParam(r, "id")
	rendered, err := c.Service.RenderPreview(r.Context(), ownerID(r), id, body.Contact, body.OverrideTemplate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"campaign_id":      id,
	})
}
