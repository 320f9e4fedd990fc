package handlers

import (
	"context"
	"net/http"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

type TemplateService interface {
	Create(ctx context.Context, userID, name, body string) (*entities.Template, error)
	Update(ctx context.Context, userID, templateID, name, body string) (*entities.Template, error)
	Delete(ctx context.Context, userID, templateID string) error
	Get(ctx context.Context, userID, templateID string) (*entities.Template, error)
	List(ctx context.Context, userID string) ([]entities.Template, error)
}

type templateRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

type TemplateHandler struct {
	templates TemplateService
}

func NewTemplateHandler(templates TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

func (h *TemplateHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.templates.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *TemplateHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tmpl, err := h.templates.Create(r.Context(), userID, req.Name, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (h *TemplateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	tmpl, err := h.templates.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *TemplateHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tmpl, err := h.templates.Update(r.Context(), userID, r.PathValue("id"), req.Name, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *TemplateHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.templates.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
