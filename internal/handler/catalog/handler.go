package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/pkg/utils"
)

// Handler serves the model catalog over HTTP.
type Handler struct {
	catalog build.Catalog
}

// New returns a catalog handler.
func New(catalog build.Catalog) *Handler {
	return &Handler{
		catalog: catalog,
	}
}

// RegisterRoutes mounts the catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
	r.Get("/models/{modelID}", h.handleGetModel)
}

// handleListModels lists every model.
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.catalog.List())
}

func (h *Handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, ok := h.catalog.FindByID(chi.URLParam(r, "modelID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "model not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, model)
}
