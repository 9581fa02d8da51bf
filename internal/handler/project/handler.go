package project

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/store"
	"github.com/zhouzirui/cobuild/backend/pkg/utils"
)

// Handler serves project configurations and comments over HTTP.
type Handler struct {
	store   store.Store
	catalog build.Catalog
	logger  slog.Logger
}

// New returns a project handler.
func New(s store.Store, catalog build.Catalog, logger slog.Logger) *Handler {
	return &Handler{
		store:   s,
		catalog: catalog,
		logger:  logger.Named("project"),
	}
}

// RegisterRoutes mounts the project routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Get("/config", h.handleGetConfig)
		r.Put("/config", h.handlePutConfig)
		r.Get("/comments", h.handleGetComments)
		r.Put("/comments", h.handlePutComments)
	})
}

// handleGetConfig returns the project configuration, or the default one when
// nothing is stored.
func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	doc, err := h.store.GetDocument(r.Context(), projectID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, doc)
}

// handlePutConfig replaces the project configuration.
func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var doc build.Document
	if err := utils.DecodeJSON(w, r, &doc); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	model, ok := h.catalog.FindByName(doc.ModelName)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %q", doc.ModelName))
		return
	}
	if err := validateSelections(model, doc.Selections); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc = doc.Normalize(model)
	doc.Brand = model.Brand
	doc.BasePrice = model.BasePrice
	if err := h.store.PutDocument(r.Context(), projectID, doc); err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, doc)
}

// handleGetComments returns the project comment threads.
func (h *Handler) handleGetComments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	threads, err := h.store.GetThreads(r.Context(), projectID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, threads)
}

// handlePutComments replaces the project comment threads.
func (h *Handler) handlePutComments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var threads build.Threads
	if err := utils.DecodeJSON(w, r, &threads); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateThreads(threads); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if threads == nil {
		threads = build.Threads{}
	}
	if err := h.store.PutThreads(r.Context(), projectID, threads); err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, threads)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		h.logger.Warn(r.Context(), "store unavailable", slog.F("path", r.URL.Path), slog.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	h.logger.Error(r.Context(), "store request failed", slog.F("path", r.URL.Path), slog.Error(err))
	utils.RespondError(w, http.StatusInternalServerError, "storage error")
}

func validateSelections(model build.Model, selections map[string]string) error {
	for key, value := range selections {
		attr, ok := model.Attribute(key)
		if !ok {
			return fmt.Errorf("unknown attribute %q for %s", key, model.Name)
		}
		if value == "" {
			continue
		}
		if _, ok := attr.Option(value); !ok {
			return fmt.Errorf("unknown option %q for %s", value, key)
		}
	}
	return nil
}

func validateThreads(threads build.Threads) error {
	for attr, comments := range threads {
		for _, c := range comments {
			switch {
			case strings.TrimSpace(c.ID) == "":
				return fmt.Errorf("comment on %q without id", attr)
			case c.Attribute != attr:
				return fmt.Errorf("comment %s filed under %q belongs to %q", c.ID, attr, c.Attribute)
			case strings.TrimSpace(c.Author) == "" || strings.TrimSpace(c.Text) == "":
				return fmt.Errorf("comment %s needs an author and text", c.ID)
			case c.CreatedAt.IsZero():
				return fmt.Errorf("comment %s without createdAt", c.ID)
			}
		}
	}
	return nil
}
