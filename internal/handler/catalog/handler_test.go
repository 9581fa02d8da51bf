package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

func setupRouter() *chi.Mux {
	handler := New(build.NewMemoryCatalog(build.Seed()))
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestListModels(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var models []build.Model
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(models) != len(build.Seed()) {
		t.Fatalf("expected %d models, got %d", len(build.Seed()), len(models))
	}
}

func TestGetModel(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodGet, "/models/trail-x", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/models/zeppelin", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
