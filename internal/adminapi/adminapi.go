// Package adminapi is the lead-management HTTP surface served by the admin
// CLI: CRUD, bulk actions, and exports over a leadstore.
package adminapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"leadflow-agent/internal/domain"
	"leadflow-agent/internal/leadstore"
)

const maxBodySize = 1 << 20 // 1MB

type Deps struct {
	Store *leadstore.Store
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/leads", handleListLeads(deps))
	r.Post("/leads", handleCreateLead(deps))
	r.Get("/leads/export", handleExport(deps))
	r.Post("/leads/bulk", handleBulk(deps))
	r.Get("/leads/{id}", handleGetLead(deps))
	r.Patch("/leads/{id}", handlePatchLead(deps))
	r.Delete("/leads/{id}", handleDeleteLead(deps))

	return r
}

func handleListLeads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var leads []domain.Lead
		if status := r.URL.Query().Get("status"); status != "" {
			leads = deps.Store.GetLeadsByStatus(domain.LeadStatus(status))
		} else {
			leads = deps.Store.GetAllLeads()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"leads": leads,
			"count": len(leads),
		})
	}
}

func handleCreateLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var lead domain.Lead
		if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}
		if lead.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}

		saved, err := deps.Store.SaveLead(lead)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "save lead: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleGetLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lead, ok := deps.Store.GetLead(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "lead not found")
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func handlePatchLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var patch leadstore.LeadPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}

		updated, err := deps.Store.UpdateLead(chi.URLParam(r, "id"), patch)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "update lead: %v", err)
			return
		}
		if updated == nil {
			httpError(w, http.StatusNotFound, "not_found", "lead not found")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := deps.Store.DeleteLead(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "delete lead: %v", err)
			return
		}
		if !removed {
			httpError(w, http.StatusNotFound, "not_found", "lead not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type bulkRequest struct {
	Action   string              `json:"action"`
	IDs      []string            `json:"ids"`
	Priority domain.LeadPriority `json:"priority,omitempty"`
}

func handleBulk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req bulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request", "ids are required")
			return
		}

		var (
			touched int
			err     error
		)
		switch req.Action {
		case "archive":
			archived := true
			touched, err = deps.Store.BulkUpdate(req.IDs, leadstore.LeadPatch{Archived: &archived})
		case "delete":
			touched, err = deps.Store.BulkDelete(req.IDs)
		case "priority":
			if req.Priority == "" {
				httpError(w, http.StatusBadRequest, "invalid_request", "priority is required for the priority action")
				return
			}
			touched, err = deps.Store.BulkUpdate(req.IDs, leadstore.LeadPatch{Priority: &req.Priority})
		default:
			httpError(w, http.StatusBadRequest, "invalid_request", "unknown action %q", req.Action)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "bulk %s: %v", req.Action, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"touched": touched})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" {
			format = leadstore.FormatJSON
		}
		out, err := deps.Store.Export(format)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "export: %v", err)
			return
		}

		switch format {
		case leadstore.FormatCSV:
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="leads.csv"`)
		default:
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, status int, errType string, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": fmt.Sprintf(format, args...),
		},
	})
}
