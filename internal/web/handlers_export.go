package web

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/lacvalidator/internal/logging"
	"github.com/JonMunkholm/lacvalidator/internal/storage"
)

// handleExportSummary asks the worker to save a CSV summary. Export
// failures are reported to telemetry by the worker, so an accepted
// request does not guarantee an artifact.
func (s *Server) handleExportSummary(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if err := s.bridge.SaveErrorSummary(r.Context(), kind); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "accepted", "kind": kind})
}

// handleExportSpreadsheet asks the worker to save the full workbook.
func (s *Server) handleExportSpreadsheet(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.SaveExcelSummary(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleListArtifacts lists saved reports, newest first.
func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	objects, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if objects == nil {
		objects = []storage.Object{}
	}
	writeJSON(w, objects)
}

// handleDownloadArtifact streams one saved report.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	name, err := storage.CleanKey(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, invalid(http.StatusBadRequest, err))
		return
	}

	rc, err := s.store.Download(r.Context(), name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentTypeFor(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	if _, err := io.Copy(w, rc); err != nil {
		logging.FromContext(r.Context()).Warn("artifact download interrupted", "name", name, "error", err)
	}
}
