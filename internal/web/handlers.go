package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/logging"
)

// multipartMemory is how much of a form is held in memory before parts
// spill to temporary files.
const multipartMemory = 32 << 20

// ValidateResponse is the body returned by POST /api/validate. Result is an
// empty object when the run failed inside the rule engine, in which case
// Errors holds the one summary line.
type ValidateResponse struct {
	RunID  string                `json:"run_id"`
	Result core.ValidationResult `json:"result"`
	Errors []string              `json:"errors"`
}

// handleHealth reports liveness and the validation slot state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"validation": s.limiter.Status(),
	})
}

// handleErrorDefinitions returns the rule catalog.
func (s *Server) handleErrorDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.bridge.LoadErrorDefinitions(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if defs == nil {
		defs = []core.ErrorDefinition{}
	}
	writeJSON(w, defs)
}

// handleValidate runs one validation over the submitted files.
//
// Form fields:
//   - file: one part per table file (repeatable)
//   - descriptions: optional JSON array, matched to file parts by position
//   - selectedErrors: optional JSON array of {code, selected}; the whole
//     catalog runs when absent
//   - metadata: optional JSON object passed through to the rule engine
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	files, selected, metadata, err := s.parseValidateForm(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	if selected == nil {
		defs, err := s.bridge.LoadErrorDefinitions(ctx)
		if err != nil {
			respondError(w, r, err)
			return
		}
		selected = core.Selection(defs)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.WithFields(ctx, "files", len(files))
	log.Info("validation requested")

	result, lines, err := s.bridge.HandleUploaded903Data(ctx, files, selected, metadata)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if len(lines) > 0 {
		log.Warn("validation failed in rule engine", "line", lines[0])
	}

	writeJSON(w, ValidateResponse{RunID: runID, Result: result, Errors: lines})
}

func (s *Server) parseValidateForm(r *http.Request) ([]core.UploadedFile, []core.ErrorSelected, core.UploadMetadata, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, nil, invalid(http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large: %w", err))
		}
		return nil, nil, nil, invalid(http.StatusBadRequest, fmt.Errorf("invalid form field: %w", err))
	}

	headers := r.MultipartForm.File["file"]
	switch {
	case len(headers) == 0:
		return nil, nil, nil, invalid(http.StatusBadRequest, errors.New("no files provided"))
	case s.cfg.Upload.MaxFiles > 0 && len(headers) > s.cfg.Upload.MaxFiles:
		return nil, nil, nil, invalid(http.StatusBadRequest, fmt.Errorf("too many files: %d > %d", len(headers), s.cfg.Upload.MaxFiles))
	}

	var descriptions []string
	if err := formJSON(r, "descriptions", &descriptions); err != nil {
		return nil, nil, nil, err
	}

	var selected []core.ErrorSelected
	if err := formJSON(r, "selectedErrors", &selected); err != nil {
		return nil, nil, nil, err
	}

	metadata := core.UploadMetadata{}
	if err := formJSON(r, "metadata", &metadata); err != nil {
		return nil, nil, nil, err
	}

	files := make([]core.UploadedFile, 0, len(headers))
	for i, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			return nil, nil, nil, invalid(http.StatusBadRequest, fmt.Errorf("invalid form field file %q: %w", fh.Filename, err))
		}
		f := core.UploadedFile{Name: fh.Filename, FileContent: content}
		if i < len(descriptions) {
			f.Description = descriptions[i]
		}
		files = append(files, f)
	}
	return files, selected, metadata, nil
}

// formJSON decodes the named form value into dst. A missing field leaves
// dst untouched.
func formJSON(r *http.Request, name string, dst any) error {
	raw := r.FormValue(name)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return invalid(http.StatusBadRequest, fmt.Errorf("invalid form field %s: %w", name, err))
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
