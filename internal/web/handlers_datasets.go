package web

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/logging"
	"github.com/JonMunkholm/equipstat/internal/report"
	"github.com/JonMunkholm/equipstat/internal/store"
)

// errNoUser means an authenticated route ran without Authenticate.
var errNoUser = fmt.Errorf("no user in context: %w", auth.ErrInvalidToken)

// target resolves the caller and the {id} URL parameter. A malformed id is
// reported as not found.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (*store.User, int64, bool) {
	user, ok := core.UserFromContext(r.Context())
	if !ok {
		s.fail(w, r, errNoUser)
		return nil, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, core.ErrDatasetNotFound)
		return nil, 0, false
	}
	return user, id, true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := core.UserFromContext(r.Context())
	if !ok {
		s.fail(w, r, errNoUser)
		return
	}

	datasets, err := s.deps.Service.History(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]datasetView, len(datasets))
	for i := range datasets {
		out[i] = newDatasetView(&datasets[i], false)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.target(w, r)
	if !ok {
		return
	}
	sum, err := s.deps.Service.Summary(r.Context(), user.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newSummaryView(sum))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.target(w, r)
	if !ok {
		return
	}
	if err := s.deps.Service.Delete(r.Context(), user.ID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"message": "Dataset deleted successfully"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.target(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.deps.Service.Report(r.Context(), user.ID, id, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	writeAttachment(w, r, "application/pdf", report.PDFName(id), &buf)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.target(w, r)
	if !ok {
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", core.ErrUnsupportedFormat, err))
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Service.Export(r.Context(), user.ID, id, format, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	writeAttachment(w, r, format.ContentType(), format.FileName(id), &buf)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.target(w, r)
	if !ok {
		return
	}
	d, rc, err := s.deps.Service.Source(r.Context(), user.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()
	writeAttachment(w, r, "text/csv; charset=utf-8", d.FileName, rc)
}

// writeAttachment streams body as a download named name.
func writeAttachment(w http.ResponseWriter, r *http.Request, contentType, name string, body io.Reader) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if b, ok := body.(*bytes.Buffer); ok {
		w.Header().Set("Content-Length", strconv.Itoa(b.Len()))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context()).Warn("download interrupted", "file", name, "error", err)
	}
}
