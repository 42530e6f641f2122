package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/ingest"
)

// multipartSlack covers the multipart envelope around the file part.
const multipartSlack = 1 << 20

// readUpload extracts the multipart "file" field. On failure the error
// response has already been written.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (name string, data []byte, ok bool) {
	limit := s.deps.Service.SizeLimit()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)

	if err := r.ParseMultipartForm(limit + multipartSlack); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, ingest.TooLarge(-1, limit), http.StatusRequestEntityTooLarge)
			return "", nil, false
		}
		s.fail(w, r, core.ErrNoFile)
		return "", nil, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, core.ErrNoFile)
		return "", nil, false
	}
	defer file.Close()

	// One byte past the limit is enough for ingest to report FileTooLarge;
	// its Size is then limit+1, not the real part size.
	data, err = io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.fail(w, r, err)
		return "", nil, false
	}
	return header.Filename, data, true
}

// handleUpload accepts a multipart "file" field and stores it as a dataset.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := core.UserFromContext(r.Context())
	if !ok {
		s.fail(w, r, errNoUser)
		return
	}

	name, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	d, err := s.deps.Service.UploadCSV(r.Context(), user.ID, name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newDatasetView(d, true))
}

// handlePreview validates an upload and reports what would be stored.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	p, err := s.deps.Service.Preview(r.Context(), name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}
