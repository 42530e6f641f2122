package web

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
)

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// decodeCredentials reads a JSON body, or form fields for any other
// content type.
func decodeCredentials(r *http.Request) (credentials, error) {
	var c credentials
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&c); err != nil {
			return c, errBadRequestBody
		}
		return c, nil
	}
	if err := r.ParseForm(); err != nil {
		return c, errBadRequestBody
	}
	c.Username = r.PostFormValue("username")
	c.Email = r.PostFormValue("email")
	c.Password = r.PostFormValue("password")
	return c, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.deps.Auth.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.deps.Auth.Register(r.Context(), c.Username, c.Email, c.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newSessionView(sess))
}

type healthView struct {
	Status  string `json:"status"`
	Uploads any    `json:"uploads,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := healthView{Status: "ok"}
	if s.deps.Limiter != nil {
		v.Uploads = s.deps.Limiter.Status()
	}
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			s.respondError(w, r, err, http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, v)
}
