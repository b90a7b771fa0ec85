// Package githubtest serves the slice of the GitHub REST API the github
// object store and identity resolver use, backed by an in-memory store.
package githubtest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"

	gh "github.com/google/go-github/v66/github"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	"github.com/matt-davison/agent-quest/internal/objectstore/memory"
)

// Server is a fake GitHub API for one repository.
type Server struct {
	Owner string
	Repo  string
	Login string

	store *memory.Store
	srv   *httptest.Server

	mu       sync.Mutex
	requests int
}

// NewServer starts a fake API and registers its shutdown with t.
func NewServer(t *testing.T, owner, repo, login string) *Server {
	t.Helper()

	s := &Server{Owner: owner, Repo: repo, Login: login, store: memory.New()}
	mux := http.NewServeMux()
	prefix := "/repos/" + owner + "/" + repo
	mux.HandleFunc("GET /user", s.handleUser)
	mux.HandleFunc("GET "+prefix+"/git/ref/heads/{name...}", s.handleGetRef)
	mux.HandleFunc("POST "+prefix+"/git/refs", s.handleCreateRef)
	mux.HandleFunc("DELETE "+prefix+"/git/refs/heads/{name...}", s.handleDeleteRef)
	mux.HandleFunc("GET "+prefix+"/git/matching-refs/heads/{prefix...}", s.handleMatchingRefs)
	mux.HandleFunc("GET "+prefix+"/contents/{path...}", s.handleGetContents)
	mux.HandleFunc("PUT "+prefix+"/contents/{path...}", s.handlePutContents)

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// Client returns an API client pointed at the fake.
func (s *Server) Client() *gh.Client {
	client := gh.NewClient(s.srv.Client())
	base, _ := url.Parse(s.srv.URL + "/")
	client.BaseURL = base
	return client
}

// URL is the fake's base URL.
func (s *Server) URL() string { return s.srv.URL + "/" }

// Requests reports how many API calls the fake has served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Backing exposes the store behind the fake for direct assertions.
func (s *Server) Backing() objectstore.Store { return s.store }

type refBody struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type,omitempty"`
	} `json:"object"`
}

func refJSON(name, tip string) refBody {
	var body refBody
	body.Ref = "refs/heads/" + name
	body.Object.SHA = tip
	body.Object.Type = "commit"
	return body
}

func (s *Server) handleUser(w http.ResponseWriter, _ *http.Request) {
	if s.Login == "" {
		writeError(w, http.StatusUnauthorized, "Requires authentication")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": s.Login})
}

func (s *Server) findRef(ctx context.Context, name string) (objectstore.Ref, bool, error) {
	refs, err := s.store.ListRefs(ctx, name)
	if err != nil {
		return objectstore.Ref{}, false, err
	}
	for _, ref := range refs {
		if ref.Name == name {
			return ref, true, nil
		}
	}
	return objectstore.Ref{}, false, nil
}

func (s *Server) handleGetRef(w http.ResponseWriter, r *http.Request) {
	ref, ok, err := s.findRef(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, refJSON(ref.Name, ref.Tip))
}

func (s *Server) handleCreateRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	name := strings.TrimPrefix(body.Ref, "refs/heads/")
	if _, ok, _ := s.findRef(r.Context(), name); ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	// Refs sharing a tip share content, so any ref at this SHA is a valid base.
	all, err := s.store.ListRefs(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	base := ""
	for _, ref := range all {
		if ref.Tip == body.SHA {
			base = ref.Name
			break
		}
	}
	if base == "" {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	if _, err := s.store.EnsureRef(r.Context(), name, base); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, refJSON(name, body.SHA))
}

func (s *Server) handleDeleteRef(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok, _ := s.findRef(r.Context(), name); !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference does not exist")
		return
	}
	if err := s.store.DeleteRef(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMatchingRefs(w http.ResponseWriter, r *http.Request) {
	refs, err := s.store.ListRefs(r.Context(), r.PathValue("prefix"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]refBody, 0, len(refs))
	for _, ref := range refs {
		out = append(out, refJSON(ref.Name, ref.Tip))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetContents(w http.ResponseWriter, r *http.Request) {
	filePath := r.PathValue("path")
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = objectstore.DefaultBaseRef
	}
	obj, err := s.store.Get(r.Context(), ref, filePath)
	if err != nil {
		if objectstore.IsAbsent(err) {
			writeError(w, http.StatusNotFound, "Not Found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"name":     path.Base(filePath),
		"path":     filePath,
		"sha":      obj.Version,
		"content":  base64.StdEncoding.EncodeToString(obj.Content),
	})
}

func (s *Server) handlePutContents(w http.ResponseWriter, r *http.Request) {
	filePath := r.PathValue("path")
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
		Branch  string `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}
	branch := body.Branch
	if branch == "" {
		branch = objectstore.DefaultBaseRef
	}

	version, err := s.store.Put(r.Context(), branch, filePath, content, body.SHA, body.Message)
	switch {
	case errors.Is(err, objectstore.ErrRefNotFound):
		writeError(w, http.StatusNotFound, "Branch "+branch+" not found")
		return
	case errors.Is(err, objectstore.ErrVersionMismatch) && body.SHA == "":
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	case errors.Is(err, objectstore.ErrVersionMismatch):
		writeError(w, http.StatusConflict, filePath+" does not match "+body.SHA)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if body.SHA == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"name": path.Base(filePath), "path": filePath, "sha": version},
		"commit":  map[string]any{"sha": version, "message": body.Message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
