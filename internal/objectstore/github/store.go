// Package github stores refs and files in a GitHub repository through the
// REST API: refs are branches, versions are blob SHAs.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/matt-davison/agent-quest/internal/objectstore"
)

// Config identifies the repository and credentials.
type Config struct {
	Owner   string
	Repo    string
	Token   string
	BaseURL string
}

// Store implements objectstore.Store on a GitHub repository.
type Store struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewClient builds an API client for cfg. A BaseURL overrides api.github.com.
func NewClient(cfg Config) (*gh.Client, error) {
	client := gh.NewClient(nil)
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client = client.WithAuthToken(token)
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = parsed
	}
	return client, nil
}

// Open builds a client from cfg and wraps it.
func Open(cfg Config) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.Owner, cfg.Repo)
}

// New wraps an existing client. The repository must already exist.
func New(client *gh.Client, owner, repo string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("github client is required")
	}
	owner = strings.TrimSpace(owner)
	repo = strings.TrimSpace(repo)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github repository must be owner/repo")
	}
	return &Store{client: client, owner: owner, repo: repo}, nil
}

// SplitRepo splits "owner/repo".
func SplitRepo(value string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("github repository must be owner/repo, got %q", value)
	}
	return owner, repo, nil
}

// EnsureRef creates the branch at baseRef's tip when it is absent.
func (s *Store) EnsureRef(ctx context.Context, name, baseRef string) (bool, error) {
	name = objectstore.NormalizeRef(name)
	if name == "" {
		return false, fmt.Errorf("ref name is required")
	}
	baseRef = objectstore.NormalizeRef(baseRef)
	if baseRef == "" {
		baseRef = objectstore.DefaultBaseRef
	}

	_, _, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "heads/"+name)
	if err == nil {
		return false, nil
	}
	if statusOf(err) != http.StatusNotFound {
		return false, fmt.Errorf("get ref %s: %w", name, err)
	}

	base, _, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "heads/"+baseRef)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return false, fmt.Errorf("base %s: %w", baseRef, objectstore.ErrRefNotFound)
		}
		return false, fmt.Errorf("get base ref %s: %w", baseRef, err)
	}

	_, _, err = s.client.Git.CreateRef(ctx, s.owner, s.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + name),
		Object: &gh.GitObject{SHA: base.GetObject().SHA},
	})
	if err != nil {
		// 422 means another writer created it between our reads.
		if statusOf(err) == http.StatusUnprocessableEntity {
			return false, nil
		}
		return false, fmt.Errorf("create ref %s: %w", name, err)
	}
	return true, nil
}

// Get reads one file from a branch.
func (s *Store) Get(ctx context.Context, name, path string) (objectstore.Object, error) {
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)

	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, &gh.RepositoryContentGetOptions{Ref: name})
	if err != nil {
		if statusOf(err) != http.StatusNotFound {
			return objectstore.Object{}, fmt.Errorf("get %s@%s: %w", path, name, err)
		}
		if _, _, refErr := s.client.Git.GetRef(ctx, s.owner, s.repo, "heads/"+name); refErr != nil {
			if statusOf(refErr) == http.StatusNotFound {
				return objectstore.Object{}, objectstore.ErrRefNotFound
			}
			return objectstore.Object{}, fmt.Errorf("get ref %s: %w", name, refErr)
		}
		return objectstore.Object{}, objectstore.ErrNotFound
	}
	if file == nil {
		return objectstore.Object{}, fmt.Errorf("get %s@%s: path is a directory", path, name)
	}
	content, err := file.GetContent()
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("decode %s@%s: %w", path, name, err)
	}
	return objectstore.Object{Content: []byte(content), Version: file.GetSHA()}, nil
}

// Put creates or updates one file as a commit on the branch.
func (s *Store) Put(ctx context.Context, name, path string, content []byte, expectedVersion, message string) (string, error) {
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)
	if path == "" {
		return "", fmt.Errorf("file path is required")
	}
	if strings.TrimSpace(message) == "" {
		message = "update " + path
	}
	if content == nil {
		content = []byte{}
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: content,
		Branch:  gh.String(name),
	}

	var (
		resp *gh.RepositoryContentResponse
		err  error
	)
	if expectedVersion == "" {
		resp, _, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, path, opts)
	} else {
		opts.SHA = gh.String(expectedVersion)
		resp, _, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	}
	if err != nil {
		switch statusOf(err) {
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return "", objectstore.ErrVersionMismatch
		case http.StatusNotFound:
			return "", objectstore.ErrRefNotFound
		}
		return "", fmt.Errorf("put %s@%s: %w", path, name, err)
	}
	if resp == nil || resp.Content == nil {
		return "", fmt.Errorf("put %s@%s: response carried no content", path, name)
	}
	return resp.Content.GetSHA(), nil
}

// ListRefs returns branches whose name starts with prefix.
func (s *Store) ListRefs(ctx context.Context, prefix string) ([]objectstore.Ref, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "refs/heads/")
	opts := &gh.ReferenceListOptions{
		Ref:         "heads/" + prefix,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var out []objectstore.Ref
	for {
		refs, resp, err := s.client.Git.ListMatchingRefs(ctx, s.owner, s.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list refs %s: %w", prefix, err)
		}
		for _, ref := range refs {
			name := strings.TrimPrefix(ref.GetRef(), "refs/heads/")
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			out = append(out, objectstore.Ref{Name: name, Tip: ref.GetObject().GetSHA()})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteRef deletes a branch. Missing branches are ignored.
func (s *Store) DeleteRef(ctx context.Context, name string) error {
	name = objectstore.NormalizeRef(name)
	_, err := s.client.Git.DeleteRef(ctx, s.owner, s.repo, "heads/"+name)
	if err != nil {
		switch statusOf(err) {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return nil
		}
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no per-store resources.
func (s *Store) Close() error { return nil }

func statusOf(err error) int {
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode
	}
	return 0
}

var _ objectstore.Store = (*Store)(nil)
