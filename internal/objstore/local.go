package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalUploadPath is the API route that accepts uploads for the Local backend.
const LocalUploadPath = "/api/objects/uploads/"

// Local keeps objects on disk. Upload URLs point back at this server, so it
// suits development and tests where no cloud bucket is available.
type Local struct {
	dir     string
	baseURL string
}

var _ Store = (*Local)(nil)

// NewLocal stores objects below dir. baseURL is the externally reachable
// server address used to build upload URLs, e.g. "http://127.0.0.1:5000".
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, "uploads"), 0o755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) UploadURL(_ context.Context) (string, error) {
	return l.baseURL + LocalUploadPath + uuid.New().String(), nil
}

// Put stores the body of an upload for id, as issued by UploadURL.
func (l *Local) Put(id string, r io.Reader) (int64, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, fmt.Errorf("invalid upload id %q", id)
	}
	p := filepath.Join(l.dir, "uploads", id)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return 0, fmt.Errorf("upload %s already written", id)
	}
	if err != nil {
		return 0, fmt.Errorf("creating object file: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(p)
		return 0, fmt.Errorf("writing object file: %w", err)
	}
	return n, nil
}

func (l *Local) Download(_ context.Context, ref string) ([]byte, error) {
	id, err := entityID(ref)
	if err != nil {
		return nil, err
	}
	p := filepath.Join(l.dir, filepath.FromSlash(id))
	rel, err := filepath.Rel(l.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", ref, err)
	}
	return data, nil
}

// NormalizePath maps this server's upload URLs to "/objects/uploads/<id>".
// Any other URL is returned unchanged.
func (l *Local) NormalizePath(rawURL string) string {
	if rest, ok := strings.CutPrefix(rawURL, l.baseURL+LocalUploadPath); ok {
		return ObjectsPrefix + "uploads/" + rest
	}
	return rawURL
}
