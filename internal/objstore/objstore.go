// Package objstore stores uploaded training files. Clients upload directly to
// a one-time URL; the server later downloads by a canonical "/objects/<id>"
// reference.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrObjectNotFound is returned when a reference does not resolve to a stored object.
var ErrObjectNotFound = errors.New("object not found")

// GCSHost is the public host of Google Cloud Storage object URLs.
const GCSHost = "https://storage.googleapis.com/"

// ObjectsPrefix starts every canonical object reference.
const ObjectsPrefix = "/objects/"

// Store is implemented by every object storage backend.
type Store interface {
	// UploadURL returns a URL the client may PUT one file to.
	UploadURL(ctx context.Context) (string, error)
	// Download returns the bytes of the object at a canonical reference.
	Download(ctx context.Context, ref string) ([]byte, error)
	// NormalizePath maps an upload URL to its canonical reference.
	NormalizePath(rawURL string) string
}

// NormalizeGCSPath converts a Cloud Storage URL under privateDir into
// "/objects/<id>". Other Cloud Storage URLs are reduced to their path
// ("/bucket/..."), and URLs on any other host are returned unchanged.
func NormalizeGCSPath(rawURL, privateDir string) string {
	if !strings.HasPrefix(rawURL, GCSHost) {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	dir := withTrailingSlash(privateDir)
	if !strings.HasPrefix(u.Path, dir) {
		return u.Path
	}
	return ObjectsPrefix + strings.TrimPrefix(u.Path, dir)
}

// splitObjectPath splits "/bucket/name/of/object" into its bucket and object name.
func splitObjectPath(p string) (bucket, object string, err error) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	parts := strings.SplitN(p, "/", 3)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid object path %q: must contain at least a bucket and an object name", p)
	}
	return parts[1], parts[2], nil
}

// entityID strips ObjectsPrefix from a canonical reference.
func entityID(ref string) (string, error) {
	if !strings.HasPrefix(ref, ObjectsPrefix) {
		return "", fmt.Errorf("%w: %q is not an object reference", ErrObjectNotFound, ref)
	}
	id := strings.TrimPrefix(ref, ObjectsPrefix)
	if id == "" {
		return "", fmt.Errorf("%w: empty object id", ErrObjectNotFound)
	}
	return id, nil
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
