package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const defaultUploadTTL = 15 * time.Minute

// GCS keeps objects in a Google Cloud Storage bucket under a private directory
// such as "/my-bucket/private".
type GCS struct {
	client     *storage.Client
	privateDir string
	uploadTTL  time.Duration
}

var _ Store = (*GCS)(nil)

// NewGCS creates a Cloud Storage backed Store. An empty credentialsFile uses
// application default credentials.
func NewGCS(ctx context.Context, privateDir, credentialsFile string) (*GCS, error) {
	if privateDir == "" {
		return nil, errors.New("objects.private_dir is required for the gcs backend")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCS{client: client, privateDir: privateDir, uploadTTL: defaultUploadTTL}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// UploadURL signs a PUT URL for a fresh object under "<privateDir>/uploads/".
func (g *GCS) UploadURL(_ context.Context) (string, error) {
	bucket, object, err := splitObjectPath(withTrailingSlash(g.privateDir) + "uploads/" + uuid.New().String())
	if err != nil {
		return "", err
	}
	signed, err := g.client.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodPut,
		Expires: time.Now().Add(g.uploadTTL),
	})
	if err != nil {
		return "", fmt.Errorf("signing upload url: %w", err)
	}
	return signed, nil
}

func (g *GCS) Download(ctx context.Context, ref string) ([]byte, error) {
	id, err := entityID(ref)
	if err != nil {
		return nil, err
	}
	bucket, object, err := splitObjectPath(withTrailingSlash(g.privateDir) + id)
	if err != nil {
		return nil, err
	}

	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", ref, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", ref, err)
	}
	return data, nil
}

func (g *GCS) NormalizePath(rawURL string) string {
	return NormalizeGCSPath(rawURL, g.privateDir)
}
