package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/greenbasket/api/internal/services"
)

// ImageUploadSigner issues signed PUT URLs for product image objects in a
// fixed bucket. It satisfies services.ImageUploadSigner.
type ImageUploadSigner struct {
	client *Client
	bucket string
}

// NewImageUploadSigner constructs an upload signer bound to a bucket.
func NewImageUploadSigner(client *Client, bucket string) (*ImageUploadSigner, error) {
	if client == nil {
		return nil, errors.New("storage: signed url client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &ImageUploadSigner{client: client, bucket: bucket}, nil
}

// SignUpload issues a signed PUT URL for the object path, valid until expiresAt.
func (s *ImageUploadSigner) SignUpload(ctx context.Context, objectPath string, contentType string, expiresAt time.Time) (string, error) {
	if s == nil || s.client == nil {
		return "", errNoSigner
	}

	expiresIn := defaultSignedURLExpiry
	if !expiresAt.IsZero() {
		if d := expiresAt.Sub(s.client.now()); d > 0 {
			expiresIn = d
		}
	}

	result, err := s.client.SignedURL(ctx, s.bucket, objectPath, SignedURLOptions{
		Upload: &UploadOptions{
			Method:              httpMethodPut,
			ContentType:         contentType,
			AllowedContentTypes: []string{"image/*"},
			ExpiresIn:           expiresIn,
		},
	})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

var _ services.ImageUploadSigner = (*ImageUploadSigner)(nil)
