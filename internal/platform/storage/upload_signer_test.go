package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestImageUploadSignerSignsPutURL(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	uploads, err := NewImageUploadSigner(client, "greenbasket-media")
	if err != nil {
		t.Fatalf("NewImageUploadSigner: %v", err)
	}

	url, err := uploads.SignUpload(context.Background(), "products/prd_1/01TESTULID.png", "image/png", now.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("SignUpload: %v", err)
	}
	if !strings.Contains(url, "greenbasket-media") {
		t.Fatalf("expected bucket in url, got %s", url)
	}
	if !strings.Contains(url, "X-Goog-Signature=") {
		t.Fatalf("expected signed url, got %s", url)
	}
}

func TestImageUploadSignerRejectsNonImage(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	uploads, err := NewImageUploadSigner(client, "greenbasket-media")
	if err != nil {
		t.Fatalf("NewImageUploadSigner: %v", err)
	}

	if _, err := uploads.SignUpload(context.Background(), "products/prd_1/file.pdf", "application/pdf", time.Time{}); err == nil {
		t.Fatalf("expected content type rejection")
	}
}

func TestNewImageUploadSignerRequiresBucket(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := NewImageUploadSigner(client, " "); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
