package objstore

import (
	"context"
	"testing"

	"github.com/quillcms/quillgate/internal/config"
)

func TestNewS3RequiresEndpointOrAccount(t *testing.T) {
	_, err := NewS3(context.Background(), config.S3Config{
		Bucket:       "media",
		PublicDomain: "cdn.example.com",
	})
	if err == nil {
		t.Fatal("expected missing endpoint and account id to be rejected")
	}
}

func TestNewS3DerivesR2Endpoint(t *testing.T) {
	store, err := NewS3(context.Background(), config.S3Config{
		AccountID:    "acct-123",
		Region:       "auto",
		AccessKeyID:  "key",
		SecretKey:    "secret",
		Bucket:       "media",
		PublicDomain: "cdn.example.com",
		MaxAttempts:  3,
	})
	if err != nil {
		t.Fatalf("new s3 store: %v", err)
	}
	if store.bucket != "media" || store.publicDomain != "cdn.example.com" {
		t.Fatalf("unexpected store fields: %+v", store)
	}
}
