package objstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quillcms/quillgate/internal/config"
)

// S3Store stores objects in an S3-compatible bucket. Cloudflare R2 is the
// primary target: when no explicit endpoint is configured the R2 endpoint is
// derived from the account id.
type S3Store struct {
	client       *s3.Client
	bucket       string
	publicDomain string
}

// NewS3 builds a store from the given storage settings.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("s3 storage: endpoint or accountId required")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		),
		awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}),
		awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Store{
		client:       client,
		bucket:       cfg.Bucket,
		publicDomain: cfg.PublicDomain,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 storage: put %s: %w", key, err)
	}
	return PublicURL(s.publicDomain, key), nil
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 storage: head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PublicURL joins the public serving domain with an object key. The domain
// may carry its own scheme; https is assumed otherwise.
func PublicURL(domain, key string) string {
	u, err := url.Parse(domain)
	if err != nil || u.Scheme == "" {
		return fmt.Sprintf("https://%s/%s", domain, key)
	}
	return fmt.Sprintf("%s/%s", domain, key)
}
