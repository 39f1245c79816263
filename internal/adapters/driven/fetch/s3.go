package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentFetcher = (*S3Fetcher)(nil)

const s3PartSize = 10 * 1024 * 1024

// S3Config configures the S3 client
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle addresses buckets as endpoint/bucket/key
	UsePathStyle bool
}

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// S3Fetcher downloads s3://bucket/key URIs with the multipart downloader
type S3Fetcher struct {
	downloader downloader
}

// NewS3Fetcher creates an S3 fetcher. Without static credentials requests
// are sent anonymously, which suits public buckets and local endpoints.
func NewS3Fetcher(cfg S3Config) *S3Fetcher {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
		Credentials:  aws.AnonymousCredentials{},
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.New(opts)
	return newS3Fetcher(manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = s3PartSize
	}))
}

func newS3Fetcher(d downloader) *S3Fetcher {
	return &S3Fetcher{downloader: d}
}

func (f *S3Fetcher) Schemes() []string { return []string{"s3"} }

func (f *S3Fetcher) Fetch(ctx context.Context, uri string) (*driven.FetchResult, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	buf := manager.NewWriteAtBuffer([]byte{})
	_, err = f.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 object %s/%s: %w", bucket, key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("download s3 object %s/%s: %w", bucket, key, err)
	}

	// S3 content types are not carried by the downloader; the fetch
	// activity sniffs the bytes instead.
	return &driven.FetchResult{Data: buf.Bytes()}, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 uri %q: %w", uri, domain.ErrInvalidInput)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q needs a bucket and key: %w", uri, domain.ErrInvalidInput)
	}
	return u.Host, key, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
