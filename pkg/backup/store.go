package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// ObjectStore holds snapshots offsite
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3Options configures an S3 (or S3-compatible) object store
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the AWS endpoint, for MinIO and similar. Path-style
	// addressing is used when it is set.
	Endpoint string
	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store is an ObjectStore backed by S3
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads AWS configuration and creates a client
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("backup: bucket is required")
	}

	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Put uploads body under key
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("backup: upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get opens the object stored under key
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: download s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

// ObjectKey names a new snapshot object under prefix. The timestamp sorts
// snapshots chronologically; the uuid keeps concurrent uploads apart.
func ObjectKey(prefix string, now time.Time) string {
	name := fmt.Sprintf("%s-%s.snap", now.UTC().Format("20060102T150405Z"), uuid.NewString())
	return path.Join(prefix, name)
}

// Upload sends the snapshot file at localPath to store and returns the
// object key.
func Upload(ctx context.Context, store ObjectStore, localPath, prefix string, logger logging.Logger) (string, error) {
	logger = logging.OrNop(logger)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("backup: open snapshot: %w", err)
	}
	defer f.Close()

	key := ObjectKey(prefix, time.Now())
	timer := logging.StartTimer(logger, "snapshot uploaded", logging.String("object", key))
	if err := store.Put(ctx, key, f); err != nil {
		timer.EndError(err)
		return "", err
	}
	timer.End(logging.Path(localPath))
	return key, nil
}

// Download restores the object under key into dst
func Download(ctx context.Context, store ObjectStore, key string, dst Sink) (Stats, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return Stats{}, err
	}
	defer body.Close()
	return Import(body, dst)
}
