package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"modtool-go/internal/config"
	"modtool-go/internal/modtool"
)

// S3Scheme prefixes output directories that name an object store location.
const S3Scheme = "s3://"

// objectStore is the subset of bucket operations publishing needs.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Put(ctx context.Context, key string, r io.Reader) error
	Delete(ctx context.Context, key string) error
}

// ObjectPublisher publishes to an object store. Keys mirror the filesystem
// layout under <prefix>/<modName>/.
type ObjectPublisher struct {
	store  objectStore
	prefix string
	logger modtool.Logger
}

var _ modtool.Publisher = (*ObjectPublisher)(nil)

func newObjectPublisher(store objectStore, prefix string, logger modtool.Logger) *ObjectPublisher {
	return &ObjectPublisher{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Publish prunes the previous build's keys and uploads the staging tree.
// An outputRoot of the form s3://bucket/prefix overrides the configured
// prefix; the bucket is fixed when the publisher is created.
func (p *ObjectPublisher) Publish(ctx context.Context, stagingRoot, outputRoot, modName string) error {
	prefix := p.prefix
	if _, key, ok := ParseS3URL(outputRoot); ok {
		prefix = key
	}
	modPrefix := path.Join(prefix, modName) + "/"

	keys, err := p.store.List(ctx, modPrefix)
	if err != nil {
		return &modtool.IOError{Op: "listing", Path: modPrefix, Err: err}
	}
	pruned := 0
	for _, key := range keys {
		if !IsBuildFile(strings.TrimPrefix(key, modPrefix), modName) {
			continue
		}
		if err := p.store.Delete(ctx, key); err != nil {
			return &modtool.IOError{Op: "pruning", Path: key, Err: err}
		}
		pruned++
	}

	uploaded := 0
	err = filepath.WalkDir(stagingRoot, func(src string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(stagingRoot, src)
		if err != nil {
			return err
		}
		key := modPrefix + filepath.ToSlash(rel)
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := p.store.Put(ctx, key, f); err != nil {
			return &modtool.IOError{Op: "uploading", Path: key, Err: err}
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("published mod", "prefix", modPrefix, "pruned", pruned, "files", uploaded)
	return nil
}

// ParseS3URL splits s3://bucket/prefix.
func ParseS3URL(s string) (bucket, prefix string, ok bool) {
	if !strings.HasPrefix(s, S3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(s, S3Scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, strings.Trim(prefix, "/"), true
}

// s3Store implements objectStore with the AWS SDK.
type s3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Publisher creates an ObjectPublisher for the configured bucket.
// Static credentials are used when both keys are set; otherwise the default
// AWS credential chain applies.
func NewS3Publisher(ctx context.Context, cfg config.PublishConfig, logger modtool.Logger) (*ObjectPublisher, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 publisher requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	store := &s3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
	}
	return newObjectPublisher(store, cfg.S3Prefix, logger), nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	return err
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
