package artifacts

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
)

// Mirror copies finished artifacts to secondary storage. Failures are
// reported but never undo a finished upload.
type Mirror interface {
	Mirror(ctx context.Context, paths ...string) error
}

// NopMirror is used when mirroring is disabled.
type NopMirror struct{}

func (NopMirror) Mirror(context.Context, ...string) error { return nil }

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Settings configures an S3-compatible endpoint (AWS or MinIO).
type S3Settings struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
}

// S3Mirror uploads artifacts under their public URL path as object key.
type S3Mirror struct {
	client objectPutter
	bucket string
	layout *Layout
	log    logging.Logger
}

func NewS3Mirror(ctx context.Context, s S3Settings, layout *Layout, log logging.Logger) (*S3Mirror, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKey,
			s.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Mirror{client: client, bucket: s.Bucket, layout: layout, log: log.With("module", "mirror")}, nil
}

func (m *S3Mirror) Mirror(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if err := m.put(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *S3Mirror) put(ctx context.Context, path string) error {
	key, err := m.layout.ObjectKey(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(path)),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", m.bucket, key, err)
	}
	m.log.Debug(ctx, "artifact mirrored", "key", key)
	return nil
}

func contentType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".m3u8":
		return "application/x-mpegURL"
	case ".ts":
		return "video/MP2T"
	case ".m4a":
		return "audio/mp4"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
