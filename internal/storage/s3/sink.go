// Package s3 uploads captured files to Amazon S3 or an S3-compatible store.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JakeFAU/pdf-capture-service/internal/storage"
)

// Config holds the bucket and client settings.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink writes captured files to a bucket.
type Sink struct {
	client putter
	cfg    Config
}

// New builds an S3 client from cfg and the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Sink{client: client, cfg: cfg}, nil
}

func buildAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// Name identifies the sink in metrics and responses.
func (s *Sink) Name() string { return "s3" }

// Upload puts data at prefix/filename.
func (s *Sink) Upload(ctx context.Context, filename, mimeType string, data []byte) (storage.Object, error) {
	if strings.TrimSpace(filename) == "" {
		return storage.Object{}, fmt.Errorf("filename is required")
	}
	key := storage.ObjectKey(s.cfg.Prefix, filename)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return storage.Object{}, fmt.Errorf("failed to put object: %w", err)
	}
	return storage.Object{
		ID:      fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key),
		ViewURL: s.viewURL(key),
	}, nil
}

func (s *Sink) viewURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.cfg.Endpoint != "" {
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + escaped
	}
	region := s.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, region, escaped)
}
