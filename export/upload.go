package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader ships a finalized export file and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, file string) (string, error)
}

type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

func NewS3Uploader(ctx context.Context, c S3Config) (*S3Uploader, error) {
	opts := make([]func(*config.LoadOptions) error, 0)
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: c.Endpoint, HostnameImmutable: true, SigningRegion: region}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = c.Endpoint != ""
	})
	return &S3Uploader{client: client, bucket: c.Bucket, prefix: c.Prefix}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := path.Join(u.prefix, filepath.Base(file))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
