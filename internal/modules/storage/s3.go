package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	// PublicBaseURL is prefixed to object keys to build download URLs. When
	// empty the location reported by S3 is used.
	PublicBaseURL string
	PartSize      int64
}

var _ ObjectStorage = (*S3Storage)(nil)

type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	log      *zap.Logger
}

func NewS3Storage(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Storage, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("missing S3 bucket name")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
			o.UsePathStyle = true
		}
	})

	partSize := cfg.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	storage := &S3Storage{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		log:      log,
	}

	if err := storage.ensureBucketExists(ctx); err != nil {
		log.Warn("failed to ensure bucket exists", zap.String("bucket", cfg.BucketName), zap.Error(err))
	}

	return storage, nil
}

func (s *S3Storage) Upload(ctx context.Context, object Object, progress ProgressFunc) (string, error) {
	// The uploader buffers whole parts, so reads run ahead of what S3 has.
	body := newProgressReader(object.Body, object.Size, holdBack(progress))

	output, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.BucketName),
		Key:         aws.String(object.Key),
		Body:        body,
		ContentType: aws.String(object.ContentType),
	})
	if err != nil {
		s.log.Error("failed to upload object",
			zap.String("key", object.Key),
			zap.Error(err))
		return "", err
	}

	s.log.Info("object uploaded",
		zap.String("key", object.Key),
		zap.Int64("size", object.Size))

	if progress != nil && object.Size > 0 {
		progress(object.Size, object.Size)
	}

	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + object.Key, nil
	}

	return output.Location, nil
}

func (s *S3Storage) ensureBucketExists(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.BucketName),
	})
	if err == nil {
		s.log.Info("bucket already exists", zap.String("bucket", s.cfg.BucketName))
		return nil
	}

	s.log.Info("creating bucket", zap.String("bucket", s.cfg.BucketName))

	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.cfg.BucketName),
	}

	// us-east-1 rejects an explicit location constraint.
	if s.cfg.Region != "" && s.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return err
	}

	s.log.Info("bucket created", zap.String("bucket", s.cfg.BucketName))

	return nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}

	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
