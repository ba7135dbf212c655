package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// IsS3URL reports whether the path names an S3 destination.
func IsS3URL(path string) bool { return strings.HasPrefix(path, "s3://") }

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(s3url string) (bucket, key string, err error) {
	path := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	return path[:slash], path[slash+1:], nil
}

// UploadFile stores a local file at the given s3:// destination using the
// multipart upload manager.
func UploadFile(ctx context.Context, localPath, s3url, contentType string) error {
	bucket, key, err := ParseS3URL(s3url)
	if err != nil {
		return err
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	uploader := manager.NewUploader(s3.NewFromConfig(cfg))

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open output for upload: %w", err)
	}
	defer f.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Msg("uploaded output to s3")
	return nil
}
