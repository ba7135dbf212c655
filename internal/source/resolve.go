package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Resolve turns an input reference into a local PDF path. Supported forms:
// plain filesystem paths, file://path, http(s):// URLs and s3://bucket/key
// (both downloaded to a temp file). temp reports whether the caller should
// remove the returned path when done.
func Resolve(ctx context.Context, ref string) (local string, temp bool, err error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		local, err = downloadS3ToTemp(ctx, ref)
		return local, err == nil, err
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		local, err = downloadHTTPToTemp(ctx, ref)
		return local, err == nil, err
	case strings.HasPrefix(ref, "file://"):
		return strings.TrimPrefix(ref, "file://"), false, nil
	default:
		return ref, false, nil
	}
}

// VerifyPDF checks the file is actually a PDF by magic bytes, not extension.
func VerifyPDF(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect file type: %w", err)
	}
	if !mt.Is("application/pdf") {
		return fmt.Errorf("input is %s, expected application/pdf", mt.String())
	}
	return nil
}

func downloadHTTPToTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	f, err := os.CreateTemp("", "pdfdl-*.pdf")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func downloadS3ToTemp(ctx context.Context, s3url string) (string, error) {
	// s3://bucket/key
	path := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 {
		return "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	bucket := path[:slash]
	key := path[slash+1:]

	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return "", err
	}
	cli := s3.NewFromConfig(cfg)

	out, err := cli.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return "", err
	}
	defer out.Body.Close()

	f, err := os.CreateTemp("", "s3pdf-*.pdf")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, out.Body); err != nil {
		return "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(f.Name())).Msg("downloaded s3 pdf to temp")
	return f.Name(), nil
}

// CleanupTemps removes temp files created by our download helpers
// (pdfdl-*.pdf, s3pdf-*.pdf) older than the given age.
func CleanupTemps(maxAge time.Duration) {
	dir := os.TempDir()
	now := time.Now()
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasPrefix(name, "pdfdl-") && !strings.HasPrefix(name, "s3pdf-") {
			return nil
		}
		if now.Sub(info.ModTime()) >= maxAge {
			_ = os.Remove(path)
		}
		return nil
	})
}
