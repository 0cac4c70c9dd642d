package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gcsKeyPrefix = "datasets"

type GcsStorage struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

// NewGcsStorage connects to the bucket. Without a credentials file the
// application default credentials are used.
func NewGcsStorage(ctx context.Context, bucket, projectId, credentialsPath string) (*GcsStorage, error) {
	slog.Info("creating new gcs image storage", "bucket", bucket, "project", projectId)

	opts := []option.ClientOption{}
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	if projectId != "" {
		opts = append(opts, option.WithQuotaProject(projectId))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		slog.Error("error creating gcs client", "error", err)
		return nil, fmt.Errorf("error creating gcs client: %w", err)
	}

	return &GcsStorage{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (s *GcsStorage) Close() error {
	return s.client.Close()
}

func (s *GcsStorage) url(key string) string {
	return fmt.Sprintf("gs://%v/%v", s.name, key)
}

// objectKey accepts either a gs:// url of this bucket or a bare object key.
func (s *GcsStorage) objectKey(url string) (string, error) {
	if !strings.HasPrefix(url, "gs://") {
		return strings.TrimPrefix(url, "/"), nil
	}
	key, found := strings.CutPrefix(url, fmt.Sprintf("gs://%v/", s.name))
	if !found || key == "" {
		return "", fmt.Errorf("url %v does not belong to bucket %v", url, s.name)
	}
	return key, nil
}

func (s *GcsStorage) Init(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		slog.Error("error accessing gcs bucket", "bucket", s.name, "error", err)
		return fmt.Errorf("error accessing bucket %v: %w", s.name, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func (s *GcsStorage) SaveImage(ctx context.Context, datasetId uuid.UUID, data []byte) (ImageInfo, error) {
	ext, mediaType, err := DetectImageType(data)
	if err != nil {
		return ImageInfo{}, err
	}

	hash := ContentHash(data)
	key := gcsKeyPrefix + "/" + imageKey(datasetId, hash, ext)

	writer := s.bucket.Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = mediaType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		slog.Error("error writing image to gcs", "key", key, "error", err)
		return ImageInfo{}, fmt.Errorf("error uploading image: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return ImageInfo{}, ErrImageExists
		}
		slog.Error("error finalizing gcs upload", "key", key, "error", err)
		return ImageInfo{}, fmt.Errorf("error uploading image: %w", err)
	}

	return ImageInfo{Url: s.url(key), Hash: hash, MediaType: mediaType}, nil
}

func (s *GcsStorage) ReadImage(ctx context.Context, url string) ([]byte, error) {
	key, err := s.objectKey(url)
	if err != nil {
		return nil, err
	}

	reader, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrImageMissing
		}
		slog.Error("error opening gcs object", "key", key, "error", err)
		return nil, fmt.Errorf("error reading image %v: %w", url, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("error reading gcs object", "key", key, "error", err)
		return nil, fmt.Errorf("error reading image %v: %w", url, err)
	}
	return data, nil
}

func (s *GcsStorage) DeleteImage(ctx context.Context, url string) error {
	key, err := s.objectKey(url)
	if err != nil {
		return err
	}

	err = s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		slog.Error("error deleting gcs object", "key", key, "error", err)
		return fmt.Errorf("error deleting image %v: %w", url, err)
	}
	return nil
}

func (s *GcsStorage) GetSignedUrl(ctx context.Context, url string, expirationMinutes int) (string, error) {
	key, err := s.objectKey(url)
	if err != nil {
		return "", err
	}

	signed, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(time.Duration(expirationMinutes) * time.Minute),
	})
	if err != nil {
		slog.Error("error signing gcs url", "key", key, "error", err)
		return "", fmt.Errorf("error creating signed url for %v: %w", url, err)
	}
	return signed, nil
}

func (s *GcsStorage) Location() string {
	return "gs://" + s.name
}
