package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrInvalidImage = errors.New("invalid image file")
	ErrImageExists  = errors.New("image already exists in dataset")
	ErrImageMissing = errors.New("image not found in storage")
)

type ImageInfo struct {
	// Url is what rows store as storage_path, it is accepted by every other
	// method of the storage that produced it.
	Url       string
	Hash      string
	MediaType string
}

type UsageStats struct {
	TotalBytes uint64
	FreeBytes  uint64
}

type Storage interface {
	Init(ctx context.Context) error

	SaveImage(ctx context.Context, datasetId uuid.UUID, data []byte) (ImageInfo, error)

	ReadImage(ctx context.Context, url string) ([]byte, error)

	// Deleting an image that does not exist is not an error.
	DeleteImage(ctx context.Context, url string) error

	// For storages without access control the url itself is returned.
	GetSignedUrl(ctx context.Context, url string, expirationMinutes int) (string, error)

	Location() string
}

type imageType struct {
	mime string
	name string
}

var allowedImageTypes = []imageType{
	{mime: "image/jpeg", name: "jpeg"},
	{mime: "image/png", name: "png"},
	{mime: "image/gif", name: "gif"},
	{mime: "image/avif", name: "avif"},
	{mime: "image/webp", name: "webp"},
	{mime: "image/bmp", name: "bmp"},
	{mime: "image/tiff", name: "tiff"},
	{mime: "image/svg+xml", name: "svg"},
}

// DetectImageType sniffs the image format from its signature and returns the
// file extension and media type.
func DetectImageType(data []byte) (string, string, error) {
	detected := mimetype.Detect(data)
	for _, t := range allowedImageTypes {
		if detected.Is(t.mime) {
			return t.name, t.mime, nil
		}
	}

	// some avif encoders write a brand that is not recognized as avif
	if bytes.Contains(data[:min(len(data), 100)], []byte("ypavif")) {
		return "avif", "image/avif", nil
	}

	return "", "", fmt.Errorf("%w: unsupported format %v", ErrInvalidImage, detected.String())
}

func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func imageKey(datasetId uuid.UUID, hash, ext string) string {
	return fmt.Sprintf("%v/%v.%v", datasetId, hash, ext)
}

// DeleteImages removes blobs that are no longer referenced. Failures are only
// logged, the rows pointing at them are already gone.
func DeleteImages(ctx context.Context, store Storage, urls []string) {
	for _, url := range urls {
		if err := store.DeleteImage(ctx, url); err != nil {
			slog.Error("error deleting unreferenced image", "url", url, "error", err)
		}
	}
}
