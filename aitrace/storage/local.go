package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

type LocalStorage struct {
	basepath  string
	diskCheck bool
}

type LocalOption func(*LocalStorage)

// WithoutDiskCheck disables the free space check done before every save.
func WithoutDiskCheck() LocalOption {
	return func(s *LocalStorage) {
		s.diskCheck = false
	}
}

func NewLocalStorage(basepath string, opts ...LocalOption) *LocalStorage {
	slog.Info("creating new local image storage", "basepath", basepath)
	s := &LocalStorage{basepath: basepath, diskCheck: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalStorage) fullpath(path string) string {
	return filepath.Join(s.basepath, path)
}

// resolve accepts the urls handed out by SaveImage as well as paths relative to the base dir.
func (s *LocalStorage) resolve(url string) (string, error) {
	path := url
	if !filepath.IsAbs(path) {
		path = s.fullpath(path)
	}
	path = filepath.Clean(path)

	base := filepath.Clean(s.basepath)
	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %v is outside of image storage", url)
	}
	return path, nil
}

func (s *LocalStorage) Init(ctx context.Context) error {
	err := os.MkdirAll(s.basepath, 0777)
	if err != nil {
		slog.Error("error creating image directory", "path", s.basepath, "error", err)
		return fmt.Errorf("error creating image directory %v: %w", s.basepath, err)
	}
	return nil
}

func (s *LocalStorage) SaveImage(ctx context.Context, datasetId uuid.UUID, data []byte) (ImageInfo, error) {
	ext, mediaType, err := DetectImageType(data)
	if err != nil {
		return ImageInfo{}, err
	}

	if s.diskCheck {
		if err := CheckDiskUsage(s); err != nil {
			return ImageInfo{}, err
		}
	}

	hash := ContentHash(data)
	fullpath := s.fullpath(imageKey(datasetId, hash, ext))

	err = os.MkdirAll(filepath.Dir(fullpath), 0777)
	if err != nil {
		slog.Error("error creating dataset image directory", "path", fullpath, "error", err)
		return ImageInfo{}, fmt.Errorf("error creating dataset image directory: %w", err)
	}

	// O_EXCL makes the existence check and the write one step
	file, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ImageInfo{}, ErrImageExists
		}
		slog.Error("error opening file for writing", "path", fullpath, "error", err)
		return ImageInfo{}, fmt.Errorf("error opening image file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		slog.Error("error writing image", "path", fullpath, "error", err)
		os.Remove(fullpath)
		return ImageInfo{}, fmt.Errorf("error writing image file: %w", err)
	}

	return ImageInfo{Url: fullpath, Hash: hash, MediaType: mediaType}, nil
}

func (s *LocalStorage) ReadImage(ctx context.Context, url string) ([]byte, error) {
	fullpath, err := s.resolve(url)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullpath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrImageMissing
		}
		slog.Error("error opening file for read", "path", fullpath, "error", err)
		return nil, fmt.Errorf("error reading image %v: %w", url, err)
	}
	return data, nil
}

func (s *LocalStorage) DeleteImage(ctx context.Context, url string) error {
	fullpath, err := s.resolve(url)
	if err != nil {
		return err
	}

	err = os.Remove(fullpath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("error deleting file", "path", fullpath, "error", err)
		return fmt.Errorf("error deleting image %v: %w", url, err)
	}
	return nil
}

func (s *LocalStorage) GetSignedUrl(ctx context.Context, url string, expirationMinutes int) (string, error) {
	return url, nil
}

func (s *LocalStorage) Usage() (UsageStats, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(s.basepath, &stat)
	if err != nil {
		slog.Error("error getting disk usage for image storage", "path", s.basepath, "error", err)
		return UsageStats{}, fmt.Errorf("error getting disk usage stats: %w", err)
	}

	return UsageStats{
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
		FreeBytes:  stat.Bfree * uint64(stat.Bsize),
	}, nil
}

func (s *LocalStorage) Location() string {
	return s.basepath
}

var ErrInsufficientStorage = errors.New("insufficient disk space available")

type usageReporter interface {
	Usage() (UsageStats, error)
}

func CheckDiskUsage(storage usageReporter) error {
	stats, err := storage.Usage()
	if err != nil {
		return fmt.Errorf("unable to get disk usage: %w", err)
	}
	oneMib := uint64(1024 * 1024)
	// Either 20% disk needs to be free or 20Gb (in case the disk is very large)
	threshold := min(stats.TotalBytes/5, 20*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		return fmt.Errorf("%w, usage: %d/%d Mib", ErrInsufficientStorage, used, total)
	}
	return nil
}
