package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (ls *LocalStorage) SaveFile(ctx context.Context, r io.Reader, info FileInfo) (string, error) {
	key := newKey(info)
	fullPath := filepath.Join(ls.basePath, key)

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return key, nil
}

func (ls *LocalStorage) OpenFile(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

func (ls *LocalStorage) DeleteFile(ctx context.Context, key string) error {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func (ls *LocalStorage) resolve(key string) (string, error) {
	cleanPath := filepath.Clean(key)
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", ErrInvalidKey
	}
	return filepath.Join(ls.basePath, cleanPath), nil
}

// newKey names a staged clip by uuid, keeping the original extension.
func newKey(info FileInfo) string {
	ext := strings.ToLower(filepath.Ext(info.Filename))
	if ext == "" {
		ext = extensionFor(info.ContentType)
	}
	return uuid.New().String() + ext
}

func extensionFor(contentType string) string {
	switch contentType {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "video/x-msvideo":
		return ".avi"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ".mp4"
	}
}
