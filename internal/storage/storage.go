package storage

import (
	"context"
	"errors"
	"io"
)

var ErrInvalidKey = errors.New("invalid storage key")

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage stages pending clips between intake and upload.
type Storage interface {
	SaveFile(ctx context.Context, r io.Reader, info FileInfo) (string, error)
	OpenFile(ctx context.Context, key string) (io.ReadSeekCloser, error)
	DeleteFile(ctx context.Context, key string) error
}
