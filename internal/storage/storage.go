// Package storage saves exported report artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/JonMunkholm/lacvalidator/internal/config"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Media types of exported artifacts.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Object describes a stored artifact.
type Object struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ModTime     time.Time `json:"mod_time"`
}

// Storage is a flat namespace of artifacts keyed by file name.
type Storage interface {
	Upload(ctx context.Context, key, contentType string, data io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// New returns the backend selected by cfg.
func New(cfg config.ExportConfig) (Storage, error) {
	switch cfg.Backend {
	case "dir":
		return NewDirStorage(cfg.Dir)
	case "s3":
		return NewS3Storage(cfg.S3)
	}
	return nil, fmt.Errorf("unknown export backend %q", cfg.Backend)
}

// ContentTypeFor returns the media type for an artifact name.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return ContentTypeCSV
	case ".xlsx":
		return ContentTypeXLSX
	}
	return "application/octet-stream"
}

// CleanKey rejects keys that are not a plain file name.
func CleanKey(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", key)
	}
	return key, nil
}
