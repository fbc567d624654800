// Package images keeps expense pictures in an app-private directory and
// hands out file:// URIs for them.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"spesebook/internal/log"

	"github.com/google/uuid"
)

// ErrOutsideStore reports a URI that does not point into the image directory.
var ErrOutsideStore = errors.New("image is not in the store directory")

type Store struct {
	dir    string
	logger *log.Logger
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default(log.ComponentImages)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve image directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &Store{dir: abs, logger: logger.WithComponent(log.ComponentImages)}, nil
}

// Dir returns the absolute image directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveImage moves the picture at sourceURI (a file:// URI or a plain path)
// into the store under a fresh name and returns its durable URI. An empty
// source yields an empty URI.
func (s *Store) SaveImage(ctx context.Context, sourceURI string) (string, error) {
	if sourceURI == "" {
		return "", nil
	}
	src, err := pathFromURI(sourceURI)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("source image %q is not a regular file", src)
	}

	dst := filepath.Join(s.dir, uuid.NewString()+strings.ToLower(filepath.Ext(src)))
	if err := os.Rename(src, dst); err != nil {
		// Different filesystem: copy, then drop the temp source.
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
		if err := os.Remove(src); err != nil {
			s.logger.WarnContext(ctx, "Failed to remove temporary image",
				log.FieldPath, src,
				log.FieldError, err)
		}
	}

	uri := (&url.URL{Scheme: "file", Path: dst}).String()
	s.logger.DebugContext(ctx, "Image saved", log.FieldURI, uri)
	return uri, nil
}

// DeleteImage removes a picture previously returned by SaveImage. A missing
// file is not an error.
func (s *Store) DeleteImage(ctx context.Context, uri string) error {
	if uri == "" {
		return nil
	}
	p, err := pathFromURI(uri)
	if err != nil {
		return err
	}
	p = filepath.Clean(p)
	if filepath.Dir(p) != s.dir {
		return fmt.Errorf("%w: %s", ErrOutsideStore, uri)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete image: %w", err)
	}
	s.logger.DebugContext(ctx, "Image deleted", log.FieldURI, uri)
	return nil
}

func pathFromURI(raw string) (string, error) {
	if !strings.HasPrefix(raw, "file:") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse image uri: %w", err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("image uri %q has no path", raw)
	}
	return u.Path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy image: %w", err)
	}
	return out.Close()
}
