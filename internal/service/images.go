package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/your-org/facedoor/internal/identity"
)

// ObjectStore keeps source images remotely.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// ImageFiles stores enrolled source images in a local directory and,
// when configured, an object store. It is also the identity store's
// ImageCleaner.
type ImageFiles struct {
	dir       string
	objects   ObjectStore
	writeFile func(name string, data []byte, perm os.FileMode) error
	logger    *slog.Logger
}

// NewImageFiles returns an image repository. An empty dir disables local
// copies; a nil objects disables uploads.
func NewImageFiles(dir string, objects ObjectStore, logger *slog.Logger) *ImageFiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageFiles{dir: dir, objects: objects, writeFile: renameio.WriteFile, logger: logger}
}

// Save writes a JPEG for a new variation. Storage failures are logged and
// leave the corresponding ImageRef field empty.
func (f *ImageFiles) Save(ctx context.Context, name, label string, jpeg []byte, at time.Time) identity.ImageRef {
	var ref identity.ImageRef
	folder := strings.ReplaceAll(name, " ", "_")
	file := fmt.Sprintf("%s_%s_%s.jpg", label, at.UTC().Format("20060102T150405"), uuid.NewString()[:8])

	if f.dir != "" {
		path := filepath.Join(f.dir, folder, file)
		if err := f.writeLocal(path, jpeg); err != nil {
			f.logger.Warn("save face image", "name", name, "path", path, "error", err)
		} else {
			ref.Path = path
		}
	}

	if f.objects != nil {
		key := "faces/" + folder + "/" + file
		url, err := f.objects.Upload(ctx, key, jpeg)
		if err != nil {
			f.logger.Warn("upload face image", "name", name, "key", key, "error", err)
		} else {
			ref.Key = key
			ref.URL = url
		}
	}
	return ref
}

// SaveVisitor uploads a recognition probe image for the access log.
func (f *ImageFiles) SaveVisitor(ctx context.Context, eventID uuid.UUID, jpeg []byte) (string, error) {
	if f.objects == nil {
		return "", nil
	}
	return f.objects.Upload(ctx, "visitors/"+eventID.String()+".jpg", jpeg)
}

func (f *ImageFiles) writeLocal(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.writeFile(path, data, 0o644)
}

// RemoveImage implements identity.ImageCleaner.
func (f *ImageFiles) RemoveImage(ctx context.Context, ref identity.ImageRef) error {
	var errs []error
	if ref.Path != "" {
		if err := os.Remove(ref.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", ref.Path, err))
		}
	}
	if ref.Key != "" && f.objects != nil {
		if err := f.objects.Delete(ctx, ref.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
