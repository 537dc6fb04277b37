package vision

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

const (
	releaseAttempts = 3
	releaseBackoff  = 50 * time.Millisecond
)

// removeFile is swapped in tests.
var removeFile = os.Remove

// WithTempFile writes data to a new file in dir, calls fn with its path and
// removes the file afterwards on every path, including panics and
// cancellation observed by fn. Removal is retried; a file that still cannot
// be removed is logged, not returned.
func WithTempFile(dir, pattern string, data []byte, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer releaseTempFile(path)

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return fn(path)
}

func releaseTempFile(path string) {
	var err error
	for i := 0; i < releaseAttempts; i++ {
		err = removeFile(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return
		}
		time.Sleep(releaseBackoff * time.Duration(i+1))
	}
	slog.Warn("temp file not removed", "path", path, "attempts", releaseAttempts, "error", err)
}
