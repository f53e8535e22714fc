package storage

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ObjectStorage is the interface pipeline components use to mirror
// artifacts into an object store.
type ObjectStorage interface {
	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download retrieves an object. The caller owns the returned reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present under key.
	Exists(ctx context.Context, key string) (bool, error)
}

const parquetContentType = "application/vnd.apache.parquet"

// UploadFile streams a local parquet artifact into the store under key.
func UploadFile(ctx context.Context, store ObjectStorage, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", localPath)
	}
	return store.Upload(ctx, key, f, info.Size(), parquetContentType)
}
