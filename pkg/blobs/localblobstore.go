package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// ContentType of stored programs.
const ContentType = "application/cbor"

// LocalBlobstore keeps programs as files named by hash under Dir.
type LocalBlobstore struct {
	Dir string
}

var _ Blobstore = (*LocalBlobstore)(nil)

func (s *LocalBlobstore) Path(info BlobInfo) string {
	return filepath.Join(s.Dir, info.Hash)
}

func (s *LocalBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	dest := s.Path(info)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()
	if _, err := writeToFile(ctx, src, dest); err != nil {
		return fmt.Errorf("storing %q: %w", info.Hash, err)
	}
	return nil
}

func (s *LocalBlobstore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	src, err := os.Open(s.Path(info))
	if err != nil {
		return fmt.Errorf("opening program %q: %w", info.Hash, err)
	}
	defer src.Close()
	if _, err := writeToFile(ctx, src, destPath); err != nil {
		return fmt.Errorf("copying program %q: %w", info.Hash, err)
	}
	return nil
}

// writeToFile copies src to destinationPath through a temp file in the same
// directory, so readers never see a partial file.
func writeToFile(ctx context.Context, src io.Reader, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destinationPath)
	tempFile, err := os.CreateTemp(dir, "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
