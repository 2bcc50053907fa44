package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSBlobstore keeps programs in a GCS bucket, under Prefix.
type GCSBlobstore struct {
	Bucket string
	Prefix string
}

var _ Blobstore = (*GCSBlobstore)(nil)

func (j *GCSBlobstore) objectKey(info BlobInfo) string {
	return path.Join(j.Prefix, info.Hash)
}

func (j *GCSBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	objectKey := j.objectKey(info)
	gcsURL := "gs://" + j.Bucket + "/" + objectKey

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	obj := client.Bucket(j.Bucket).Object(objectKey)
	if _, err := obj.Attrs(ctx); err == nil {
		log.V(2).Info("program already stored in GCS", "url", gcsURL)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("getting object attributes for %q: %w", gcsURL, err)
	}

	log.Info("uploading program to GCS", "source", sourcePath, "destination", gcsURL)

	startedAt := time.Now()
	w := obj.NewWriter(ctx)
	w.ContentType = ContentType
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}

	log.Info("uploaded program to GCS", "url", gcsURL, "bytes", n, "duration", time.Since(startedAt))

	return nil
}

func (j *GCSBlobstore) Download(ctx context.Context, info BlobInfo, destinationPath string) error {
	log := klog.FromContext(ctx)

	gcsURL := "gs://" + j.Bucket + "/" + j.objectKey(info)

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	startedAt := time.Now()
	r, err := client.Bucket(j.Bucket).Object(j.objectKey(info)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("program %q not in GCS: %w", gcsURL, os.ErrNotExist)
		}
		return fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	defer r.Close()

	n, err := writeToFile(ctx, r, destinationPath)
	if err != nil {
		return fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded program from GCS", "source", gcsURL, "destination", destinationPath, "bytes", n, "duration", time.Since(startedAt))

	return nil
}
