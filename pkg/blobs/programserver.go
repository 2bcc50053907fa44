package blobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// ProgramServer reads programs from a program-store over HTTP.
type ProgramServer struct {
	// ServerURL is the base URL to the program store, typically http://program-store
	ServerURL *url.URL

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ BlobReader = &ProgramServer{}

func (l *ProgramServer) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	u := l.ServerURL.JoinPath(info.Hash).String()
	log.Info("downloading program", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	startedAt := time.Now()

	httpClient := l.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("program %q not found: %w", info.Hash, os.ErrNotExist)
		}
		return fmt.Errorf("unexpected status downloading from %q: %v", u, resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, destPath)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", u, err)
	}

	log.Info("downloaded program", "url", u, "bytes", n, "duration", time.Since(startedAt))

	return nil
}

// RetryingReader retries failed downloads. Missing programs are not retried.
type RetryingReader struct {
	// Reader is the interface to fetch blobs
	Reader BlobReader

	// MaxAttempts is the number of times to attempt a download before failing
	MaxAttempts int

	// Backoff is the wait between attempts.
	Backoff time.Duration
}

var _ BlobReader = &RetryingReader{}

func (l *RetryingReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	attempt := 0
	for {
		attempt++

		err := l.Reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}

		if attempt >= l.MaxAttempts || errors.Is(err, os.ErrNotExist) {
			return err
		}

		log.Error(err, "downloading program, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.Backoff):
		}
	}
}
