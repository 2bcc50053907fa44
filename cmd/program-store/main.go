package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/blobs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// maxProgramBytes bounds uploaded programs.
const maxProgramBytes = 64 << 20

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
		cacheDir = "~/.cache/eagervm/programs"
	}
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	klog.InitFlags(nil)
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	cache := &programCache{
		local: &blobs.LocalBlobstore{Dir: cacheDir},
	}

	cacheBucket := os.Getenv("CACHE_BUCKET")
	if strings.HasPrefix(cacheBucket, "gs://") {
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(cacheBucket, "gs://"), "/")
		log.Info("using GCS cache", "bucket", bucket, "prefix", prefix)

		cache.upstream = &blobs.GCSBlobstore{
			Bucket: bucket,
			Prefix: prefix,
		}
	} else if cacheBucket != "" {
		return fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
	} else {
		log.Info("CACHE_BUCKET not set, serving local programs only")
	}

	s := &httpServer{
		cache: cache,
	}

	log.Info("serving", "listen", listen)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}

type httpServer struct {
	cache *programCache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		switch {
		case r.Method == http.MethodGet && tokens[0] != "":
			s.serveGETProgram(w, r, tokens[0])
			return
		case r.Method == http.MethodPost && tokens[0] == "":
			s.servePOSTProgram(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETProgram(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()

	log := klog.FromContext(ctx)

	if !isHash(hash) {
		http.Error(w, "invalid program hash", http.StatusBadRequest)
		return
	}

	p, err := s.cache.GetProgram(ctx, hash)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting program")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	log.V(2).Info("serving program", "path", p)
	w.Header().Set("Content-Type", blobs.ContentType)
	http.ServeFile(w, r, p)
}

// servePOSTProgram stores a CBOR-encoded program and replies with its hash.
func (s *httpServer) servePOSTProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	log := klog.FromContext(ctx)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxProgramBytes+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if len(data) > maxProgramBytes {
		http.Error(w, "program too large", http.StatusRequestEntityTooLarge)
		return
	}
	req := &api.CalculateRequest{}
	if err := api.Unmarshal(data, req); err != nil {
		http.Error(w, fmt.Sprintf("decoding program: %v", err), http.StatusBadRequest)
		return
	}

	info, err := s.cache.PutProgram(ctx, req)
	if err != nil {
		log.Error(err, "error storing program")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	log.Info("stored program", "hash", info.Hash)
	fmt.Fprintln(w, info.Hash)
}

func isHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// programCache serves programs from a local directory, filling it from
// upstream on a miss.
type programCache struct {
	local    *blobs.LocalBlobstore
	upstream blobs.Blobstore
}

func (c *programCache) GetProgram(ctx context.Context, hash string) (string, error) {
	info := blobs.BlobInfo{Hash: hash}
	localPath := c.local.Path(info)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("opening program %q: %w", hash, err)
	}

	if c.upstream == nil {
		return "", status.Errorf(codes.NotFound, "program %q not found", hash)
	}
	if err := c.upstream.Download(ctx, info, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", status.Errorf(codes.NotFound, "program %q not found", hash)
		}
		return "", err
	}
	return localPath, nil
}

func (c *programCache) PutProgram(ctx context.Context, req *api.CalculateRequest) (blobs.BlobInfo, error) {
	info, err := blobs.SaveProgram(ctx, c.local, c.local.Dir, req)
	if err != nil {
		return info, err
	}
	if c.upstream != nil {
		if err := c.upstream.Upload(ctx, c.local.Path(info), info); err != nil {
			return info, err
		}
	}
	return info, nil
}
