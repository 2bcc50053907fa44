package blobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justinsb/eagervm/pkg/api"
)

func testProgram() *api.CalculateRequest {
	return &api.CalculateRequest{
		Tensors: []*api.Tensor{
			{Id: 1, InlineData: &api.InlineData{Dimensions: []int32{3}, Values: []float32{1, 2, 3}}},
			{Id: 2, Computation: &api.TensorOperation{Op: "rms_norm", Sources: []int32{1}}},
		},
		OutputTensors: []int32{2},
	}
}

func TestSaveAndLoadProgram(t *testing.T) {
	ctx := context.Background()
	store := &LocalBlobstore{Dir: t.TempDir()}

	info, err := SaveProgram(ctx, store, t.TempDir(), testProgram())
	if err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}
	if _, err := os.Stat(store.Path(info)); err != nil {
		t.Fatalf("program not stored: %v", err)
	}
	again, err := SaveProgram(ctx, store, t.TempDir(), testProgram())
	if err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}
	if again != info {
		t.Errorf("same program stored as %v and %v", info, again)
	}

	cacheDir := t.TempDir()
	req, err := LoadProgram(ctx, store, info, cacheDir)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if len(req.Tensors) != 2 || req.Tensors[1].GetComputation().GetOp() != "rms_norm" {
		t.Errorf("unexpected program %+v", req)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, info.Hash)); err != nil {
		t.Errorf("program not cached: %v", err)
	}
}

func TestLoadProgramRejectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := &LocalBlobstore{Dir: t.TempDir()}
	info, err := SaveProgram(ctx, store, t.TempDir(), testProgram())
	if err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}

	other, _, err := api.ProgramHash(&api.CalculateRequest{OutputTensors: []int32{1}})
	if err != nil {
		t.Fatalf("ProgramHash: %v", err)
	}
	if err := os.Rename(store.Path(info), store.Path(BlobInfo{Hash: other})); err != nil {
		t.Fatalf("renaming: %v", err)
	}
	if _, err := LoadProgram(ctx, store, BlobInfo{Hash: other}, t.TempDir()); err == nil {
		t.Errorf("loading a program stored under the wrong hash should fail")
	}
}

func TestProgramServer(t *testing.T) {
	ctx := context.Background()
	store := &LocalBlobstore{Dir: t.TempDir()}
	info, err := SaveProgram(ctx, store, t.TempDir(), testProgram())
	if err != nil {
		t.Fatalf("SaveProgram: %v", err)
	}

	srv := httptest.NewServer(http.FileServer(http.Dir(store.Dir)))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	reader := &ProgramServer{ServerURL: u}

	req, err := LoadProgram(ctx, reader, info, t.TempDir())
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if len(req.OutputTensors) != 1 || req.OutputTensors[0] != 2 {
		t.Errorf("unexpected program %+v", req)
	}

	err = reader.Download(ctx, BlobInfo{Hash: "missing"}, filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
}

type flakyReader struct {
	failures int
	calls    int
	err      error
}

func (r *flakyReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	r.calls++
	if r.calls <= r.failures {
		return r.err
	}
	return os.WriteFile(destPath, []byte("ok"), 0644)
}

func TestRetryingReader(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "blob")

	flaky := &flakyReader{failures: 2, err: errors.New("connection reset")}
	r := &RetryingReader{Reader: flaky, MaxAttempts: 5, Backoff: time.Millisecond}
	if err := r.Download(ctx, BlobInfo{Hash: "h"}, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("made %d attempts, want 3", flaky.calls)
	}

	broken := &flakyReader{failures: 10, err: errors.New("connection reset")}
	r = &RetryingReader{Reader: broken, MaxAttempts: 3, Backoff: time.Millisecond}
	if err := r.Download(ctx, BlobInfo{Hash: "h"}, dest); err == nil {
		t.Errorf("expected failure after retries")
	}
	if broken.calls != 3 {
		t.Errorf("made %d attempts, want 3", broken.calls)
	}

	missing := &flakyReader{failures: 10, err: os.ErrNotExist}
	r = &RetryingReader{Reader: missing, MaxAttempts: 3, Backoff: time.Millisecond}
	if err := r.Download(ctx, BlobInfo{Hash: "h"}, dest); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
	if missing.calls != 1 {
		t.Errorf("missing program fetched %d times", missing.calls)
	}
}
