package blobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/justinsb/eagervm/pkg/api"
)

// SaveProgram stores req under the hash of its canonical encoding, staging
// it in tmpDir.
func SaveProgram(ctx context.Context, store Blobstore, tmpDir string, req *api.CalculateRequest) (BlobInfo, error) {
	hash, data, err := api.ProgramHash(req)
	if err != nil {
		return BlobInfo{}, err
	}
	info := BlobInfo{Hash: hash}

	f, err := os.CreateTemp(tmpDir, "program")
	if err != nil {
		return info, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return info, fmt.Errorf("writing program: %w", err)
	}
	if err := f.Close(); err != nil {
		return info, fmt.Errorf("writing program: %w", err)
	}

	if err := store.Upload(ctx, f.Name(), info); err != nil {
		return info, fmt.Errorf("uploading program %q: %w", hash, err)
	}
	return info, nil
}

// LoadProgram fetches a program into cacheDir and checks it against its hash.
func LoadProgram(ctx context.Context, reader BlobReader, info BlobInfo, cacheDir string) (*api.CalculateRequest, error) {
	localPath := filepath.Join(cacheDir, info.Hash)
	if _, err := os.Stat(localPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking cache for %q: %w", info.Hash, err)
		}
		if err := reader.Download(ctx, info, localPath); err != nil {
			return nil, fmt.Errorf("downloading program: %w", err)
		}
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	req := &api.CalculateRequest{}
	if err := api.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("decoding program %q: %w", info.Hash, err)
	}
	hash, _, err := api.ProgramHash(req)
	if err != nil {
		return nil, err
	}
	if hash != info.Hash {
		os.Remove(localPath)
		return nil, fmt.Errorf("program %q has hash %q", info.Hash, hash)
	}
	return req, nil
}
