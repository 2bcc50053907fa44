package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/blobs"
	"github.com/justinsb/eagervm/pkg/config"
	"github.com/justinsb/eagervm/pkg/engine"
	"github.com/justinsb/eagervm/pkg/engine/vmscope"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("EAGERVM_CONFIG")
	flag.StringVar(&configPath, "config", configPath, "path to eagervm.toml")
	listen := ""
	flag.StringVar(&listen, "listen", listen, "listen address (overrides config)")
	record := false
	flag.BoolVar(&record, "record", record, "store every request as a program")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listen == "" {
		listen = cfg.Server.Listen
	}

	opts, err := cfg.VMOptions(nil)
	if err != nil {
		return err
	}
	session, err := vmscope.StartSession(ctx, opts)
	if err != nil {
		return fmt.Errorf("starting vm: %w", err)
	}
	defer session.Close()

	calcServer := &CalcServer{session: session}
	if record {
		store, err := buildBlobstore(ctx, cfg)
		if err != nil {
			return err
		}
		calcServer.recorder = store
		calcServer.tmpDir = os.TempDir()
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}
	grpcServer := grpc.NewServer()
	api.RegisterCalculatorServer(grpcServer, calcServer)
	log.Info("Starting vmserver", "listen", listen, "devices", opts.Devices.Devices())
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving GRPC: %w", err)
	}

	return nil
}

// buildBlobstore picks GCS for gs:// buckets and the cache directory
// otherwise.
func buildBlobstore(ctx context.Context, cfg *config.Config) (blobs.Blobstore, error) {
	log := klog.FromContext(ctx)

	cacheBucket := os.Getenv("CACHE_BUCKET")
	if cacheBucket == "" {
		cacheBucket = cfg.Store.Bucket
	}
	if strings.HasPrefix(cacheBucket, "gs://") {
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(cacheBucket, "gs://"), "/")
		log.Info("recording programs to GCS", "bucket", bucket, "prefix", prefix)
		return &blobs.GCSBlobstore{Bucket: bucket, Prefix: prefix}, nil
	}
	if cacheBucket != "" {
		return nil, fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
	}

	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = cfg.Store.CacheDir
	}
	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}
	log.Info("recording programs locally", "dir", cacheDir)
	return &blobs.LocalBlobstore{Dir: cacheDir}, nil
}

type CalcServer struct {
	api.UnimplementedCalculatorServer

	session *vmscope.Session

	recorder blobs.Blobstore
	tmpDir   string
}

func (s *CalcServer) Calculate(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	log := klog.FromContext(ctx)

	if s.recorder != nil {
		info, err := blobs.SaveProgram(ctx, s.recorder, s.tmpDir, req)
		if err != nil {
			log.Error(err, "recording program")
		} else {
			log.Info("recorded program", "hash", info.Hash)
		}
	}

	scope := s.session.NewCalculationScope(ctx)
	defer scope.Close()

	response, err := engine.Evaluate(ctx, scope, req)
	if err != nil {
		return nil, err
	}
	response.Stats = s.session.Stats()

	return response, nil
}
