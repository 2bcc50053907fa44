package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/justinsb/eagervm/pkg/blobs"
	"github.com/justinsb/eagervm/pkg/config"
	"github.com/justinsb/eagervm/pkg/engine"
	"github.com/justinsb/eagervm/pkg/engine/vmscope"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// vmrun fetches a recorded program from the program store and evaluates it
// on an in-process VM.
func run(ctx context.Context) error {
	program := os.Getenv("PROGRAM")
	flag.StringVar(&program, "program", program, "hash of the program to run")

	blobserver := os.Getenv("BLOBSERVER")
	if blobserver == "" {
		blobserver = "http://program-store"
	}
	flag.StringVar(&blobserver, "blobserver", blobserver, "base url to the program store")

	configPath := os.Getenv("EAGERVM_CONFIG")
	flag.StringVar(&configPath, "config", configPath, "path to eagervm.toml")

	klog.InitFlags(nil)

	flag.Parse()

	log := klog.FromContext(ctx)

	if program == "" {
		return fmt.Errorf("must specify --program")
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	blobserverURL, err := url.Parse(blobserver)
	if err != nil {
		return fmt.Errorf("parsing blobserver url %q: %w", blobserver, err)
	}
	reader := &blobs.RetryingReader{
		Reader:      &blobs.ProgramServer{ServerURL: blobserverURL},
		MaxAttempts: 5,
		Backoff:     5 * time.Second,
	}

	cacheDir, err := os.MkdirTemp("", "vmrun")
	if err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	defer os.RemoveAll(cacheDir)

	req, err := blobs.LoadProgram(ctx, reader, blobs.BlobInfo{Hash: program}, cacheDir)
	if err != nil {
		return fmt.Errorf("loading program: %w", err)
	}
	log.Info("loaded program", "hash", program, "tensors", len(req.GetTensors()))

	opts, err := cfg.VMOptions(nil)
	if err != nil {
		return err
	}
	session, err := vmscope.StartSession(ctx, opts)
	if err != nil {
		return fmt.Errorf("starting vm: %w", err)
	}
	defer session.Close()

	scope := session.NewCalculationScope(ctx)
	defer scope.Close()

	startedAt := time.Now()
	response, err := engine.Evaluate(ctx, scope, req)
	if err != nil {
		return fmt.Errorf("evaluating program: %w", err)
	}
	log.Info("evaluated program", "duration", time.Since(startedAt))

	for _, result := range response.Results {
		fmt.Printf("%d\t%v\t%v\n", result.GetId(), result.GetInlineData().GetDimensions(), result.GetInlineData().GetValues())
	}
	return nil
}
