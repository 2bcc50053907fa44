package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/kernels"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
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
	serverAddr := "127.0.0.1:9876"
	flag.StringVar(&serverAddr, "server", serverAddr, "vmserver address")
	deviceName := ""
	flag.StringVar(&deviceName, "device", deviceName, "device for the computation, e.g. gpu:0")
	scale := 0.0
	flag.Float64Var(&scale, "scale", scale, "if set, scale the input instead of normalizing it")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}

	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to server %q: %w", serverAddr, err)
	}
	defer conn.Close()
	client := api.NewCalculatorClient(conn)

	log.Info("Starting vmclient", "server", serverAddr)

	operation := &api.TensorOperation{Op: kernels.OpRMSNorm, Sources: []int32{1}}
	if scale != 0 {
		operation = &api.TensorOperation{Op: kernels.OpLinearScale, Sources: []int32{1}, Attrs: map[string]float64{"scale": scale}}
	}
	request := &api.CalculateRequest{
		Tensors: []*api.Tensor{
			{Id: 1, Device: deviceName, InlineData: &api.InlineData{Values: []float32{1, 2, 3}}},
			{Id: 2, Computation: operation},
		},
		OutputTensors: []int32{2},
	}
	response, err := client.Calculate(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to calculate: %w", err)
	}
	for _, result := range response.Results {
		log.Info("Result", "tensor", result.GetId(), "values", result.GetInlineData().GetValues())
	}
	if stats := response.Stats; stats != nil {
		log.Info("VM stats", "submitted", stats.Submitted, "completed", stats.Completed, "failed", stats.Failed, "streams", stats.Streams)
	}

	return nil
}
