package vmscope

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

func TestUploadFailureIsReported(t *testing.T) {
	devices, err := device.NewManager(device.Spec{Type: device.CPU, Count: 1}, device.Spec{Type: device.GPU, Count: 1})
	if err != nil {
		t.Fatalf("failed to create devices: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := StartSession(ctx, vm.Options{Devices: devices, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	defer session.Close()

	for _, d := range []string{"cpu:0", "gpu:0"} {
		t.Run(d, func(t *testing.T) {
			scope := session.NewCalculationScope(ctx)
			defer scope.Close()

			good := &api.Tensor{Id: 1, Device: d, InlineData: &api.InlineData{Values: []float32{1, 2}}}
			if err := scope.RegisterTensors(ctx, []*api.Tensor{good}); err != nil {
				t.Fatalf("RegisterTensors: %v", err)
			}
			if err := scope.wait(ctx); err != nil {
				t.Fatalf("uploading valid data: %v", err)
			}

			// too many values for the blob
			msg := scope.upload(scope.tensors[1], []float32{1, 2, 3})
			handles, err := session.VM().Submit(ctx, msg)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			scope.pending = append(scope.pending, handles...)
			err = scope.wait(ctx)
			if err == nil || !strings.Contains(err.Error(), "holds 2 values, got 3") {
				t.Errorf("wait returned %v, want the upload failure", err)
			}
			if len(scope.uploads) != 0 || len(scope.pending) != 0 {
				t.Errorf("wait left %d uploads and %d handles behind", len(scope.uploads), len(scope.pending))
			}
		})
	}
}
