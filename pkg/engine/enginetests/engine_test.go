package enginetests

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/engine"
	"github.com/justinsb/eagervm/pkg/engine/vmscope"
	"github.com/justinsb/eagervm/pkg/vm"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newSession(t *testing.T, specs ...device.Spec) *vmscope.Session {
	t.Helper()
	if len(specs) == 0 {
		specs = []device.Spec{{Type: device.CPU, Count: 1}, {Type: device.GPU, Count: 1}}
	}
	devices, err := device.NewManager(specs...)
	if err != nil {
		t.Fatalf("failed to create devices: %v", err)
	}
	session, err := vmscope.StartSession(context.Background(), vm.Options{Devices: devices, PollInterval: time.Millisecond, FuseInstructions: true})
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Cleanup(func() {
		if err := session.Close(); err != nil {
			t.Errorf("failed to close session: %v", err)
		}
	})
	return session
}

func evaluate(t *testing.T, session *vmscope.Session, request *api.CalculateRequest) (*api.CalculateResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	scope := session.NewCalculationScope(ctx)
	response, err := engine.Evaluate(ctx, scope, request)
	if closeErr := scope.Close(); closeErr != nil {
		t.Fatalf("failed to free scope: %v", closeErr)
	}
	return response, err
}

func TestEngine(t *testing.T) {
	for _, d := range []string{"", "gpu:0"} {
		t.Run("device="+d, func(t *testing.T) {
			session := newSession(t)

			request := &api.CalculateRequest{
				Tensors: []*api.Tensor{
					{Id: 1, Device: d, InlineData: &api.InlineData{Dimensions: []int32{3}, Values: []float32{1, 2, 3}}},
					{Id: 2, Computation: &api.TensorOperation{Op: "rms_norm", Sources: []int32{1}}},
				},
				OutputTensors: []int32{2},
			}

			response, err := evaluate(t, session, request)
			if err != nil {
				t.Fatalf("failed to evaluate: %v", err)
			}

			t.Logf("response: %v", response)

			if len(response.Results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(response.Results))
			}

			if response.Results[0].InlineData == nil {
				t.Fatalf("expected inline data, got nil")
			}
			values := response.Results[0].InlineData.Values
			if len(values) != 3 {
				t.Fatalf("expected 3 values, got %d", len(values))
			}
			expected := []float32{0.46290955, 0.9258191, 1.3887286}
			if !FloatingPointEqual(values, expected) {
				t.Errorf("expected %+v, got %+v", expected, values)
			}

			waitForRelease(t, session)
		})
	}
}

func TestChainedOperations(t *testing.T) {
	session := newSession(t)

	request := &api.CalculateRequest{
		Tensors: []*api.Tensor{
			// declared out of order on purpose
			{Id: 5, Computation: &api.TensorOperation{Op: "dot_multiply", Sources: []int32{3, 4}}},
			{Id: 1, InlineData: &api.InlineData{Dimensions: []int32{2, 2}, Values: []float32{1, 2, 3, 4}}},
			{Id: 2, Computation: &api.TensorOperation{Op: "linear_scale", Sources: []int32{1}, Attrs: map[string]float64{"scale": 2}}},
			{Id: 3, Computation: &api.TensorOperation{Op: "add", Sources: []int32{1, 2}}},
			{Id: 4, Computation: &api.TensorOperation{Op: "fill", Dimensions: []int32{2, 2}, Attrs: map[string]float64{"value": 0.5}}},
		},
		OutputTensors: []int32{3, 5},
	}

	response, err := evaluate(t, session, request)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if len(response.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(response.Results))
	}
	if got, want := response.Results[0].InlineData.Values, []float32{3, 6, 9, 12}; !FloatingPointEqual(got, want) {
		t.Errorf("tensor 3: expected %v, got %v", want, got)
	}
	if got, want := response.Results[1].InlineData.Values, []float32{1.5, 3, 4.5, 6}; !FloatingPointEqual(got, want) {
		t.Errorf("tensor 5: expected %v, got %v", want, got)
	}
	if dims := response.Results[1].InlineData.Dimensions; len(dims) != 2 || dims[0] != 2 || dims[1] != 2 {
		t.Errorf("tensor 5: unexpected dimensions %v", dims)
	}
}

func TestKernelStatePersistsAcrossRequests(t *testing.T) {
	session := newSession(t)
	request := &api.CalculateRequest{
		Tensors: []*api.Tensor{
			{Id: 1, Computation: &api.TensorOperation{Op: "counter", Dimensions: []int32{1}}},
		},
		OutputTensors: []int32{1},
	}
	for want := float32(1); want <= 3; want++ {
		response, err := evaluate(t, session, request)
		if err != nil {
			t.Fatalf("failed to evaluate: %v", err)
		}
		if got := response.Results[0].InlineData.Values[0]; got != want {
			t.Errorf("expected counter %v, got %v", want, got)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	grid := []struct {
		name    string
		specs   []device.Spec
		request *api.CalculateRequest
		code    codes.Code
	}{
		{
			name: "unreachable",
			request: &api.CalculateRequest{
				Tensors: []*api.Tensor{
					{Id: 2, Computation: &api.TensorOperation{Op: "copy", Sources: []int32{1}}},
				},
				OutputTensors: []int32{2},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "missing output",
			request: &api.CalculateRequest{
				Tensors:       []*api.Tensor{{Id: 1, InlineData: &api.InlineData{Values: []float32{1}}}},
				OutputTensors: []int32{7},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown op",
			request: &api.CalculateRequest{
				Tensors: []*api.Tensor{
					{Id: 1, InlineData: &api.InlineData{Values: []float32{1}}},
					{Id: 2, Computation: &api.TensorOperation{Op: "softmax", Sources: []int32{1}}},
				},
				OutputTensors: []int32{2},
			},
			code: codes.Unimplemented,
		},
		{
			name: "bad dimensions",
			request: &api.CalculateRequest{
				Tensors:       []*api.Tensor{{Id: 1, InlineData: &api.InlineData{Dimensions: []int32{2}, Values: []float32{1, 2, 3}}}},
				OutputTensors: []int32{1},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "cross device",
			request: &api.CalculateRequest{
				Tensors: []*api.Tensor{
					{Id: 1, InlineData: &api.InlineData{Values: []float32{1}}},
					{Id: 2, Device: "gpu:0", Computation: &api.TensorOperation{Op: "copy", Sources: []int32{1}}},
				},
				OutputTensors: []int32{2},
			},
			code: codes.InvalidArgument,
		},
		{
			name:  "out of memory",
			specs: []device.Spec{{Type: device.CPU, Count: 1, MemoryBytes: 64}},
			request: &api.CalculateRequest{
				Tensors: []*api.Tensor{
					{Id: 1, InlineData: &api.InlineData{Values: []float32{1, 2}}},
					{Id: 2, Computation: &api.TensorOperation{Op: "fill", Dimensions: []int32{100}}},
					{Id: 3, Computation: &api.TensorOperation{Op: "add", Sources: []int32{2, 2}}},
				},
				OutputTensors: []int32{3},
			},
			code: codes.ResourceExhausted,
		},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			session := newSession(t, g.specs...)
			_, err := evaluate(t, session, g.request)
			if status.Code(err) != g.code {
				t.Errorf("expected %v, got %v", g.code, err)
			}
		})
	}
}

// waitForRelease waits for released blobs to be destroyed, which happens
// once the scheduler retires their last instruction.
func waitForRelease(t *testing.T, session *vmscope.Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for session.Stats().Objects != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected all blobs released, %d remain", session.Stats().Objects)
		}
		time.Sleep(time.Millisecond)
	}
}

func FloatingPointEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, value := range a {
		if math.Abs(float64(value-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}
