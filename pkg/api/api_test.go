package api

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct {
	UnimplementedCalculatorServer
}

func (s *echoServer) Calculate(ctx context.Context, req *CalculateRequest) (*CalculateResponse, error) {
	if len(req.GetOutputTensors()) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "no outputs requested")
	}
	response := &CalculateResponse{Stats: &VMStats{Submitted: int64(len(req.GetTensors()))}}
	for _, t := range req.GetTensors() {
		if t.GetInlineData() != nil {
			response.Results = append(response.Results, t)
		}
	}
	return response, nil
}

func newTestClient(t *testing.T, srv CalculatorServer) CalculatorClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterCalculatorServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewCalculatorClient(conn)
}

func TestCalculateOverGRPC(t *testing.T) {
	client := newTestClient(t, &echoServer{})
	request := &CalculateRequest{
		Tensors: []*Tensor{
			{Id: 1, InlineData: &InlineData{Dimensions: []int32{3}, Values: []float32{1, 2, 3}}},
			{Id: 2, Computation: &TensorOperation{Op: "linear_scale", Sources: []int32{1}, Attrs: map[string]float64{"scale": 2}}},
		},
		OutputTensors: []int32{2},
	}
	response, err := client.Calculate(context.Background(), request)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if response.Stats == nil || response.Stats.Submitted != 2 {
		t.Errorf("unexpected stats %+v", response.Stats)
	}
	if len(response.Results) != 1 || response.Results[0].GetId() != 1 {
		t.Fatalf("unexpected results %+v", response.Results)
	}
	if got := response.Results[0].GetInlineData().GetValues(); len(got) != 3 || got[2] != 3 {
		t.Errorf("values = %v", got)
	}
}

func TestCalculateStatusErrors(t *testing.T) {
	client := newTestClient(t, &echoServer{})
	_, err := client.Calculate(context.Background(), &CalculateRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("got %v, want InvalidArgument", err)
	}

	unimplemented := newTestClient(t, UnimplementedCalculatorServer{})
	_, err = unimplemented.Calculate(context.Background(), &CalculateRequest{})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("got %v, want Unimplemented", err)
	}
}

func TestProgramHash(t *testing.T) {
	build := func(scale float64) *CalculateRequest {
		return &CalculateRequest{
			Tensors: []*Tensor{
				{Id: 1, InlineData: &InlineData{Values: []float32{1}}},
				{Id: 2, Computation: &TensorOperation{Op: "linear_scale", Sources: []int32{1}, Attrs: map[string]float64{"scale": scale, "bias": 0}}},
			},
			OutputTensors: []int32{2},
		}
	}
	h1, data, err := ProgramHash(build(2))
	if err != nil {
		t.Fatalf("ProgramHash: %v", err)
	}
	h2, _, err := ProgramHash(build(2))
	if err != nil {
		t.Fatalf("ProgramHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("equal programs hash differently: %s vs %s", h1, h2)
	}
	h3, _, err := ProgramHash(build(3))
	if err != nil {
		t.Fatalf("ProgramHash: %v", err)
	}
	if h1 == h3 {
		t.Errorf("different programs share hash %s", h1)
	}

	var decoded CalculateRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := decoded.Tensors[1].GetComputation().GetAttrs()["scale"]; got != 2 {
		t.Errorf("decoded scale = %v", got)
	}
}
