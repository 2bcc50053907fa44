package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/justinsb/eagervm/pkg/device"
)

func TestRegistryBuildsOneInstancePerPair(t *testing.T) {
	calls := make(map[[2]int]int)
	r := NewRegistry()
	err := r.RegisterInstructionType("Probe", func(role StreamRole, dt device.Type) (InstructionType, error) {
		calls[[2]int{int(role), int(dt)}]++
		if role != RoleCompute {
			return nil, ErrUnimplemented
		}
		return &funcInstructionType{fn: func(context.Context, *Instruction) error { return nil }}, nil
	})
	if err != nil {
		t.Fatalf("RegisterInstructionType: %v", err)
	}
	if _, err := r.InstructionType("Probe", RoleCompute, device.CPU); err == nil {
		t.Errorf("lookup before Freeze should fail")
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("second Freeze: %v", err)
	}

	cpu, err := r.InstructionType("Probe", RoleCompute, device.CPU)
	if err != nil {
		t.Fatalf("lookup cpu: %v", err)
	}
	again, _ := r.InstructionType("Probe", RoleCompute, device.CPU)
	if cpu != again {
		t.Errorf("lookups returned different instances")
	}
	gpu, err := r.InstructionType("Probe", RoleCompute, device.GPU)
	if err != nil {
		t.Fatalf("lookup gpu: %v", err)
	}
	if cpu == gpu {
		t.Errorf("cpu and gpu share an instance")
	}
	for pair, n := range calls {
		if n != 1 {
			t.Errorf("factory called %d times for %v", n, pair)
		}
	}

	if _, err := r.InstructionType("Probe", RoleBarrier, device.CPU); !errors.Is(err, ErrUnimplemented) {
		t.Errorf("unsupported role returned %v, want ErrUnimplemented", err)
	}
	if err := r.RegisterInstructionType("Late", nil); err == nil {
		t.Errorf("registering after Freeze should fail")
	}
}

func TestRegistryStreamTypes(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		role       StreamRole
		deviceType device.Type
		want       StreamType
	}{
		{RoleCompute, device.CPU, &HostStreamType{}},
		{RoleBarrier, device.CPU, &HostStreamType{}},
		{RoleCriticalSection, device.CPU, &HostStreamType{}},
		{RoleCompute, device.GPU, &EventStreamType{}},
		{RoleDevice2Host, device.GPU, &EventStreamType{}},
		{RoleBarrier, device.GPU, nil},
		{RoleInvalid, device.CPU, nil},
	}
	for _, tc := range tests {
		st, err := r.StreamType(tc.role, tc.deviceType)
		if tc.want == nil {
			if !errors.Is(err, ErrUnimplemented) {
				t.Errorf("%v/%v: got %v, want ErrUnimplemented", tc.role, tc.deviceType, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v/%v: %v", tc.role, tc.deviceType, err)
			continue
		}
		switch tc.want.(type) {
		case *HostStreamType:
			if _, ok := st.(*HostStreamType); !ok {
				t.Errorf("%v/%v: got %T, want host stream", tc.role, tc.deviceType, st)
			}
		case *EventStreamType:
			if _, ok := st.(*EventStreamType); !ok {
				t.Errorf("%v/%v: got %T, want event stream", tc.role, tc.deviceType, st)
			}
		}
	}
}

func TestParseStreamRole(t *testing.T) {
	for role := RoleCompute; role < NumStreamRoles; role++ {
		got, err := ParseStreamRole(role.String())
		if err != nil || got != role {
			t.Errorf("ParseStreamRole(%q) = %v, %v", role.String(), got, err)
		}
	}
	if _, err := ParseStreamRole("invalid"); err == nil {
		t.Errorf("parsing the invalid role should fail")
	}
}
