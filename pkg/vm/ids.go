package vm

import (
	"fmt"
	"strings"

	"github.com/justinsb/eagervm/pkg/device"
)

// ObjectID identifies a logical object across all ranks.
type ObjectID int64

// InstructionID is assigned at submission, in submission order.
type InstructionID uint64

// StreamRole is the kind of work an execution lane performs.
type StreamRole int

const (
	RoleInvalid StreamRole = iota
	RoleCompute
	RoleHost2Device
	RoleDevice2Host
	RoleSyncedCollective
	RoleAsyncedCollective
	RoleBarrier
	RoleCriticalSection
	RoleLazyJobLauncher

	// NumStreamRoles is the number of roles, for building lookup tables.
	NumStreamRoles
)

var streamRoleNames = [NumStreamRoles]string{
	RoleInvalid:           "invalid",
	RoleCompute:           "compute",
	RoleHost2Device:       "host2device",
	RoleDevice2Host:       "device2host",
	RoleSyncedCollective:  "synced-collective",
	RoleAsyncedCollective: "asynced-collective",
	RoleBarrier:           "barrier",
	RoleCriticalSection:   "critical-section",
	RoleLazyJobLauncher:   "lazy-job-launcher",
}

func (r StreamRole) String() string {
	if r < 0 || r >= NumStreamRoles {
		return fmt.Sprintf("StreamRole(%d)", int(r))
	}
	return streamRoleNames[r]
}

func ParseStreamRole(s string) (StreamRole, error) {
	for i, name := range streamRoleNames {
		if i != int(RoleInvalid) && strings.EqualFold(name, s) {
			return StreamRole(i), nil
		}
	}
	return RoleInvalid, fmt.Errorf("unknown stream role %q", s)
}

// StreamID names one execution lane: a role on a device.
type StreamID struct {
	Device device.Device
	Role   StreamRole
}

func (s StreamID) String() string {
	return s.Device.String() + "/" + s.Role.String()
}
