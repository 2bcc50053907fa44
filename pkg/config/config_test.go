package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eagervm.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[devices]
gpu = 2
memory-bytes = 1048576

[scheduler]
poll-interval = "2ms"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Devices.CPU != 1 || c.Devices.GPU != 2 {
		t.Errorf("devices = %+v", c.Devices)
	}
	if c.Server.Listen != ":9876" {
		t.Errorf("listen default lost: %q", c.Server.Listen)
	}
	if !c.Scheduler.FuseRecordEvents {
		t.Errorf("fuse-record-events default lost")
	}

	opts, err := c.VMOptions(vm.NewRegistry())
	if err != nil {
		t.Fatalf("VMOptions: %v", err)
	}
	if opts.PollInterval != 2*time.Millisecond {
		t.Errorf("poll interval = %v", opts.PollInterval)
	}
	if got := len(opts.Devices.Devices()); got != 3 {
		t.Errorf("got %d devices, want 3", got)
	}
	a, err := opts.Devices.Allocator(device.Device{Type: device.GPU, Index: 1})
	if err != nil {
		t.Fatalf("Allocator: %v", err)
	}
	if a.Stats().Capacity != 1048576 {
		t.Errorf("gpu capacity = %d", a.Stats().Capacity)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no cpu":        "[devices]\ncpu = 0\n",
		"bad interval":  "[scheduler]\npoll-interval = \"soon\"\n",
		"zero interval": "[scheduler]\npoll-interval = \"0s\"\n",
		"bad toml":      "[devices\n",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("loading a missing file should fail")
	}
}
