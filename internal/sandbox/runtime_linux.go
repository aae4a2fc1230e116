//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

// ensurePlatformRuntime starts containerd directly: Linux has native
// cgroups/namespaces support, so no VM indirection is needed.
func ensurePlatformRuntime(ctx context.Context, m *Manager) error {
	bin, err := exec.LookPath("containerd")
	if err != nil {
		return fmt.Errorf("containerd not found on PATH: %w", err)
	}
	cmd := exec.Command(bin,
		"--address", m.SocketPath,
		"--root", m.DataDir+"/root",
		"--state", m.DataDir+"/state",
	)
	return cmd.Start()
}
