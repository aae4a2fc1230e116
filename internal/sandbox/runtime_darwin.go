//go:build darwin

package sandbox

import (
	"context"
	"fmt"

	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
)

// ensurePlatformRuntime starts (or reuses) a Lima VM hosting containerd,
// since macOS has no native cgroups/namespaces — the same indirection
// the teacher's pkg/embedded/lima.go uses for its dev runtime.
func ensurePlatformRuntime(ctx context.Context, m *Manager) error {
	const instanceName = "blockhost-sandbox"

	if inst, err := store.Inspect(instanceName); err == nil && inst.Status == store.StatusRunning {
		return nil
	}

	var cfg limayaml.LimaYAML
	if err := limayaml.FillDefault(&cfg, instanceName, m.DataDir, nil); err != nil {
		return fmt.Errorf("sandbox: build lima config: %w", err)
	}

	instDir, err := store.InstanceDir(instanceName)
	if err != nil {
		return fmt.Errorf("sandbox: lima instance dir: %w", err)
	}
	if err := store.SaveYAML(instDir, &cfg); err != nil {
		return fmt.Errorf("sandbox: save lima config: %w", err)
	}

	return fmt.Errorf("sandbox: lima instance %s created but not started; run `limactl start %s`", instanceName, instanceName)
}
