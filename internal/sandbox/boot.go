package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blockhost/root-agent/pkg/log"
)

// Manager owns the lifecycle of the embedded containerd daemon the
// sandbox backend talks to. On Linux it runs containerd directly; on
// macOS (no native cgroups/namespaces) it is backed by a Lima VM, the
// same split the teacher's pkg/embedded package makes for its dev
// runtime.
type Manager struct {
	DataDir    string
	SocketPath string
}

// NewManager returns a Manager rooted at dataDir, creating it if
// necessary.
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("sandbox: create data dir: %w", err)
	}
	return &Manager{
		DataDir:    dataDir,
		SocketPath: filepath.Join(dataDir, "containerd.sock"),
	}, nil
}

// EnsureRunning starts the embedded containerd if it is not already
// reachable, and blocks until its socket is ready or ctx expires. On
// Linux it launches containerd directly. On macOS it does not start
// anything: it writes the Lima instance configuration and returns an
// error asking the operator to run `limactl start`.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	logger := log.WithComponent("sandbox")

	if _, err := os.Stat(m.SocketPath); err == nil {
		logger.Debug().Str("socket", m.SocketPath).Msg("sandbox runtime already running")
		return nil
	}

	logger.Info().Msg("starting embedded sandbox runtime")
	if err := ensurePlatformRuntime(ctx, m); err != nil {
		return fmt.Errorf("sandbox: start runtime: %w", err)
	}

	return m.waitForSocket(ctx, 30*time.Second)
}

func (m *Manager) waitForSocket(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(m.SocketPath); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sandbox: timed out waiting for %s", m.SocketPath)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Backend dials the running containerd socket and returns a Backend
// ready for use by the qm-* handlers.
func (m *Manager) Backend() (Backend, error) {
	return NewContainerdBackend(m.SocketPath)
}
