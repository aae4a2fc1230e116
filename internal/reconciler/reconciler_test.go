package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/blockhost/root-agent/internal/actions"
	"github.com/blockhost/root-agent/internal/config"
	"github.com/blockhost/root-agent/internal/ledger"
	"github.com/blockhost/root-agent/internal/runner"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/stretchr/testify/require"
)

func TestSweepLeavesExpiredVMActiveWhenShutdownFails(t *testing.T) {
	vmidRange := types.VMIDRange{Start: 100, End: 200}
	ipPool := types.IPPool{Prefix: "10.0.0", Start: 10, End: 20}
	ipv6Pool := types.IPv6Pool{Prefix: "", Start: 0, End: 0}
	mem := ledger.NewMemLedger(vmidRange, ipPool, ipv6Pool)

	vm := &types.VM{Name: "worker-1", VMID: 101, Status: types.VMStatusActive, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, mem.RegisterVM(vm))

	registry, errs := actions.Default()
	require.Empty(t, errs)

	deps := &actions.Deps{Runner: runner.New(), Config: config.Default("blockhost"), Ledger: mem}
	r := New(mem, registry, deps, time.Hour, 7)

	r.sweep(context.Background())

	got, ok := mem.GetVM("worker-1")
	require.True(t, ok)
	// qm-shutdown will fail in this test environment (no qm binary), so
	// the VM should remain active rather than being marked suspended.
	require.Equal(t, types.VMStatusActive, got.Status)
}
