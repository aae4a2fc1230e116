package actions

import (
	"context"
	"os"
	"testing"

	"github.com/blockhost/root-agent/internal/config"
	"github.com/blockhost/root-agent/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps(t *testing.T) *Deps {
	t.Helper()
	return &Deps{
		Runner: runner.New(),
		Config: config.Default("blockhost"),
	}
}

func TestDefaultRegistryHasNoCollisions(t *testing.T) {
	_, errs := Default()
	assert.Empty(t, errs)
}

func TestDefaultRegistryCoversActionCatalog(t *testing.T) {
	r, _ := Default()
	catalog := []string{
		"qm-start", "qm-stop", "qm-shutdown", "qm-destroy", "qm-create",
		"qm-importdisk", "qm-set", "qm-template",
		"ip6-route-add", "ip6-route-del", "bridge-port-isolate",
		"iptables-open", "iptables-close",
		"virt-customize",
		"generate-wallet", "addressbook-save", "broker-renew",
	}
	for _, name := range catalog {
		_, ok := r.Lookup(name)
		assert.True(t, ok, "missing handler for %s", name)
	}
	_, ok := r.Lookup("unknown-xyz")
	assert.False(t, ok)
}

func TestQMSetRejectsDisallowedOption(t *testing.T) {
	deps := testDeps(t)
	resp := handleQMSet(context.Background(), deps, map[string]interface{}{
		"vmid": float64(150),
		"options": map[string]interface{}{
			"memory": "2048",
			"foo":    "bar",
		},
	})
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error, "foo")
}

func TestQMStartRejectsBadVMID(t *testing.T) {
	deps := testDeps(t)
	resp := handleQMStart(context.Background(), deps, map[string]interface{}{"vmid": float64(5)})
	require.False(t, resp.OK)
}

func TestIP6RouteAddRejectsDisallowedDevice(t *testing.T) {
	deps := testDeps(t)
	resp := handleIP6RouteAdd(context.Background(), deps, map[string]interface{}{
		"address": "2a01:db8::1/128",
		"dev":     "eth0",
	})
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error, "Device not allowed")
}

func TestGenerateWalletRejectsReservedName(t *testing.T) {
	deps := testDeps(t)
	resp := handleGenerateWallet(context.Background(), deps, map[string]interface{}{"name": "admin"})
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error, "Reserved name: admin")
}

func TestVirtCustomizeRejectsDisallowedOp(t *testing.T) {
	deps := testDeps(t)
	f, err := os.CreateTemp("/tmp", "blockhost-image-*.img")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	f.Close()

	resp := handleVirtCustomize(context.Background(), deps, map[string]interface{}{
		"image_path": f.Name(),
		"commands":   []interface{}{[]interface{}{"--network", "on"}},
	})
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error, "virt-customize operation not allowed")
}

func TestIPTablesOpenRejectsBadComment(t *testing.T) {
	deps := testDeps(t)
	resp := handleIPTablesOpen(context.Background(), deps, map[string]interface{}{
		"port":    float64(8443),
		"proto":   "tcp",
		"comment": "has spaces!",
	})
	require.False(t, resp.OK)
}
