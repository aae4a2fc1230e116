package ledger

import (
	"testing"
	"time"

	"github.com/blockhost/root-agent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPools() (types.VMIDRange, types.IPPool, types.IPv6Pool) {
	return types.VMIDRange{Start: 100, End: 102},
		types.IPPool{Prefix: "10.20.30", Start: 200, End: 201},
		types.IPv6Pool{Prefix: "2001:db8::", Start: 2, End: 3}
}

func TestMemLedgerRegisterAndGet(t *testing.T) {
	vmidRange, ipPool, ipv6Pool := testPools()
	l := NewMemLedger(vmidRange, ipPool, ipv6Pool)

	vm := &types.VM{Name: "worker-1", VMID: 100, Status: types.VMStatusActive}
	require.NoError(t, l.RegisterVM(vm))

	_, ok := l.GetVM("missing")
	assert.False(t, ok)

	got, ok := l.GetVM("worker-1")
	require.True(t, ok)
	assert.Equal(t, vm, got)

	assert.Error(t, l.RegisterVM(vm))
}

func TestMemLedgerAllocateVMIDExhaustion(t *testing.T) {
	vmidRange, ipPool, ipv6Pool := testPools()
	l := NewMemLedger(vmidRange, ipPool, ipv6Pool)

	id1, err := l.AllocateVMID()
	require.NoError(t, err)
	assert.Equal(t, 100, id1)

	id2, err := l.AllocateVMID()
	require.NoError(t, err)
	assert.Equal(t, 101, id2)

	id3, err := l.AllocateVMID()
	require.NoError(t, err)
	assert.Equal(t, 102, id3)

	_, err = l.AllocateVMID()
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestMemLedgerAllocateIPSkipsUsed(t *testing.T) {
	vmidRange, ipPool, ipv6Pool := testPools()
	l := NewMemLedger(vmidRange, ipPool, ipv6Pool)

	ip1, err := l.AllocateIP()
	require.NoError(t, err)
	assert.Equal(t, "10.20.30.200", ip1)

	ip2, err := l.AllocateIP()
	require.NoError(t, err)
	assert.Equal(t, "10.20.30.201", ip2)

	_, err = l.AllocateIP()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, l.ReleaseIP(ip1))
	ip3, err := l.AllocateIP()
	require.NoError(t, err)
	assert.Equal(t, ip1, ip3)
}

func TestMemLedgerLifecycleTransitions(t *testing.T) {
	vmidRange, ipPool, ipv6Pool := testPools()
	l := NewMemLedger(vmidRange, ipPool, ipv6Pool)

	vm := &types.VM{Name: "worker-1", Status: types.VMStatusActive, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, l.RegisterVM(vm))

	toSuspend := l.GetVMsToSuspend(time.Now())
	require.Len(t, toSuspend, 1)
	assert.Equal(t, "worker-1", toSuspend[0].Name)

	require.NoError(t, l.MarkSuspended("worker-1", time.Now().Add(-8*24*time.Hour)))
	toDestroy := l.GetVMsToDestroy(time.Now(), 7)
	require.Len(t, toDestroy, 1)

	require.NoError(t, l.MarkDestroyed("worker-1", time.Now()))
	got, _ := l.GetVM("worker-1")
	assert.Equal(t, types.VMStatusDestroyed, got.Status)

	assert.ErrorIs(t, l.MarkSuspended("ghost", time.Now()), ErrNotFound)
}

func TestMemLedgerRegisterVMTracksAllocationsAndNextVMID(t *testing.T) {
	vmidRange, ipPool, ipv6Pool := testPools()
	l := NewMemLedger(vmidRange, ipPool, ipv6Pool)

	vm := &types.VM{
		Name:        "worker-1",
		VMID:        101,
		IPAddress:   "10.20.30.200",
		IPv6Address: "2001:db8::2",
		Status:      types.VMStatusActive,
	}
	require.NoError(t, l.RegisterVM(vm))

	assert.Contains(t, l.data.AllocatedIPs, "10.20.30.200")
	assert.Contains(t, l.data.AllocatedIPv6, "2001:db8::2")
	assert.Equal(t, 102, l.data.NextVMID, "NextVMID must advance past a registered vmid")

	id, err := l.AllocateVMID()
	require.NoError(t, err)
	assert.Equal(t, 102, id, "AllocateVMID must never hand out an id already in use")

	require.NoError(t, l.MarkDestroyed("worker-1", time.Now()))
	assert.NotContains(t, l.data.AllocatedIPs, "10.20.30.200")
	assert.NotContains(t, l.data.AllocatedIPv6, "2001:db8::2")
}

func TestMemLedgerReserveNFTToken(t *testing.T) {
	vmidRange, ipPool, ipv6Pool := testPools()
	l := NewMemLedger(vmidRange, ipPool, ipv6Pool)

	tok1, err := l.ReserveNFTToken("worker-1", nil, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 0, tok1.TokenID)

	tok2, err := l.ReserveNFTToken("worker-2", nil, "0xdef")
	require.NoError(t, err)
	assert.Equal(t, 1, tok2.TokenID)

	explicit := 5
	tok3, err := l.ReserveNFTToken("worker-3", &explicit, "0x111")
	require.NoError(t, err)
	assert.Equal(t, 5, tok3.TokenID)

	_, err = l.ReserveNFTToken("worker-4", &explicit, "0x222")
	assert.Error(t, err)

	require.NoError(t, l.MarkNFTFailed(5))
	tok4, err := l.ReserveNFTToken("worker-5", &explicit, "0x333")
	require.NoError(t, err)
	assert.Equal(t, "worker-5", tok4.VMName)
}

func TestFileLedgerRegisterVMTracksAllocationsAndNextVMID(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/vms.json"
	vmidRange, ipPool, ipv6Pool := testPools()

	fl, err := NewFileLedger(path, vmidRange, ipPool, ipv6Pool)
	require.NoError(t, err)

	vm := &types.VM{
		Name:      "worker-1",
		VMID:      101,
		IPAddress: "10.20.30.200",
		Status:    types.VMStatusActive,
	}
	require.NoError(t, fl.RegisterVM(vm))

	data, err := fl.readUnlocked()
	require.NoError(t, err)
	assert.Contains(t, data.AllocatedIPs, "10.20.30.200")
	assert.Equal(t, 102, data.NextVMID)

	require.NoError(t, fl.MarkDestroyed("worker-1", time.Now()))
	data, err = fl.readUnlocked()
	require.NoError(t, err)
	assert.NotContains(t, data.AllocatedIPs, "10.20.30.200")
}

func TestFileLedgerPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/vms.json"
	vmidRange, ipPool, ipv6Pool := testPools()

	fl, err := NewFileLedger(path, vmidRange, ipPool, ipv6Pool)
	require.NoError(t, err)

	vm := &types.VM{Name: "worker-1", Status: types.VMStatusActive}
	require.NoError(t, fl.RegisterVM(vm))

	id, err := fl.AllocateVMID()
	require.NoError(t, err)
	assert.Equal(t, 100, id)

	reopened, err := NewFileLedger(path, vmidRange, ipPool, ipv6Pool)
	require.NoError(t, err)

	got, ok := reopened.GetVM("worker-1")
	require.True(t, ok)
	assert.Equal(t, "worker-1", got.Name)
}
