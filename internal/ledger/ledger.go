// Package ledger persists VM records and the VMID/IP/IPv6/NFT-token
// allocation pools. It is the Go counterpart of blockhost/vm_db.py:
// FileLedger mirrors VMDatabase's flock-guarded JSON file, MemLedger
// mirrors MockVMDatabase for tests.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockhost/root-agent/internal/types"
)

// Ledger is the full set of operations the daemon needs against the VM
// and allocation-pool state. FileLedger and MemLedger both implement it.
type Ledger interface {
	RegisterVM(vm *types.VM) error
	GetVM(name string) (*types.VM, bool)
	ListVMs() []*types.VM
	MarkSuspended(name string, at time.Time) error
	MarkActive(name string) error
	MarkDestroyed(name string, at time.Time) error
	ExtendExpiry(name string, newExpiry time.Time) error
	GetExpiredVMs(now time.Time) []*types.VM
	GetVMsToSuspend(now time.Time) []*types.VM
	GetVMsToDestroy(now time.Time, graceDays int) []*types.VM

	AllocateVMID() (int, error)
	AllocateIP() (string, error)
	AllocateIPv6() (string, error)
	ReleaseIP(ip string) error
	ReleaseIPv6(ip string) error

	ReserveNFTToken(vmName string, tokenID *int, ownerWallet string) (*types.NFTToken, error)
	MarkNFTMinted(tokenID int) error
	MarkNFTFailed(tokenID int) error
	GetNFTToken(tokenID int) (*types.NFTToken, bool)
}

// ErrNotFound is returned when a named VM or token id has no record.
var ErrNotFound = fmt.Errorf("not found")

// ErrPoolExhausted is returned when an allocation pool has no capacity
// left, mirroring vm_db.py's ValueError("No IPs available") family.
var ErrPoolExhausted = fmt.Errorf("allocation pool exhausted")

var (
	_ Ledger = (*MemLedger)(nil)
	_ Ledger = (*FileLedger)(nil)
)

// allocateVMIDLocked returns-then-increments ledger.NextVMID, the same
// semantics as vm_db.py's allocate_vmid: fail once the next id would
// exceed the configured range, never reuse a released id.
func allocateVMIDLocked(l *types.Ledger, r types.VMIDRange) (int, error) {
	if r.Start == 0 && r.End == 0 {
		return 0, fmt.Errorf("vmid_range not configured")
	}
	if l.NextVMID == 0 {
		l.NextVMID = r.Start
	}
	if l.NextVMID > r.End {
		return 0, fmt.Errorf("%w: vmid range exhausted", ErrPoolExhausted)
	}
	id := l.NextVMID
	l.NextVMID++
	return id, nil
}

func allocateIPLocked(l *types.Ledger, p types.IPPool) (string, error) {
	allocated := make(map[string]bool, len(l.AllocatedIPs))
	for _, ip := range l.AllocatedIPs {
		allocated[ip] = true
	}
	for octet := p.Start; octet <= p.End; octet++ {
		candidate := fmt.Sprintf("%s.%d", p.Prefix, octet)
		if !allocated[candidate] {
			l.AllocatedIPs = append(l.AllocatedIPs, candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: ipv4 pool", ErrPoolExhausted)
}

func allocateIPv6Locked(l *types.Ledger, p types.IPv6Pool) (string, error) {
	if p.Prefix == "" {
		return "", fmt.Errorf("ipv6_prefix not configured")
	}
	allocated := make(map[string]bool, len(l.AllocatedIPv6))
	for _, ip := range l.AllocatedIPv6 {
		allocated[ip] = true
	}
	for idx := p.Start; idx <= p.End; idx++ {
		candidate := fmt.Sprintf("%s%x", p.Prefix, idx)
		if !allocated[candidate] {
			l.AllocatedIPv6 = append(l.AllocatedIPv6, candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: ipv6 pool", ErrPoolExhausted)
}

func releaseLocked(list []string, value string) []string {
	out := list[:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func appendAllocatedLocked(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// registerVMLocked mirrors vm_db.py's register_vm: besides recording the
// VM, it folds its IP/IPv6 into the allocated sets (idempotently, in case
// they were already reserved via AllocateIP/AllocateIPv6) and advances
// NextVMID past vm.VMID so a later AllocateVMID never hands out an id
// already in use.
func registerVMLocked(l *types.Ledger, vm *types.VM) error {
	if _, exists := l.VMs[vm.Name]; exists {
		return fmt.Errorf("vm %q already registered", vm.Name)
	}
	l.VMs[vm.Name] = vm
	l.AllocatedIPs = appendAllocatedLocked(l.AllocatedIPs, vm.IPAddress)
	l.AllocatedIPv6 = appendAllocatedLocked(l.AllocatedIPv6, vm.IPv6Address)
	if vm.VMID >= l.NextVMID {
		l.NextVMID = vm.VMID + 1
	}
	return nil
}

// markDestroyedLocked mirrors vm_db.py's mark_destroyed: marking a VM
// destroyed also releases its IP/IPv6 back to the allocation pools.
func markDestroyedLocked(l *types.Ledger, vm *types.VM, at time.Time) {
	vm.Status = types.VMStatusDestroyed
	vm.DestroyedAt = &at
	l.AllocatedIPs = releaseLocked(l.AllocatedIPs, vm.IPAddress)
	l.AllocatedIPv6 = releaseLocked(l.AllocatedIPv6, vm.IPv6Address)
}

// reserveNFTTokenLocked mirrors vm_db.py's reserve_nft_token_id: an
// explicit id may only be re-reserved if its current record is failed;
// an omitted id is auto-assigned as max(existing)+1.
func reserveNFTTokenLocked(l *types.Ledger, vmName string, tokenID *int, ownerWallet string) (*types.NFTToken, error) {
	now := time.Now()

	if tokenID == nil {
		next := 0
		for key := range l.ReservedNFTTokens {
			var id int
			if _, err := fmt.Sscanf(key, "%d", &id); err == nil && id+1 > next {
				next = id + 1
			}
		}
		tok := &types.NFTToken{
			TokenID:     next,
			VMName:      vmName,
			Status:      types.NFTTokenReserved,
			ReservedAt:  &now,
			OwnerWallet: ownerWallet,
		}
		l.ReservedNFTTokens[fmt.Sprintf("%d", next)] = tok
		return tok, nil
	}

	key := fmt.Sprintf("%d", *tokenID)
	if existing, ok := l.ReservedNFTTokens[key]; ok && existing.Status != types.NFTTokenFailed {
		return nil, fmt.Errorf("token %d already reserved with status %s", *tokenID, existing.Status)
	}

	tok := &types.NFTToken{
		TokenID:     *tokenID,
		VMName:      vmName,
		Status:      types.NFTTokenReserved,
		ReservedAt:  &now,
		OwnerWallet: ownerWallet,
	}
	l.ReservedNFTTokens[key] = tok
	return tok, nil
}

// MemLedger is an in-process, mutex-guarded Ledger with no on-disk
// persistence — the Go analogue of vm_db.py's MockVMDatabase, used by
// tests.
type MemLedger struct {
	mu        sync.Mutex
	data      *types.Ledger
	vmidRange types.VMIDRange
	ipPool    types.IPPool
	ipv6Pool  types.IPv6Pool
}

// NewMemLedger returns an empty MemLedger configured with the given
// allocation pools.
func NewMemLedger(vmidRange types.VMIDRange, ipPool types.IPPool, ipv6Pool types.IPv6Pool) *MemLedger {
	return &MemLedger{
		data:      types.NewLedger(vmidRange.Start),
		vmidRange: vmidRange,
		ipPool:    ipPool,
		ipv6Pool:  ipv6Pool,
	}
}

func (m *MemLedger) RegisterVM(vm *types.VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return registerVMLocked(m.data, vm)
}

func (m *MemLedger) GetVM(name string) (*types.VM, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.data.VMs[name]
	return vm, ok
}

func (m *MemLedger) ListVMs() []*types.VM {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.VM, 0, len(m.data.VMs))
	for _, vm := range m.data.VMs {
		out = append(out, vm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemLedger) mutateVM(name string, fn func(vm *types.VM) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.data.VMs[name]
	if !ok {
		return ErrNotFound
	}
	return fn(vm)
}

func (m *MemLedger) MarkSuspended(name string, at time.Time) error {
	return m.mutateVM(name, func(vm *types.VM) error {
		vm.Status = types.VMStatusSuspended
		vm.SuspendedAt = &at
		return nil
	})
}

func (m *MemLedger) MarkActive(name string) error {
	return m.mutateVM(name, func(vm *types.VM) error {
		vm.Status = types.VMStatusActive
		vm.SuspendedAt = nil
		return nil
	})
}

func (m *MemLedger) MarkDestroyed(name string, at time.Time) error {
	return m.mutateVM(name, func(vm *types.VM) error {
		markDestroyedLocked(m.data, vm, at)
		return nil
	})
}

func (m *MemLedger) ExtendExpiry(name string, newExpiry time.Time) error {
	return m.mutateVM(name, func(vm *types.VM) error {
		vm.ExpiresAt = newExpiry
		return nil
	})
}

func (m *MemLedger) GetExpiredVMs(now time.Time) []*types.VM {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.VM
	for _, vm := range m.data.VMs {
		if vm.Status == types.VMStatusActive && vm.ExpiresAt.Before(now) {
			out = append(out, vm)
		}
	}
	return out
}

// GetVMsToSuspend returns active VMs past expiry but not yet suspended.
func (m *MemLedger) GetVMsToSuspend(now time.Time) []*types.VM {
	return m.GetExpiredVMs(now)
}

// GetVMsToDestroy returns suspended VMs whose grace period has elapsed.
func (m *MemLedger) GetVMsToDestroy(now time.Time, graceDays int) []*types.VM {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.VM
	grace := time.Duration(graceDays) * 24 * time.Hour
	for _, vm := range m.data.VMs {
		if vm.Status == types.VMStatusSuspended && vm.SuspendedAt != nil && vm.SuspendedAt.Add(grace).Before(now) {
			out = append(out, vm)
		}
	}
	return out
}

func (m *MemLedger) AllocateVMID() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allocateVMIDLocked(m.data, m.vmidRange)
}

func (m *MemLedger) AllocateIP() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allocateIPLocked(m.data, m.ipPool)
}

func (m *MemLedger) AllocateIPv6() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allocateIPv6Locked(m.data, m.ipv6Pool)
}

func (m *MemLedger) ReleaseIP(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.AllocatedIPs = releaseLocked(m.data.AllocatedIPs, ip)
	return nil
}

func (m *MemLedger) ReleaseIPv6(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.AllocatedIPv6 = releaseLocked(m.data.AllocatedIPv6, ip)
	return nil
}

func (m *MemLedger) ReserveNFTToken(vmName string, tokenID *int, ownerWallet string) (*types.NFTToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return reserveNFTTokenLocked(m.data, vmName, tokenID, ownerWallet)
}

func (m *MemLedger) MarkNFTMinted(tokenID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d", tokenID)
	tok, ok := m.data.ReservedNFTTokens[key]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	tok.Status = types.NFTTokenMinted
	tok.MintedAt = &now
	return nil
}

func (m *MemLedger) MarkNFTFailed(tokenID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d", tokenID)
	tok, ok := m.data.ReservedNFTTokens[key]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	tok.Status = types.NFTTokenFailed
	tok.FailedAt = &now
	return nil
}

func (m *MemLedger) GetNFTToken(tokenID int) (*types.NFTToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.data.ReservedNFTTokens[fmt.Sprintf("%d", tokenID)]
	return tok, ok
}
