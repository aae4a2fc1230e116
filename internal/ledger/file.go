package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/blockhost/root-agent/internal/types"
)

// FileLedger persists a types.Ledger as a JSON file guarded by a
// sidecar .lock file, the Go counterpart of vm_db.py's VMDatabase:
// every mutation takes an exclusive flock on <path>.lock, rereads the
// data file under that lock, mutates, writes to a temp file, fsyncs,
// and renames over the original before releasing the lock.
type FileLedger struct {
	mu        sync.Mutex // serializes this process's own writers
	path      string
	lockPath  string
	vmidRange types.VMIDRange
	ipPool    types.IPPool
	ipv6Pool  types.IPv6Pool
}

// NewFileLedger returns a FileLedger backed by path, creating an empty
// ledger document if none exists yet.
func NewFileLedger(path string, vmidRange types.VMIDRange, ipPool types.IPPool, ipv6Pool types.IPv6Pool) (*FileLedger, error) {
	fl := &FileLedger{
		path:      path,
		lockPath:  path + ".lock",
		vmidRange: vmidRange,
		ipPool:    ipPool,
		ipv6Pool:  ipv6Pool,
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fl.writeLocked(types.NewLedger(vmidRange.Start)); err != nil {
			return nil, err
		}
	}
	return fl, nil
}

// withLock takes the process-local mutex, then the cross-process flock
// on lockPath, reads the current document, runs fn, and — unless fn
// returns errNoWrite — persists the (possibly mutated) document before
// releasing both locks.
var errNoWrite = fmt.Errorf("ledger: no write needed")

func (f *FileLedger) withLock(fn func(l *types.Ledger) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lockFile, err := os.OpenFile(f.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	data, err := f.readUnlocked()
	if err != nil {
		return err
	}

	err = fn(data)
	if err == errNoWrite {
		return nil
	}
	if err != nil {
		return err
	}

	return f.writeLocked(data)
}

func (f *FileLedger) readUnlocked() (*types.Ledger, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return types.NewLedger(f.vmidRange.Start), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var data types.Ledger
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if data.VMs == nil {
		data.VMs = make(map[string]*types.VM)
	}
	if data.ReservedNFTTokens == nil {
		data.ReservedNFTTokens = make(map[string]*types.NFTToken)
	}
	return &data, nil
}

// writeLocked serializes data to a temp file in the same directory,
// fsyncs it, then renames it over path — so a crash mid-write never
// leaves a truncated ledger on disk.
func (f *FileLedger) writeLocked(data *types.Ledger) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp ledger: %w", err)
	}
	return nil
}

func (f *FileLedger) RegisterVM(vm *types.VM) error {
	return f.withLock(func(l *types.Ledger) error {
		return registerVMLocked(l, vm)
	})
}

func (f *FileLedger) GetVM(name string) (*types.VM, bool) {
	data, err := f.readUnlocked()
	if err != nil {
		return nil, false
	}
	vm, ok := data.VMs[name]
	return vm, ok
}

func (f *FileLedger) ListVMs() []*types.VM {
	data, err := f.readUnlocked()
	if err != nil {
		return nil
	}
	out := make([]*types.VM, 0, len(data.VMs))
	for _, vm := range data.VMs {
		out = append(out, vm)
	}
	return out
}

func (f *FileLedger) MarkSuspended(name string, at time.Time) error {
	return f.withLock(func(l *types.Ledger) error {
		vm, ok := l.VMs[name]
		if !ok {
			return ErrNotFound
		}
		vm.Status = types.VMStatusSuspended
		vm.SuspendedAt = &at
		return nil
	})
}

func (f *FileLedger) MarkActive(name string) error {
	return f.withLock(func(l *types.Ledger) error {
		vm, ok := l.VMs[name]
		if !ok {
			return ErrNotFound
		}
		vm.Status = types.VMStatusActive
		vm.SuspendedAt = nil
		return nil
	})
}

func (f *FileLedger) MarkDestroyed(name string, at time.Time) error {
	return f.withLock(func(l *types.Ledger) error {
		vm, ok := l.VMs[name]
		if !ok {
			return ErrNotFound
		}
		markDestroyedLocked(l, vm, at)
		return nil
	})
}

func (f *FileLedger) ExtendExpiry(name string, newExpiry time.Time) error {
	return f.withLock(func(l *types.Ledger) error {
		vm, ok := l.VMs[name]
		if !ok {
			return ErrNotFound
		}
		vm.ExpiresAt = newExpiry
		return nil
	})
}

func (f *FileLedger) GetExpiredVMs(now time.Time) []*types.VM {
	data, err := f.readUnlocked()
	if err != nil {
		return nil
	}
	var out []*types.VM
	for _, vm := range data.VMs {
		if vm.Status == types.VMStatusActive && vm.ExpiresAt.Before(now) {
			out = append(out, vm)
		}
	}
	return out
}

func (f *FileLedger) GetVMsToSuspend(now time.Time) []*types.VM {
	return f.GetExpiredVMs(now)
}

func (f *FileLedger) GetVMsToDestroy(now time.Time, graceDays int) []*types.VM {
	data, err := f.readUnlocked()
	if err != nil {
		return nil
	}
	var out []*types.VM
	grace := time.Duration(graceDays) * 24 * time.Hour
	for _, vm := range data.VMs {
		if vm.Status == types.VMStatusSuspended && vm.SuspendedAt != nil && vm.SuspendedAt.Add(grace).Before(now) {
			out = append(out, vm)
		}
	}
	return out
}

func (f *FileLedger) AllocateVMID() (int, error) {
	var id int
	err := f.withLock(func(l *types.Ledger) error {
		var err error
		id, err = allocateVMIDLocked(l, f.vmidRange)
		return err
	})
	return id, err
}

func (f *FileLedger) AllocateIP() (string, error) {
	var ip string
	err := f.withLock(func(l *types.Ledger) error {
		var err error
		ip, err = allocateIPLocked(l, f.ipPool)
		return err
	})
	return ip, err
}

func (f *FileLedger) AllocateIPv6() (string, error) {
	var ip string
	err := f.withLock(func(l *types.Ledger) error {
		var err error
		ip, err = allocateIPv6Locked(l, f.ipv6Pool)
		return err
	})
	return ip, err
}

func (f *FileLedger) ReleaseIP(ip string) error {
	return f.withLock(func(l *types.Ledger) error {
		l.AllocatedIPs = releaseLocked(l.AllocatedIPs, ip)
		return nil
	})
}

func (f *FileLedger) ReleaseIPv6(ip string) error {
	return f.withLock(func(l *types.Ledger) error {
		l.AllocatedIPv6 = releaseLocked(l.AllocatedIPv6, ip)
		return nil
	})
}

func (f *FileLedger) ReserveNFTToken(vmName string, tokenID *int, ownerWallet string) (*types.NFTToken, error) {
	var tok *types.NFTToken
	err := f.withLock(func(l *types.Ledger) error {
		var err error
		tok, err = reserveNFTTokenLocked(l, vmName, tokenID, ownerWallet)
		return err
	})
	return tok, err
}

func (f *FileLedger) MarkNFTMinted(tokenID int) error {
	return f.withLock(func(l *types.Ledger) error {
		key := fmt.Sprintf("%d", tokenID)
		tok, ok := l.ReservedNFTTokens[key]
		if !ok {
			return ErrNotFound
		}
		now := time.Now()
		tok.Status = types.NFTTokenMinted
		tok.MintedAt = &now
		return nil
	})
}

func (f *FileLedger) MarkNFTFailed(tokenID int) error {
	return f.withLock(func(l *types.Ledger) error {
		key := fmt.Sprintf("%d", tokenID)
		tok, ok := l.ReservedNFTTokens[key]
		if !ok {
			return ErrNotFound
		}
		now := time.Now()
		tok.Status = types.NFTTokenFailed
		tok.FailedAt = &now
		return nil
	})
}

func (f *FileLedger) GetNFTToken(tokenID int) (*types.NFTToken, bool) {
	data, err := f.readUnlocked()
	if err != nil {
		return nil, false
	}
	tok, ok := data.ReservedNFTTokens[fmt.Sprintf("%d", tokenID)]
	return tok, ok
}
