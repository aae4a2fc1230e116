package validate

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVMID(t *testing.T) {
	tests := []struct {
		name    string
		vmid    int
		wantErr bool
	}{
		{"below range", 99, true},
		{"min boundary", 100, false},
		{"typical", 4200, false},
		{"max boundary", 999999, false},
		{"above range", 1000000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VMID(tt.vmid)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestName(t *testing.T) {
	assert.NoError(t, Name("worker-01"))
	assert.Error(t, Name("Worker_01"))
	assert.Error(t, Name(""))
}

func TestDev(t *testing.T) {
	assert.NoError(t, Dev("vmbr0"))
	assert.NoError(t, Dev("tap101i0"))
	assert.Error(t, Dev("eth0"))
	assert.Error(t, Dev("tapX"))
}

func TestIPv6CIDR128(t *testing.T) {
	assert.NoError(t, IPv6CIDR128("2001:db8::1/128"))
	assert.Error(t, IPv6CIDR128("2001:db8::1/64"))
	assert.Error(t, IPv6CIDR128("not-an-address"))
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"hex address", "0x" + "a1b2c3d4e5f60718290a1b2c3d4e5f6071829000", false},
		{"bech32 address", "cosmos1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqzyx2ed", false},
		{"empty", "", true},
		{"garbage", "not-an-address", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Address(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVirtCustomizeOp(t *testing.T) {
	assert.NoError(t, VirtCustomizeOp("--install"))
	assert.Error(t, VirtCustomizeOp("--network"))
}

func TestWalletName(t *testing.T) {
	assert.NoError(t, WalletName("alice"))
	assert.Error(t, WalletName("admin"))
	assert.Error(t, WalletName("Admin"))
}

func TestHypervisorOptionKey(t *testing.T) {
	assert.NoError(t, HypervisorOptionKey("memory"))
	assert.NoError(t, HypervisorOptionKey("net0"))
	assert.Error(t, HypervisorOptionKey("foo"))
}

func TestPortAndProto(t *testing.T) {
	assert.NoError(t, Port(8443))
	assert.Error(t, Port(0))
	assert.Error(t, Port(65536))
	assert.NoError(t, Proto("tcp"))
	assert.NoError(t, Proto("udp"))
	assert.Error(t, Proto("icmp"))
}

func TestImagePath(t *testing.T) {
	f, err := os.CreateTemp("/tmp", "blockhost-image-*.img")
	assert.NoError(t, err)
	defer os.Remove(f.Name())
	f.Close()

	assert.NoError(t, ImagePath(f.Name()))
	assert.Error(t, ImagePath("/tmp/does-not-exist.img"))
	assert.Error(t, ImagePath("/etc/passwd"))
}
