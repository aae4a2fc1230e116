// Package validate holds every pure, side-effect-free validator the
// broker runs on request params before a value is allowed anywhere near
// subprocess argv. A handler that skips the matching Validate* call for
// a field is a bug, not a style choice.
//
// Grounded on root-agent-actions/_common.py: every regex and constant
// here is ported unchanged from that file.
package validate

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	VMIDMin = 100
	VMIDMax = 999999
)

var (
	nameRE      = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)
	shortNameRE = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)
	storageRE   = regexp.MustCompile(`^[a-z0-9-]+$`)
	commentRE   = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	ipv6CIDR128 = regexp.MustCompile(`^([0-9a-fA-F:]+)/128$`)
	tapDevRE    = regexp.MustCompile(`^tap\d+i\d+$`)

	hexAddressRE    = regexp.MustCompile(`^0x[0-9a-fA-F]{40,128}$`)
	bech32AddressRE = regexp.MustCompile(`^[a-z][a-z0-9]{0,9}1[02-9ac-hj-np-z]{39,90}$`)
)

// AllowedRouteDevs are the bridge/route interfaces a handler may target
// without matching the tap-device pattern.
var AllowedRouteDevs = map[string]bool{
	"vmbr0":   true,
	"virbr0":  true,
	"br0":     true,
	"br-ext":  true,
	"docker0": true,
}

// WalletDenyNames can never be used as a wallet name: they collide
// with system account or role names.
var WalletDenyNames = map[string]bool{
	"admin":  true,
	"server": true,
	"dev":    true,
	"broker": true,
}

// VirtCustomizeAllowedOps is the op allow-list for the virt-customize
// handler; any other flag is rejected before it reaches argv.
var VirtCustomizeAllowedOps = map[string]bool{
	"--install":          true,
	"--run-command":      true,
	"--copy-in":          true,
	"--upload":           true,
	"--chmod":            true,
	"--mkdir":            true,
	"--write":            true,
	"--append-line":      true,
	"--firstboot-command": true,
	"--run":              true,
	"--delete":           true,
}

// HypervisorOptionKeys is the allow-list of qm set/create option keys.
// Values are pass-through (not content-validated) per the spec's open
// question — only the key is checked against this set.
var HypervisorOptionKeys = map[string]bool{
	"scsi0": true, "boot": true, "ide2": true, "agent": true,
	"serial0": true, "vga": true, "net0": true, "memory": true,
	"cores": true, "name": true, "ostype": true, "scsihw": true,
	"sockets": true, "cpu": true, "numa": true, "machine": true,
	"bios": true,
}

// imagePathPrefixes are the only directories a virt-customize image_path
// may live under.
var imagePathPrefixes = []string{"/var/lib/blockhost/", "/tmp/"}

// VMID checks a VMID falls within the fixed range VMIDMin-VMIDMax.
func VMID(vmid int) error {
	if vmid < VMIDMin || vmid > VMIDMax {
		return fmt.Errorf("vmid must be %d-%d, got %d", VMIDMin, VMIDMax, vmid)
	}
	return nil
}

// Name validates a long-form resource name (VM name, owner handle).
func Name(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("invalid name: %q", name)
	}
	return nil
}

// ShortName validates a short-form identifier (wallet label, token tag).
func ShortName(name string) error {
	if !shortNameRE.MatchString(name) {
		return fmt.Errorf("invalid short name: %q", name)
	}
	return nil
}

// Storage validates a Proxmox-style storage pool identifier.
func Storage(storage string) error {
	if !storageRE.MatchString(storage) {
		return fmt.Errorf("invalid storage identifier: %q", storage)
	}
	return nil
}

// Comment validates a free-text comment field restricted to an
// alphanumeric-and-hyphen charset, so it can never smuggle shell
// metacharacters into argv.
func Comment(comment string) error {
	if !commentRE.MatchString(comment) {
		return fmt.Errorf("invalid comment: %q", comment)
	}
	return nil
}

// IPv6CIDR128 validates a /128 IPv6 address-with-prefix string, the
// form `ip -6 route` expects.
func IPv6CIDR128(address string) error {
	if !ipv6CIDR128.MatchString(address) {
		return fmt.Errorf("invalid IPv6/128: %q", address)
	}
	return nil
}

// Dev validates a route/bridge device name: either a member of
// AllowedRouteDevs or a tap device matching the hypervisor's naming
// convention.
func Dev(dev string) error {
	if AllowedRouteDevs[dev] || tapDevRE.MatchString(dev) {
		return nil
	}
	return fmt.Errorf("Device not allowed: %s", dev)
}

// Address performs structural, chain-agnostic validation: a wallet
// address must look like a hex or bech32 address, nothing more. The
// broker never checks checksum or chain-specific encoding rules — that
// is the caller's responsibility.
func Address(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	if hexAddressRE.MatchString(addr) || bech32AddressRE.MatchString(addr) {
		return nil
	}
	return fmt.Errorf("invalid address: %q", addr)
}

// VirtCustomizeOp validates a single virt-customize flag against the
// allow-list; anything else (including arbitrary shell redirection
// flags) is rejected.
func VirtCustomizeOp(op string) error {
	if !VirtCustomizeAllowedOps[op] {
		return fmt.Errorf("virt-customize operation not allowed: %q", op)
	}
	return nil
}

// WalletName validates a wallet/account label: must pass ShortName and
// must not collide with a reserved system role name.
func WalletName(name string) error {
	if err := ShortName(name); err != nil {
		return err
	}
	if WalletDenyNames[name] {
		return fmt.Errorf("Reserved name: %s", name)
	}
	return nil
}

// HypervisorOptionKey validates a single qm set/create option key (the
// part before "="). Values are opaque pass-through.
func HypervisorOptionKey(key string) error {
	if !HypervisorOptionKeys[key] {
		return fmt.Errorf("Disallowed option: %s", key)
	}
	return nil
}

// Port validates a TCP/UDP port number.
func Port(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", port)
	}
	return nil
}

// Proto validates a transport protocol name for firewall handlers.
func Proto(proto string) error {
	if proto != "tcp" && proto != "udp" {
		return fmt.Errorf("proto must be tcp or udp, got %q", proto)
	}
	return nil
}

// ImagePath validates a virt-customize target image: it must live under
// one of the allowed prefixes and must already exist as a regular file.
func ImagePath(path string) error {
	allowed := false
	for _, prefix := range imagePathPrefixes {
		if strings.HasPrefix(path, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("image_path must be under /var/lib/blockhost/ or /tmp/")
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("image not found: %s", path)
	}
	return nil
}
