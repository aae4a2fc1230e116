// Package types defines the on-disk and wire data model shared across the
// daemon: VM ledger records, pool state, NFT token reservations, and the
// request/response envelopes exchanged over the action socket.
package types

import "time"

// VMStatus is a VM record's position in the active/suspended/destroyed DAG.
type VMStatus string

const (
	VMStatusActive    VMStatus = "active"
	VMStatusSuspended VMStatus = "suspended"
	VMStatusDestroyed VMStatus = "destroyed"
)

// VM is a single ledger record, keyed by Name in Ledger.VMs.
type VM struct {
	Name          string     `json:"name"`
	VMID          int        `json:"vmid"`
	IPAddress     string     `json:"ip_address"`
	IPv6Address   string     `json:"ipv6_address,omitempty"`
	Owner         string     `json:"owner"`
	Purpose       string     `json:"purpose"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Status        VMStatus   `json:"status"`
	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	DestroyedAt   *time.Time `json:"destroyed_at,omitempty"`
}

// NFTTokenStatus is a token reservation's position in its lifecycle DAG.
type NFTTokenStatus string

const (
	NFTTokenReserved NFTTokenStatus = "reserved"
	NFTTokenMinted   NFTTokenStatus = "minted"
	NFTTokenFailed   NFTTokenStatus = "failed"
)

// NFTToken is a single token reservation, keyed by its textualized integer
// id in Ledger.ReservedNFTTokens.
type NFTToken struct {
	TokenID     int            `json:"token_id"`
	VMName      string         `json:"vm_name"`
	Status      NFTTokenStatus `json:"status"`
	ReservedAt  *time.Time     `json:"reserved_at,omitempty"`
	MintedAt    *time.Time     `json:"minted_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	OwnerWallet string         `json:"owner_wallet,omitempty"`
}

// Ledger is the full JSON document persisted at the ledger path: VM
// records, the VMID/IP/IPv6 pool state, and NFT token reservations.
type Ledger struct {
	VMs                map[string]*VM       `json:"vms"`
	NextVMID           int                  `json:"next_vmid"`
	AllocatedIPs       []string             `json:"allocated_ips"`
	AllocatedIPv6      []string             `json:"allocated_ipv6"`
	ReservedNFTTokens  map[string]*NFTToken `json:"reserved_nft_tokens"`
}

// NewLedger returns an empty, freshly-seeded ledger document.
func NewLedger(nextVMID int) *Ledger {
	return &Ledger{
		VMs:               make(map[string]*VM),
		NextVMID:          nextVMID,
		AllocatedIPs:      []string{},
		AllocatedIPv6:     []string{},
		ReservedNFTTokens: make(map[string]*NFTToken),
	}
}

// Request is the decoded inbound envelope: {action, params}.
type Request struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// Response is the outbound envelope. Output carries stdout from whichever
// external tool the handler invoked; Address carries the non-secret half
// of a wallet-generation result. Extra is tagged json:"-", so it is
// never serialized onto the wire; no built-in handler sets it.
type Response struct {
	OK      bool                   `json:"ok"`
	Output  string                 `json:"output,omitempty"`
	Address string                 `json:"address,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Extra   map[string]interface{} `json:"-"`
}

// OK builds a successful response carrying the subprocess's stdout.
func OK(output string) *Response {
	return &Response{OK: true, Output: output}
}

// Fail builds a failure response. reason is never a secret: callers must
// have already stripped wallet keys and other sensitive material before
// reaching this constructor.
func Fail(reason string) *Response {
	return &Response{OK: false, Error: reason}
}

// IPPool describes the IPv4 allocation range: last-octet indices under a
// configured /24.
type IPPool struct {
	Prefix string // e.g. "10.20.30" (first three octets)
	Start  int
	End    int
}

// IPv6Pool describes the IPv6 allocation range: host indices under a
// configured textual prefix.
type IPv6Pool struct {
	Prefix string // e.g. "2001:db8:1::" — host index appended as hex
	Start  int
	End    int
}

// VMIDRange bounds VMID allocation; allocation fails once NextVMID would
// exceed End.
type VMIDRange struct {
	Start int
	End   int
}
