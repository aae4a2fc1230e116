// Package client is the Go counterpart of blockhost/root_agent.py: a
// thin wrapper that dials the daemon's UNIX socket, frames one request,
// reads one response, and closes — plus convenience wrappers for the
// handful of actions callers invoke most often.
package client

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/blockhost/root-agent/internal/events"
	"github.com/blockhost/root-agent/internal/types"
)

// DefaultSocketPath matches the daemon's default bind address.
const DefaultSocketPath = "/run/blockhost/root-agent.sock"

// DefaultTimeout matches root_agent.py's call() default.
const DefaultTimeout = 300 * time.Second

const maxPayloadBytes = 10 * 1024 * 1024

// Client issues one request per Call, each over its own connection —
// the daemon's wire protocol has no notion of a persistent session.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// New returns a Client bound to path with the given per-call timeout.
// A zero timeout uses DefaultTimeout.
func New(path string, timeout time.Duration) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{SocketPath: path, Timeout: timeout}
}

// Call dials the daemon, sends {action, params}, and returns the
// decoded response.
func (c *Client) Call(action string, params map[string]interface{}) (*types.Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.Timeout))

	req := types.Request{Action: action, Params: params}
	if params == nil {
		req.Params = map[string]interface{}{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("write request body: %w", err)
	}

	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read response length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxPayloadBytes {
		return nil, fmt.Errorf("response too large: %d bytes", length)
	}

	respBody := make([]byte, length)
	if _, err := io.ReadFull(conn, respBody); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var resp types.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// QMStart starts vmid.
func (c *Client) QMStart(vmid int) (*types.Response, error) {
	return c.Call("qm-start", map[string]interface{}{"vmid": vmid})
}

// QMStop force-stops vmid.
func (c *Client) QMStop(vmid int) (*types.Response, error) {
	return c.Call("qm-stop", map[string]interface{}{"vmid": vmid})
}

// QMShutdown gracefully shuts down vmid.
func (c *Client) QMShutdown(vmid int) (*types.Response, error) {
	return c.Call("qm-shutdown", map[string]interface{}{"vmid": vmid})
}

// QMDestroy destroys vmid.
func (c *Client) QMDestroy(vmid int) (*types.Response, error) {
	return c.Call("qm-destroy", map[string]interface{}{"vmid": vmid})
}

// IP6RouteAdd installs a /128 host route to dev.
func (c *Client) IP6RouteAdd(address, dev string) (*types.Response, error) {
	return c.Call("ip6-route-add", map[string]interface{}{"address": address, "dev": dev})
}

// IP6RouteDel removes a /128 host route from dev.
func (c *Client) IP6RouteDel(address, dev string) (*types.Response, error) {
	return c.Call("ip6-route-del", map[string]interface{}{"address": address, "dev": dev})
}

// GenerateWallet asks the daemon to mint a new wallet keypair under name,
// returning only the address — the private key never leaves the daemon.
func (c *Client) GenerateWallet(name string) (*types.Response, error) {
	return c.Call("generate-wallet", map[string]interface{}{"name": name})
}

// AddressbookSave atomically replaces the daemon's address book.
func (c *Client) AddressbookSave(entries map[string]interface{}) (*types.Response, error) {
	return c.Call("addressbook-save", map[string]interface{}{"entries": entries})
}

// TailEvents dials the daemon, requests the long-lived events-tail
// stream, and invokes onEvent for every frame until the connection is
// closed or the daemon stops sending. It blocks until the stream ends.
func (c *Client) TailEvents(onEvent func(events.Event)) error {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	req := types.Request{Action: "events-tail", Params: map[string]interface{}{}}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write request body: %w", err)
	}

	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read event length: %w", err)
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length > maxPayloadBytes {
			return fmt.Errorf("event frame too large: %d bytes", length)
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return fmt.Errorf("read event body: %w", err)
		}

		var ev events.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		onEvent(ev)
	}
}
