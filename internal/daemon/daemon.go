// Package daemon implements the broker's connection lifecycle: binding
// the UNIX socket, framing one request/response per connection, and
// routing actions to the registry built in internal/actions.
//
// Grounded on blockhost_root_agent.py's main()/handle_connection, with
// the teacher's pkg/api/server.go lifecycle shape (accept loop,
// graceful shutdown via context) kept for the daemon skeleton, its
// gRPC/mTLS machinery stripped since there is no RPC transport here.
package daemon

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blockhost/root-agent/internal/actions"
	"github.com/blockhost/root-agent/internal/events"
	"github.com/blockhost/root-agent/internal/metrics"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/pkg/log"
	"github.com/google/uuid"
)

const (
	maxPayloadBytes = 10 * 1024 * 1024
	headerTimeout   = 10 * time.Second
)

// Daemon accepts connections on a UNIX socket and dispatches each
// framed request to the action registry.
type Daemon struct {
	SocketPath   string
	ServiceGroup string
	Registry     *actions.Registry
	Deps         *actions.Deps
	Events       *events.Broker

	listener net.Listener
}

// New returns a Daemon ready to Listen and Serve.
func New(socketPath, serviceGroup string, registry *actions.Registry, deps *actions.Deps, broker *events.Broker) *Daemon {
	return &Daemon{
		SocketPath:   socketPath,
		ServiceGroup: serviceGroup,
		Registry:     registry,
		Deps:         deps,
		Events:       broker,
	}
}

// AssertRoot fails fast, matching the source's explicit
// `os.geteuid() == 0` startup assertion; the daemon has no reason to
// run as anything else since every handler issues privileged commands.
func AssertRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("root-agentd must run as root (uid 0)")
	}
	return nil
}

// Listen creates the socket directory, removes any stale socket,
// binds, and sets ownership/permissions so only ServiceGroup members
// can connect — the IPC socket's mode IS the authentication boundary.
func (d *Daemon) Listen() error {
	dir := filepath.Dir(d.SocketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create socket dir %s: %w", dir, err)
	}

	if _, err := os.Stat(d.SocketPath); err == nil {
		if err := os.Remove(d.SocketPath); err != nil {
			return fmt.Errorf("remove stale socket %s: %w", d.SocketPath, err)
		}
	}

	listener, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		return fmt.Errorf("bind socket %s: %w", d.SocketPath, err)
	}
	d.listener = listener

	gid := 0
	if d.ServiceGroup != "" {
		if g, err := user.LookupGroup(d.ServiceGroup); err == nil {
			gid, _ = strconv.Atoi(g.Gid)
		}
	}
	if err := os.Chown(d.SocketPath, 0, gid); err != nil {
		return fmt.Errorf("chown socket %s: %w", d.SocketPath, err)
	}
	if err := os.Chmod(d.SocketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket %s: %w", d.SocketPath, err)
	}

	return nil
}

// Serve accepts connections until ctx is canceled or the listener is
// closed. Each connection runs in its own goroutine; the accept loop
// never blocks on a slow client.
func (d *Daemon) Serve(ctx context.Context) error {
	logger := log.WithComponent("daemon")
	logger.Info().Str("socket", d.SocketPath).Msg("accepting connections")

	go func() {
		<-ctx.Done()
		d.listener.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go d.handleConnection(ctx, conn)
	}
}

// Close stops accepting and removes the socket file.
func (d *Daemon) Close() error {
	if d.listener != nil {
		d.listener.Close()
	}
	return os.Remove(d.SocketPath)
}

// eventsTailAction is not a registered handler: it never touches a
// subprocess, so it is special-cased in handleConnection before
// dispatch rather than occupying a slot in the action registry.
const eventsTailAction = "events-tail"

func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	logger := log.WithConn(connID)

	conn.SetReadDeadline(time.Now().Add(headerTimeout))

	req, err := readRequest(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("protocol error")
		metrics.ProtocolErrorsTotal.Inc()
		return
	}

	if req.Action == eventsTailAction {
		conn.SetDeadline(time.Time{})
		d.streamEvents(ctx, conn)
		return
	}

	resp := d.dispatch(ctx, req)

	if err := writeResponse(conn, resp); err != nil {
		logger.Warn().Err(err).Msg("write response failed")
	}
}

// streamEvents holds the connection open and writes one frame per
// broker event until the client disconnects or ctx is canceled. Unlike
// every other action this is a long-lived connection by design; it
// carries no params and never reaches a handler.
func (d *Daemon) streamEvents(ctx context.Context, conn net.Conn) {
	if d.Events == nil {
		writeFrame(conn, events.Event{Type: events.TypeFailed, Error: "event broker disabled"})
		return
	}

	sub := d.Events.Subscribe()
	defer d.Events.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, req *types.Request) *types.Response {
	logger := log.WithAction(req.Action)

	handler, ok := d.Registry.Lookup(req.Action)
	if !ok {
		metrics.UnknownActionsTotal.Inc()
		d.publish(events.TypeUnknown, req.Action, false, "")
		return types.Fail(fmt.Sprintf("Unknown action: %s", req.Action))
	}

	resp := func() (resp *types.Response) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("handler panicked")
				resp = types.Fail(fmt.Sprintf("%v", r))
			}
		}()
		return handler(ctx, d.Deps, req.Params)
	}()

	outcome := "error"
	if resp.OK {
		outcome = "ok"
	}
	metrics.RequestsTotal.WithLabelValues(req.Action, outcome).Inc()

	if resp.OK {
		d.publish(events.TypeDispatched, req.Action, true, "")
	} else {
		d.publish(events.TypeFailed, req.Action, false, resp.Error)
	}

	return resp
}

func (d *Daemon) publish(typ events.Type, action string, ok bool, errMsg string) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(events.Event{Type: typ, Action: action, OK: ok, Error: errMsg})
}

func readRequest(r io.Reader) (*types.Request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxPayloadBytes {
		return nil, fmt.Errorf("payload too large: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var req types.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return &req, nil
}

func writeResponse(w io.Writer, resp *types.Response) error {
	return writeFrame(w, resp)
}

// writeFrame marshals v to JSON and writes it as one length-prefixed
// frame. Used for both the single request/response cycle and the
// events-tail stream, which is just the same framing repeated.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

