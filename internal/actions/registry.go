// Package actions holds the handler for every action name in the
// daemon's external protocol. Handlers are registered into a
// compile-time table rather than discovered by loading files at
// startup — the source's `importlib`-based plugin loader has no
// equivalent need in a statically-compiled binary, but the loader's
// collision semantics (first registration wins, duplicates are an
// error) are preserved at registration time.
package actions

import (
	"context"
	"fmt"

	"github.com/blockhost/root-agent/internal/config"
	"github.com/blockhost/root-agent/internal/ledger"
	"github.com/blockhost/root-agent/internal/runner"
	"github.com/blockhost/root-agent/internal/sandbox"
	"github.com/blockhost/root-agent/internal/secretstore"
	"github.com/blockhost/root-agent/internal/types"
)

// Deps are the handlers' shared collaborators: the subprocess runner,
// the VM ledger, the normalized config, and the secret store used by
// generate-wallet. Sandbox is nil in production; when set (--sandbox),
// the qm-* handlers route through it instead of shelling out to qm.
type Deps struct {
	Runner  *runner.Runner
	Ledger  ledger.Ledger
	Config  *config.Config
	Secrets *secretstore.Store
	Sandbox sandbox.Backend
}

// Handler validates params, drives external tools through deps, and
// returns the wire response. It must never panic; any error reaching
// the daemon's dispatch loop from outside a handler is a bug in the
// handler itself, not in caller input.
type Handler func(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response

// Registry is a name -> Handler table with first-registration-wins
// collision handling: a second Register call for the same name returns
// an error and does not replace the existing entry.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry; Default populates one with
// every built-in action.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name. If name is already registered,
// the existing handler is kept and an error describing the collision
// is returned — callers should log it at WARN and continue, mirroring
// the source's "first plugin wins" loader behavior.
func (r *Registry) Register(name string, h Handler) error {
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("action %q already registered, ignoring duplicate", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler for name, or ok=false if none is registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Default builds the registry with every built-in action wired in,
// collecting (not failing on) any collision errors and returning them
// for the caller to log — there are none among the
// built-ins today, but the path is exercised the same way a future
// externally-contributed action file would hit it.
func Default() (*Registry, []error) {
	r := NewRegistry()
	var errs []error

	register := func(name string, h Handler) {
		if err := r.Register(name, h); err != nil {
			errs = append(errs, err)
		}
	}

	register("qm-start", handleQMStart)
	register("qm-stop", handleQMStop)
	register("qm-shutdown", handleQMShutdown)
	register("qm-destroy", handleQMDestroy)
	register("qm-create", handleQMCreate)
	register("qm-importdisk", handleQMImportDisk)
	register("qm-set", handleQMSet)
	register("qm-template", handleQMTemplate)

	register("ip6-route-add", handleIP6RouteAdd)
	register("ip6-route-del", handleIP6RouteDel)
	register("bridge-port-isolate", handleBridgePortIsolate)

	register("iptables-open", handleIPTablesOpen)
	register("iptables-close", handleIPTablesClose)

	register("virt-customize", handleVirtCustomize)

	register("generate-wallet", handleGenerateWallet)
	register("addressbook-save", handleAddressbookSave)
	register("broker-renew", handleBrokerRenew)

	return r, errs
}
