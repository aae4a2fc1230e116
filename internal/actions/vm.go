package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blockhost/root-agent/internal/sandbox"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/internal/validate"
)

// qmArgv runs `qm <verb> <vmid> <extra...>` under the runner's default
// timeout, converting its result into the standard response mapping. If
// deps.Sandbox is set (--sandbox), the lifecycle verbs are instead routed
// through the sandbox backend and no qm subprocess ever runs.
func qmArgv(ctx context.Context, deps *Deps, action string, vmid int, extra ...string) *types.Response {
	if deps.Sandbox != nil {
		if resp, handled := sandboxLifecycle(ctx, deps.Sandbox, action, vmid); handled {
			return resp
		}
	}

	argv := append([]string{"qm", action, intToStr(vmid)}, extra...)
	result, err := deps.Runner.Run(ctx, action, argv, 0)
	if err != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, err.Error()))
		}
		return types.Fail(err.Error())
	}
	return types.OK(result.Stdout)
}

// sandboxLifecycle maps a qm verb onto the sandbox Backend's matching
// method. handled is false for verbs the backend has no equivalent for
// (template), so callers fall through to the real qm subprocess.
func sandboxLifecycle(ctx context.Context, backend sandbox.Backend, action string, vmid int) (*types.Response, bool) {
	var err error
	switch action {
	case "start":
		err = backend.Start(ctx, vmid)
	case "stop":
		err = backend.Stop(ctx, vmid)
	case "shutdown":
		err = backend.Shutdown(ctx, vmid)
	case "destroy":
		err = backend.Destroy(ctx, vmid)
	default:
		return nil, false
	}
	if err != nil {
		return types.Fail(err.Error()), true
	}
	return types.OK(""), true
}

func handleQMStart(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	return qmArgv(ctx, deps, "start", vmid)
}

func handleQMStop(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	return qmArgv(ctx, deps, "stop", vmid)
}

func handleQMShutdown(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	return qmArgv(ctx, deps, "shutdown", vmid)
}

func handleQMDestroy(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	return qmArgv(ctx, deps, "destroy", vmid)
}

func handleQMTemplate(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	return qmArgv(ctx, deps, "template", vmid)
}

// handleQMCreate expects {vmid, name, args:[--key, value, ...]}. Every
// key position in args must be "--<key>" with <key> in the hypervisor
// option allow-list, as for qm-set; values are opaque pass-through.
func handleQMCreate(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	name, err := paramString(params, "name")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.Name(name); err != nil {
		return types.Fail(err.Error())
	}
	extraArgs, err := paramStringList(params, "args")
	if err != nil {
		return types.Fail(err.Error())
	}
	for i := 0; i < len(extraArgs); i += 2 {
		key := extraArgs[i]
		if !strings.HasPrefix(key, "--") {
			return types.Fail(fmt.Sprintf("expected --key at args[%d], got %q", i, key))
		}
		if err := validate.HypervisorOptionKey(strings.TrimPrefix(key, "--")); err != nil {
			return types.Fail(err.Error())
		}
	}

	if deps.Sandbox != nil {
		image := deps.Config.Sandbox.Image
		if err := deps.Sandbox.Create(ctx, vmid, name, image); err != nil {
			return types.Fail(err.Error())
		}
		return types.OK("")
	}

	argv := append([]string{"qm", "create", intToStr(vmid), "--name", name}, extraArgs...)
	result, err := deps.Runner.Run(ctx, "qm-create", argv, 0)
	if err != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, err.Error()))
		}
		return types.Fail(err.Error())
	}
	return types.OK(result.Stdout)
}

func handleQMImportDisk(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	diskPath, err := paramString(params, "disk_path")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.ImagePath(diskPath); err != nil {
		return types.Fail(err.Error())
	}
	storage, err := paramString(params, "storage")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.Storage(storage); err != nil {
		return types.Fail(err.Error())
	}
	argv := []string{"qm", "importdisk", intToStr(vmid), diskPath, storage}
	result, err := deps.Runner.Run(ctx, "qm-importdisk", argv, 600*timeoutSecond)
	if err != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, err.Error()))
		}
		return types.Fail(err.Error())
	}
	return types.OK(result.Stdout)
}

// handleQMSet validates every option key against the hypervisor
// allow-list before building argv; values are opaque pass-through.
// Disallowed keys stop the request before any subprocess runs, and the
// iteration order is sorted so argv is deterministic across runs.
func handleQMSet(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	vmid, err := paramInt(params, "vmid")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.VMID(vmid); err != nil {
		return types.Fail(err.Error())
	}
	options, err := paramStringMap(params, "options")
	if err != nil {
		return types.Fail(err.Error())
	}

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	argv := []string{"qm", "set", intToStr(vmid)}
	for _, key := range keys {
		if err := validate.HypervisorOptionKey(key); err != nil {
			return types.Fail(err.Error())
		}
		argv = append(argv, "--"+key, options[key])
	}

	result, err := deps.Runner.Run(ctx, "qm-set", argv, 0)
	if err != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, err.Error()))
		}
		return types.Fail(err.Error())
	}
	return types.OK(result.Stdout)
}
