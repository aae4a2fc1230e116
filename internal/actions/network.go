package actions

import (
	"context"

	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/internal/validate"
)

func handleIP6RouteAdd(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	address, err := paramString(params, "address")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.IPv6CIDR128(address); err != nil {
		return types.Fail(err.Error())
	}
	dev, err := paramString(params, "dev")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.Dev(dev); err != nil {
		return types.Fail(err.Error())
	}

	result, runErr := deps.Runner.Run(ctx, "ip6-route-add",
		[]string{"ip", "-6", "route", "replace", address, "dev", dev}, 0)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}

func handleIP6RouteDel(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	address, err := paramString(params, "address")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.IPv6CIDR128(address); err != nil {
		return types.Fail(err.Error())
	}
	dev, err := paramString(params, "dev")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.Dev(dev); err != nil {
		return types.Fail(err.Error())
	}

	result, runErr := deps.Runner.Run(ctx, "ip6-route-del",
		[]string{"ip", "-6", "route", "del", address, "dev", dev}, 0)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}

// handleBridgePortIsolate enables bridge port isolation on a tap
// interface: isolated ports exchange frames only with non-isolated
// ports (the host uplink). Requires kernel 5.2+.
func handleBridgePortIsolate(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	dev, err := paramString(params, "dev")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.Dev(dev); err != nil {
		return types.Fail(err.Error())
	}

	result, runErr := deps.Runner.Run(ctx, "bridge-port-isolate",
		[]string{"bridge", "link", "set", "dev", dev, "isolated", "on"}, 0)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}
