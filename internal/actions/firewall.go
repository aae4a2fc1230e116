package actions

import (
	"context"

	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/internal/validate"
)

func firewallParams(params map[string]interface{}) (port int, proto, comment string, err error) {
	port, err = paramInt(params, "port")
	if err != nil {
		return
	}
	if err = validate.Port(port); err != nil {
		return
	}
	proto = paramStringDefault(params, "proto", "tcp")
	if err = validate.Proto(proto); err != nil {
		return
	}
	comment = paramStringDefault(params, "comment", "")
	if err = validate.Comment(comment); err != nil {
		return
	}
	return
}

// handleIPTablesOpen appends an INPUT ACCEPT rule unconditionally: an
// identical (proto, port, comment) rule is not deduplicated, so N opens
// need N matching handleIPTablesClose calls (each deletes one rule).
func handleIPTablesOpen(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	port, proto, comment, err := firewallParams(params)
	if err != nil {
		return types.Fail(err.Error())
	}
	argv := []string{
		"iptables", "-A", "INPUT", "-p", proto,
		"--dport", intToStr(port), "-j", "ACCEPT",
		"-m", "comment", "--comment", comment,
	}
	result, runErr := deps.Runner.Run(ctx, "iptables-open", argv, 0)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}

func handleIPTablesClose(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	port, proto, comment, err := firewallParams(params)
	if err != nil {
		return types.Fail(err.Error())
	}
	argv := []string{
		"iptables", "-D", "INPUT", "-p", proto,
		"--dport", intToStr(port), "-j", "ACCEPT",
		"-m", "comment", "--comment", comment,
	}
	result, runErr := deps.Runner.Run(ctx, "iptables-close", argv, 0)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}
