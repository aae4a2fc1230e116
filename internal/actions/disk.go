package actions

import (
	"context"
	"fmt"

	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/internal/validate"
)

// handleVirtCustomize runs virt-customize against an existing disk
// image, with each sub-command's leading operator checked against the
// allow-list before being appended to argv.
func handleVirtCustomize(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	imagePath, err := paramString(params, "image_path")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.ImagePath(imagePath); err != nil {
		return types.Fail(err.Error())
	}

	rawCommands, ok := params["commands"]
	if !ok {
		return types.Fail("commands must be a non-empty list")
	}
	commands, ok := rawCommands.([]interface{})
	if !ok || len(commands) == 0 {
		return types.Fail("commands must be a non-empty list")
	}

	argv := []string{"virt-customize", "-a", imagePath}
	for _, rawEntry := range commands {
		entry, ok := rawEntry.([]interface{})
		if !ok || len(entry) < 2 {
			return types.Fail(fmt.Sprintf("each command must be [op, arg, ...]: %v", rawEntry))
		}
		op, ok := entry[0].(string)
		if !ok {
			return types.Fail(fmt.Sprintf("command operator must be a string: %v", entry[0]))
		}
		if err := validate.VirtCustomizeOp(op); err != nil {
			return types.Fail(err.Error())
		}
		for _, arg := range entry {
			s, ok := arg.(string)
			if !ok {
				return types.Fail(fmt.Sprintf("command argument must be a string: %v", arg))
			}
			argv = append(argv, s)
		}
	}

	result, runErr := deps.Runner.Run(ctx, "virt-customize", argv, 600*timeoutSecond)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}
