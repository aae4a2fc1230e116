package reconciler

import "fmt"

func errUnknownAction(action string) error {
	return fmt.Errorf("unknown action: %s", action)
}

func errDispatchFailed(reason string) error {
	return fmt.Errorf("dispatch failed: %s", reason)
}
