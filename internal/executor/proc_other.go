//go:build !unix

package executor

import "os/exec"

// setProcessGroup is a no-op; cancellation kills only the direct child
// and WaitDelay bounds the wait for its output.
func setProcessGroup(*exec.Cmd) {}
