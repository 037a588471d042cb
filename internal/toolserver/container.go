package toolserver

import (
	"context"
	"os/exec"
)

// newContainerTransport starts image via the host's container runtime
// (spec §4.I: "same as stdio but the process is started via a container
// runtime; optional host-directory mount") and wires the resulting
// process's stdio exactly like stdioTransport — the only difference
// between stdio and container is how the child process is launched.
func newContainerTransport(ctx context.Context, image string, args []string, hostMount string) (*stdioTransport, error) {
	runArgs := []string{"run", "--rm", "-i"}
	if hostMount != "" {
		runArgs = append(runArgs, "-v", hostMount)
	}
	runArgs = append(runArgs, image)
	runArgs = append(runArgs, args...)

	cmd := exec.CommandContext(ctx, "docker", runArgs...)
	return newStdioTransport(cmd)
}
