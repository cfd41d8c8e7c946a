package prosoche

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds every external tool invocation.
const commandTimeout = 20 * time.Second

// runner abstracts external commands so collectors are testable.
type runner func(ctx context.Context, name string, args ...string) (string, error)

// runCommand is the real runner.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
