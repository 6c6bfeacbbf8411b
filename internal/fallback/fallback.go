// Package fallback provides the capability the orchestrator delegates to
// when a spawn is not worker-eligible (spec §4.6 step 1, §9 "model as a
// capability"). The module owns only this trivial one-shot
// implementation; a production fallback runner (sandboxing, remote
// execution, ...) is an external collaborator per spec §1.
package fallback

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/relaybuild/workerspawn/internal/domain"
)

// OneShot runs a spawn's argv directly, once, with no worker protocol
// involved.
type OneShot struct{}

var _ domain.Runner = OneShot{}

func (OneShot) Exec(ctx context.Context, spawn domain.Spawn, policy domain.ExecutionPolicy) (domain.SpawnResult, error) {
	if len(spawn.Argv) == 0 {
		return domain.SpawnResult{}, domain.NewError(domain.KindNoTools, "spawn has no argv", nil)
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, spawn.Argv[0], spawn.Argv[1:]...)
	cmd.Dir = policy.ExecRoot
	for k, v := range spawn.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	wall := time.Since(start).Milliseconds()

	exitCode := int32(0)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = int32(exitErr.ExitCode())
		} else {
			return domain.SpawnResult{}, err
		}
	}

	if policy.Stderr != nil {
		_, _ = policy.Stderr(stderr.Bytes())
	}

	return domain.SpawnResult{
		Status:         domain.StatusSuccess,
		ExitCode:       exitCode,
		WallTimeMillis: wall,
	}, nil
}
