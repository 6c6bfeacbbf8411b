// Package runner implements the orchestrator (spec §4.6): the eligibility
// gate, resource acquisition, classifier/key/request assembly, the worker
// exchange, and result/fallback dispatch.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaybuild/workerspawn/internal/classifier"
	"github.com/relaybuild/workerspawn/internal/domain"
	"github.com/relaybuild/workerspawn/internal/driver"
	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/request"
	"github.com/relaybuild/workerspawn/internal/resource"
	"github.com/relaybuild/workerspawn/internal/wireproto"
	"github.com/relaybuild/workerspawn/internal/workerkey"
)

const reasonNoExecutionInfo = "because the action's execution info does not contain 'supports-workers=1'"

// EventSink receives one diagnostic event per Exec call's lifecycle; nil
// is a valid no-op sink. internal/diagnostics implements this to fan
// events out over Redis/WebSocket.
type EventSink interface {
	Emit(execID, mnemonic, event string, fields map[string]any)
}

// Orchestrator is the worker-backed SpawnRunner (C6). Every collaborator
// is injected, per spec §9's redesign recommendation — no package-level
// singletons.
type Orchestrator struct {
	Pool                 poolapi.Pool
	Resources            *resource.Manager
	Fallback             domain.Runner
	ExtraFlags           map[string][]string
	RecordingWindowBytes int
	Events               EventSink
}

var _ domain.Runner = (*Orchestrator)(nil)

// Exec implements spec §4.6's exec(spawn, policy) -> SpawnResult.
func (o *Orchestrator) Exec(ctx context.Context, spawn domain.Spawn, policy domain.ExecutionPolicy) (domain.SpawnResult, error) {
	execID := uuid.New().String()
	log := slog.With("exec_id", execID, "mnemonic", spawn.Mnemonic)

	// Step 1 — eligibility gate. Delegation is unconditional; the
	// warning is advisory only.
	if !spawn.SupportsWorkers() {
		msg := fmt.Sprintf("Worker strategy cannot execute this %s action, %s", spawn.Mnemonic, reasonNoExecutionInfo)
		log.Warn(msg, "reason", "REASON_NO_EXECUTION_INFO")
		o.emit(execID, spawn.Mnemonic, "fallback", map[string]any{"reason": "REASON_NO_EXECUTION_INFO"})
		return o.Fallback.Exec(ctx, spawn, policy)
	}

	if policy.ReportProgress != nil {
		policy.ReportProgress(domain.ProgressScheduling, "worker")
	}

	handle, err := o.Resources.Acquire(ctx, spawn.ResourceOwner, spawn.LocalResources)
	if err != nil {
		err = fmt.Errorf("acquiring resources: %w", err)
		o.emit(execID, spawn.Mnemonic, "failed", map[string]any{"error": err.Error()})
		return domain.SpawnResult{}, err
	}
	defer handle.Release()

	if policy.ReportProgress != nil {
		policy.ReportProgress(domain.ProgressExecuting, "worker")
	}

	result, err := o.actuallyExec(ctx, execID, spawn, policy, log)
	if err != nil {
		o.emit(execID, spawn.Mnemonic, "failed", map[string]any{"error": err.Error()})
	}
	return result, err
}

func (o *Orchestrator) actuallyExec(ctx context.Context, execID string, spawn domain.Spawn, policy domain.ExecutionPolicy, log *slog.Logger) (domain.SpawnResult, error) {
	// Step 3 — tool presence check; user error, no fallback.
	if len(spawn.ToolFiles) == 0 {
		return domain.SpawnResult{}, domain.NewError(
			domain.KindNoTools,
			fmt.Sprintf("Worker strategy cannot execute this %s action, because the action has no tools", spawn.Mnemonic),
			nil,
		)
	}

	// Step 4 — classify, key, request.
	startupArgs, flagFiles, err := classifier.Split(spawn.Mnemonic, spawn.Argv, o.ExtraFlags)
	if err != nil {
		return domain.SpawnResult{}, err
	}

	inputs := spawn.InputFiles
	if policy.ExpandArtifact != nil {
		expanded := make([]string, 0, len(inputs))
		for _, in := range inputs {
			xs, err := policy.ExpandArtifact(in)
			if err != nil {
				return domain.SpawnResult{}, fmt.Errorf("expanding artifact %s: %w", in, err)
			}
			expanded = append(expanded, xs...)
		}
		inputs = expanded
	}

	digestOf := func(path string) (string, bool) {
		if policy.LookupDigest == nil {
			return "", false
		}
		return policy.LookupDigest(path)
	}

	toolHash := workerkey.ToolFileDigest(spawn.ToolFiles, digestOf)

	inputLayout := make(map[string]string, len(inputs))
	for _, in := range inputs {
		inputLayout[in] = policy.ExecRoot + "/" + in
	}

	key := workerkey.New(startupArgs, spawn.Env, policy.ExecRoot, spawn.Mnemonic, toolHash, inputLayout, spawn.OutputFiles, policy.Speculating)

	req, err := request.Build(policy.ExecRoot, flagFiles, inputs, digestOf)
	if err != nil {
		return domain.SpawnResult{}, err
	}

	// Step 5 — drive the worker, timing wall-clock.
	start := time.Now()
	resp, err := o.execInWorker(ctx, key, req, policy, log)
	wall := time.Since(start).Milliseconds()
	if err != nil {
		return domain.SpawnResult{}, err
	}

	// Step 6 — write output bytes to stderr, assemble result.
	if policy.Stderr != nil {
		if _, err := policy.Stderr(resp.Output); err != nil {
			return domain.SpawnResult{}, fmt.Errorf("writing worker output to stderr: %w", err)
		}
	}

	log.Info("exec completed", "worker_key", key.String(), "exit_code", resp.ExitCode, "wall_time_ms", wall)
	o.emit(execID, spawn.Mnemonic, "completed", map[string]any{
		"worker_key":   key.String(),
		"exit_code":    resp.ExitCode,
		"wall_time_ms": wall,
	})

	return domain.SpawnResult{
		Status:         domain.StatusSuccess,
		ExitCode:       resp.ExitCode,
		WallTimeMillis: wall,
	}, nil
}

// execInWorker borrows a worker, drives one exchange, and on any failure
// after a successful borrow invalidates the worker before re-raising
// (spec §4.6 lifecycle invariant: exactly one Return+Invalidate per
// borrow, never both, never neither).
func (o *Orchestrator) execInWorker(ctx context.Context, key workerkey.Key, req wireproto.WorkRequest, policy domain.ExecutionPolicy, log *slog.Logger) (resp wireproto.WorkResponse, err error) {
	w, borrowErr := o.Pool.Borrow(ctx, key)
	if borrowErr != nil {
		return wireproto.WorkResponse{}, domain.NewError(
			domain.KindBorrowFailed,
			"IOException while borrowing a worker from the pool",
			borrowErr,
		)
	}

	defer func() {
		if err != nil {
			o.Pool.Invalidate(key, w)
			log.Warn("worker invalidated", "worker_key", key.String(), "error", err)
		} else {
			o.Pool.Return(key, w)
		}
	}()

	resp, err = driver.Exchange(ctx, w, key, req, policy.LockOutputFiles, driver.Options{RecordingWindowBytes: o.RecordingWindowBytes})
	return resp, err
}

func (o *Orchestrator) emit(execID, mnemonic, event string, fields map[string]any) {
	if o.Events == nil {
		return
	}
	o.Events.Emit(execID, mnemonic, event, fields)
}
