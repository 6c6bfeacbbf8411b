// Package dockerworker provides a poolapi.Worker backend that runs the
// persistent worker process inside a container, the real-process
// counterpart the module's Pool contract (internal/poolapi) is written
// against. It generalizes the teacher's docker/client.go from "run
// `python -c <code>`, discard the container" to "start the classified
// startup argv as the container command, keep an attached stdio pipe
// open for the pool to borrow/return across many requests."
package dockerworker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/workerkey"
)

// Client wraps the Docker SDK client, fail-fast pinged on construction
// exactly as the teacher's docker.NewClient does.
type Client struct {
	cli *client.Client
}

// NewClient connects to the local Docker daemon. It panics on failure:
// the teacher treats an unreachable daemon as an unrecoverable startup
// condition, not a per-request error, and this module's worker backend
// is equally unusable without it.
func NewClient() *Client {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		slog.Error("failed to create docker client", "error", err)
		panic(err)
	}

	ctx := context.Background()
	if _, err := cli.Ping(ctx); err != nil {
		slog.Error("failed to connect to docker daemon", "error", err)
		panic(err)
	}

	slog.Info("docker client initialized successfully")
	return &Client{cli: cli}
}

// defaultMemoryLimitBytes bounds a spawned worker container's memory when
// Spawn is given no positive limit, mirroring the teacher's fixed 512MB
// cgroup limit; Spawn takes the limit as a parameter so a caller can
// pass a value derived from the spawn's ResourceSet instead.
const defaultMemoryLimitBytes = 512 * 1024 * 1024

// Spawn starts a new worker container for key, using image as its base
// image and startupArgs (including the trailing "--persistent_worker")
// as its command, then attaches to its stdio. The returned Worker's
// Streams are backed by the container's attached stdin/stdout.
func (c *Client) Spawn(ctx context.Context, image string, startupArgs []string, memLimitBytes int64) (*Worker, error) {
	if memLimitBytes <= 0 {
		memLimitBytes = defaultMemoryLimitBytes
	}

	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Cmd:          startupArgs,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{
		Resources: container.Resources{Memory: memLimitBytes},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating worker container: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting worker container %s: %w", resp.ID, err)
	}

	hijacked, err := c.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching to worker container %s: %w", resp.ID, err)
	}

	return &Worker{
		client:      c.cli,
		containerID: resp.ID,
		hijacked:    hijacked,
	}, nil
}

// Worker is the Docker-backed poolapi.Worker. PrepareExecution and
// FinishExecution are no-ops: a container's stdio stream has no separate
// per-exchange setup/teardown beyond what the protocol itself performs,
// unlike a sandboxed local process that might need a working-directory
// reset between actions.
type Worker struct {
	client      *client.Client
	containerID string
	hijacked    types.HijackedResponse
}

var _ poolapi.Worker = (*Worker)(nil)

func (w *Worker) Streams() poolapi.Streams {
	// Writes go straight to the raw connection; reads go through the
	// buffered Reader the SDK hands back, which already contains any
	// bytes read while negotiating the attach.
	return poolapi.Streams{Stdin: w.hijacked.Conn, Stdout: w.hijacked.Reader}
}

func (w *Worker) LogFile() string {
	return fmt.Sprintf("docker-container:%s", w.containerID)
}

func (w *Worker) PrepareExecution(ctx context.Context, key workerkey.Key) error { return nil }
func (w *Worker) FinishExecution(ctx context.Context, key workerkey.Key) error  { return nil }

// Close terminates the container; called by the pool on Invalidate.
func (w *Worker) Close() error {
	w.hijacked.Close()
	timeout := 0
	return w.client.ContainerStop(context.Background(), w.containerID, container.StopOptions{Timeout: &timeout})
}
