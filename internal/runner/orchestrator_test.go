package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaybuild/workerspawn/internal/domain"
	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/resource"
	"github.com/relaybuild/workerspawn/internal/wireproto"
	"github.com/relaybuild/workerspawn/internal/workerkey"
	"github.com/relaybuild/workerspawn/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFallback struct {
	calls int
	spawn domain.Spawn
}

func (f *fakeFallback) Exec(ctx context.Context, spawn domain.Spawn, policy domain.ExecutionPolicy) (domain.SpawnResult, error) {
	f.calls++
	f.spawn = spawn
	return domain.SpawnResult{Status: domain.StatusSuccess}, nil
}

func newTestPool(t *testing.T, resp wireproto.WorkResponse) (*workerpool.Pool, *workerpool.StubWorker) {
	t.Helper()
	w := &workerpool.StubWorker{}
	if resp.ExitCode != 0 || len(resp.Output) > 0 {
		writeDelimitedInto(t, &w.Out, resp)
	}
	pool := workerpool.New(func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
		return w, nil
	}, 2)
	return pool, w
}

func writeDelimitedInto(t *testing.T, buf *bytes.Buffer, resp wireproto.WorkResponse) {
	t.Helper()
	body := resp.Marshal()
	var lenBuf [10]byte
	n := 0
	v := uint64(len(body))
	for v >= 0x80 {
		lenBuf[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	lenBuf[n] = byte(v)
	n++
	buf.Write(lenBuf[:n])
	buf.Write(body)
}

func basePolicy(t *testing.T, execRoot string) (domain.ExecutionPolicy, *bytes.Buffer, *bool) {
	var stderr bytes.Buffer
	locked := false
	return domain.ExecutionPolicy{
		ExecRoot:        execRoot,
		LockOutputFiles: func() error { locked = true; return nil },
		Stderr:          func(p []byte) (int, error) { return stderr.Write(p) },
	}, &stderr, &locked
}

func TestExec_HappyPath_S1(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opts.txt"), []byte("--source\n1.8\n"), 0o644))

	pool, _ := newTestPool(t, wireproto.WorkResponse{ExitCode: 0, Output: []byte("ok")})
	orc := &Orchestrator{
		Pool:      pool,
		Resources: resource.NewManager(8, 4096),
		Fallback:  &fakeFallback{},
	}

	spawn := domain.Spawn{
		Argv:          []string{"javac", "@opts.txt"},
		Mnemonic:      "Javac",
		ToolFiles:     []string{"javac-bin"},
		ExecutionInfo: map[string]string{"supports-workers": "1"},
	}
	policy, stderr, _ := basePolicy(t, dir)

	result, err := orc.Exec(context.Background(), spawn, policy)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, int32(0), result.ExitCode)
	assert.Equal(t, "ok", stderr.String())
}

func TestExec_Fallback_S2(t *testing.T) {
	fb := &fakeFallback{}
	orc := &Orchestrator{
		Pool:      workerpool.New(nil, 1),
		Resources: resource.NewManager(8, 4096),
		Fallback:  fb,
	}

	spawn := domain.Spawn{Mnemonic: "Javac", ExecutionInfo: map[string]string{}}
	policy, _, _ := basePolicy(t, t.TempDir())

	_, err := orc.Exec(context.Background(), spawn, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
}

func TestExec_MissingFlagfile_S3(t *testing.T) {
	borrowed := false
	pool := workerpool.New(func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
		borrowed = true
		return &workerpool.StubWorker{}, nil
	}, 1)
	orc := &Orchestrator{
		Pool:      pool,
		Resources: resource.NewManager(8, 4096),
		Fallback:  &fakeFallback{},
	}

	spawn := domain.Spawn{
		Argv:          []string{"javac", "-source", "1.8"},
		Mnemonic:      "Javac",
		ToolFiles:     []string{"javac-bin"},
		ExecutionInfo: map[string]string{"supports-workers": "1"},
	}
	policy, _, _ := basePolicy(t, t.TempDir())

	_, err := orc.Exec(context.Background(), spawn, policy)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindNoFlagfile, derr.Kind)
	assert.False(t, borrowed, "no worker should be borrowed when NO_FLAGFILE fires")
}

func TestExec_EscapeLiteral_S4(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte(""), 0o644))

	w := &workerpool.StubWorker{}
	writeDelimitedInto(t, &w.Out, wireproto.WorkResponse{ExitCode: 0})
	pool := workerpool.New(func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
		return w, nil
	}, 1)

	orc := &Orchestrator{Pool: pool, Resources: resource.NewManager(8, 4096), Fallback: &fakeFallback{}}

	spawn := domain.Spawn{
		Argv:          []string{"tool", "@@literal", "@real.txt"},
		Mnemonic:      "Tool",
		ToolFiles:     []string{"tool-bin"},
		ExecutionInfo: map[string]string{"supports-workers": "1"},
	}
	policy, _, _ := basePolicy(t, dir)

	_, err := orc.Exec(context.Background(), spawn, policy)
	require.NoError(t, err)

	capturedReq, parseErr := wireproto.UnmarshalWorkRequest(w.In.Bytes()[lengthPrefixSize(w.In.Bytes()):])
	require.NoError(t, parseErr)
	assert.Equal(t, []string{"@@literal"}, capturedReq.Arguments)
}

func lengthPrefixSize(b []byte) int {
	n := 0
	for _, c := range b {
		n++
		if c < 0x80 {
			break
		}
	}
	return n
}

func TestExec_WorkerCrashOnWrite_S5(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opts.txt"), []byte("--x\n"), 0o644))

	w := &workerpool.StubWorker{WriteErr: assertErr("broken pipe")}
	pool := workerpool.New(func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
		return w, nil
	}, 1)

	orc := &Orchestrator{Pool: pool, Resources: resource.NewManager(8, 4096), Fallback: &fakeFallback{}}

	spawn := domain.Spawn{
		Argv:          []string{"javac", "@opts.txt"},
		Mnemonic:      "Javac",
		ToolFiles:     []string{"javac-bin"},
		ExecutionInfo: map[string]string{"supports-workers": "1"},
	}
	policy, _, _ := basePolicy(t, dir)

	_, err := orc.Exec(context.Background(), spawn, policy)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindWriteFailed, derr.Kind)
	assert.True(t, w.Closed(), "worker must be invalidated after WRITE_FAILED")
}

func TestExec_EOFResponse_S6(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opts.txt"), []byte("--x\n"), 0o644))

	w := &workerpool.StubWorker{} // no bytes written -> EOF
	pool := workerpool.New(func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
		return w, nil
	}, 1)

	orc := &Orchestrator{Pool: pool, Resources: resource.NewManager(8, 4096), Fallback: &fakeFallback{}}

	spawn := domain.Spawn{
		Argv:          []string{"javac", "@opts.txt"},
		Mnemonic:      "Javac",
		ToolFiles:     []string{"javac-bin"},
		ExecutionInfo: map[string]string{"supports-workers": "1"},
	}
	policy, _, locked := basePolicy(t, dir)

	_, err := orc.Exec(context.Background(), spawn, policy)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindNoResponse, derr.Kind)
	assert.True(t, *locked, "lockOutputFiles must still be called on EOF")
	assert.True(t, w.Closed())
}

func TestExec_NoTools(t *testing.T) {
	orc := &Orchestrator{
		Pool:      workerpool.New(nil, 1),
		Resources: resource.NewManager(8, 4096),
		Fallback:  &fakeFallback{},
	}

	spawn := domain.Spawn{
		Argv:          []string{"javac", "@opts.txt"},
		Mnemonic:      "Javac",
		ExecutionInfo: map[string]string{"supports-workers": "1"},
	}
	policy, _, _ := basePolicy(t, t.TempDir())

	_, err := orc.Exec(context.Background(), spawn, policy)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindNoTools, derr.Kind)
}

type assertErrType string

func (e assertErrType) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrType(msg) }
