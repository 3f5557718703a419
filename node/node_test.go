package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer writes a shell script that prints body and then blocks until it's signalled.
func fakeServer(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-server")
	script := "#!/bin/sh\n" + body + "\nexec sleep 60\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestNode(t *testing.T, exe string, ready *regexp.Regexp, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop().Sugar()), WithWorkDir(t.TempDir())}, opts...)
	n, err := New(6399, []string{exe}, ready, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return n
}

func TestNewValidates(t *testing.T) {
	_, err := New(6379, nil, ServerReadyPattern)
	assert.Error(t, err)
	_, err = New(6379, []string{"/bin/true"}, nil)
	assert.Error(t, err)
}

func TestStartAndStopAcrossVersions(t *testing.T) {
	cases := []struct {
		name  string
		out   string
		ready *regexp.Regexp
	}{
		{"redis 2.8", `echo "[4417] 12 Mar 10:15:01.312 * The server is now ready to accept connections on port 6399"`, ServerReadyPattern},
		{"redis 6.2", `echo "1:M 12 Mar 2024 10:15:01.312 * Ready to accept connections"`, ServerReadyPattern},
		{"valkey 8", `echo "7:M 02 Jan 2025 08:00:00.101 * Ready to accept connections tcp"`, ServerReadyPattern},
		{"sentinel 2.8", `echo "[4417] 12 Mar 10:15:01.312 # Sentinel runid is 4c0a7e0e"`, SentinelReadyPattern},
		{"sentinel 5.0", `echo "12345:X 04 Jun 2019 14:02:11.101 # Sentinel ID is 6fe8f4bd"`, SentinelReadyPattern},
		{"sentinel 7", `echo "1:X 12 Mar 2024 10:15:01.312 * Sentinel ID is 4c0a7e0e"`, SentinelReadyPattern},
		{"valkey 8 sentinel", `echo "7:X 02 Jan 2025 08:00:00.101 * Sentinel ID is 0bd5c1b7"`, SentinelReadyPattern},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			n := newTestNode(t, fakeServer(t, c.out), c.ready)

			assert.False(t, n.Active())
			require.NoError(t, n.Start(ctx))
			assert.True(t, n.Active())
			assert.Equal(t, Running, n.State())
			assert.NotZero(t, n.PID())

			require.NoError(t, n.Stop(ctx))
			assert.False(t, n.Active())
			assert.Equal(t, Stopped, n.State())
			assert.Zero(t, n.PID())
		})
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, fakeServer(t, `echo "Ready to accept connections"`), ServerReadyPattern)

	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Start(ctx))
	pid := n.PID()
	require.NoError(t, n.Start(ctx))
	assert.Equal(t, pid, n.PID())

	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Stop(ctx))
	assert.False(t, n.Active())
}

func TestRestart(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, fakeServer(t, `echo "Ready to accept connections"`), ServerReadyPattern)
	for i := 0; i < 2; i++ {
		require.NoError(t, n.Start(ctx))
		require.NoError(t, n.Stop(ctx))
	}
}

func TestStartFailsWhenProcessExits(t *testing.T) {
	exe := fakeServer(t, `echo "*** FATAL CONFIG FILE ERROR ***"
echo "Bad directive or wrong number of arguments" >&2
exit 1`)
	var errLines []string
	n := newTestNode(t, exe, ServerReadyPattern, WithStderr(func(l string) { errLines = append(errLines, l) }))

	err := n.Start(context.Background())

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 6399, timeoutErr.Port)
	assert.Contains(t, timeoutErr.Stdout, "FATAL CONFIG FILE ERROR")
	assert.Contains(t, timeoutErr.Stderr, "Bad directive")
	assert.NoError(t, timeoutErr.Err)
	assert.Equal(t, []string{"Bad directive or wrong number of arguments"}, errLines)
	assert.False(t, n.Active())
}

func TestSentinelStartFailsWithoutIDLine(t *testing.T) {
	exe := fakeServer(t, `echo "1:X 12 Mar 2024 10:15:01.312 # Redis version=7.2.4, bits=64, commit=00000000, modified=0, pid=1, just started"
echo "1:X 12 Mar 2024 10:15:01.312 # Sentinel config file /etc/sentinel.conf is not writable: Permission denied. Exiting..."
exit 1`)
	n := newTestNode(t, exe, SentinelReadyPattern)

	err := n.Start(context.Background())

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, timeoutErr.Stdout, "is not writable")
	assert.Contains(t, timeoutErr.Error(), "No output was found in standard-err.")
	assert.False(t, n.Active())
}

func TestStartDrainsStderrBeforeReady(t *testing.T) {
	// well beyond a pipe buffer
	exe := fakeServer(t, `i=0
while [ $i -lt 4000 ]; do
  echo "warning line $i padded to make the output larger than any pipe buffer" >&2
  i=$((i+1))
done
echo "Ready to accept connections"`)
	n := newTestNode(t, exe, ServerReadyPattern)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, n.Start(ctx))
	assert.True(t, n.Active())
}

func TestStartFailureCapsCapturedStderr(t *testing.T) {
	exe := fakeServer(t, `i=0
while [ $i -lt 4000 ]; do
  echo "error line $i padded to make the output larger than the capture limit" >&2
  i=$((i+1))
done
exit 1`)
	n := newTestNode(t, exe, ServerReadyPattern)

	err := n.Start(context.Background())

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, timeoutErr.Stderr, "error line 0 ")
	assert.True(t, strings.HasSuffix(timeoutErr.Stderr, "[truncated]"))
	assert.LessOrEqual(t, len(timeoutErr.Stderr), maxCapturedStderr+len("\n[truncated]"))
}

func TestOutputAfterReadyIsForwardedUntilExit(t *testing.T) {
	const lines = 5000
	exe := fakeServer(t, `echo "Ready to accept connections"
sleep 0.2
i=0
while [ $i -lt 5000 ]; do
  echo "line $i"
  i=$((i+1))
done
exit 0`)
	for run := 0; run < 3; run++ {
		var mut sync.Mutex
		count := 0
		n := newTestNode(t, exe, ServerReadyPattern, WithStdout(func(string) {
			mut.Lock()
			defer mut.Unlock()
			count++
		}))
		require.NoError(t, n.Start(context.Background()))

		select {
		case <-n.exited:
		case <-time.After(10 * time.Second):
			t.Fatal("process never exited")
		}
		mut.Lock()
		// the ready line plus everything printed afterwards
		assert.Equal(t, lines+1, count, "run %d", run)
		mut.Unlock()
	}
}

func TestConfigFileRemovedOnStopAndRewrittenOnStart(t *testing.T) {
	ctx := context.Background()
	cfg := filepath.Join(t.TempDir(), "server.conf")
	require.NoError(t, os.WriteFile(cfg, []byte("port 6399\n"), 0o644))
	exe := fakeServer(t, `cat "$1" > seen.conf
echo "Ready to accept connections"`)
	n, err := New(6399, []string{exe, cfg}, ServerReadyPattern,
		WithLogger(zap.NewNop().Sugar()), WithWorkDir(t.TempDir()), WithConfigFile(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop(ctx) })

	for i := 0; i < 2; i++ {
		require.NoError(t, n.Start(ctx))
		seen, err := os.ReadFile(filepath.Join(n.WorkDir(), "seen.conf"))
		require.NoError(t, err)
		assert.Equal(t, "port 6399\n", string(seen))

		require.NoError(t, n.Stop(ctx))
		assert.NoFileExists(t, cfg)
	}
}

func TestConfigFileRemovedOnFailedStart(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "server.conf")
	require.NoError(t, os.WriteFile(cfg, []byte("port 6399\n"), 0o644))
	n := newTestNode(t, fakeServer(t, "exit 1"), ServerReadyPattern, WithConfigFile(cfg))

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, n.Start(context.Background()), &timeoutErr)
	assert.NoFileExists(t, cfg)
}

func TestStartHonorsContext(t *testing.T) {
	n := newTestNode(t, fakeServer(t, `echo "loading"`), ServerReadyPattern)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := n.Start(ctx)

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, timeoutErr.Stdout, "loading")
	assert.False(t, n.Active())
	assert.Zero(t, n.PID())
}

func TestStartMissingExecutable(t *testing.T) {
	n := newTestNode(t, filepath.Join(t.TempDir(), "nope"), ServerReadyPattern)
	err := n.Start(context.Background())
	var notFound *ExecutableNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, Stopped, n.State())
}

func TestStartDirectoryIsNotAnExecutable(t *testing.T) {
	n := newTestNode(t, t.TempDir(), ServerReadyPattern)
	var notFound *ExecutableNotFoundError
	require.ErrorAs(t, n.Start(context.Background()), &notFound)
}

func TestStartNonExecutableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
	n := newTestNode(t, path, ServerReadyPattern)
	var permErr *PermissionError
	require.ErrorAs(t, n.Start(context.Background()), &permErr)
	assert.Equal(t, path, permErr.Path)
}

func TestStopRemovesArtifacts(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	exe := fakeServer(t, `touch dump.rdb nodes-main-6399.conf keep.txt
echo "Ready to accept connections"`)
	n := newTestNode(t, exe, ServerReadyPattern,
		WithWorkDir(workDir), WithArtifacts("dump.rdb", "nodes-main-6399.conf", "never-created.conf"))

	require.NoError(t, n.Start(ctx))
	assert.FileExists(t, filepath.Join(workDir, "dump.rdb"))
	require.NoError(t, n.Stop(ctx))

	assert.NoFileExists(t, filepath.Join(workDir, "dump.rdb"))
	assert.NoFileExists(t, filepath.Join(workDir, "nodes-main-6399.conf"))
	assert.FileExists(t, filepath.Join(workDir, "keep.txt"))
}

func TestForceStop(t *testing.T) {
	ctx := context.Background()
	exe := fakeServer(t, `trap '' TERM
echo "Ready to accept connections"`)
	n := newTestNode(t, exe, ServerReadyPattern, WithForceStop(true))
	require.NoError(t, n.Start(ctx))
	require.NoError(t, n.Stop(ctx))
	assert.False(t, n.Active())
}

func TestStopKillsAfterContextDone(t *testing.T) {
	exe := fakeServer(t, `trap '' TERM
echo "Ready to accept connections"`)
	n := newTestNode(t, exe, ServerReadyPattern)
	require.NoError(t, n.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := n.Stop(ctx)

	var stopErr *StopError
	require.ErrorAs(t, err, &stopErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Stopped, n.State())
}

func TestOutputHandlers(t *testing.T) {
	ctx := context.Background()
	exe := fakeServer(t, `echo "booting"
echo "Ready to accept connections"
echo "warning: overcommit_memory is set to 0" >&2`)

	var mut sync.Mutex
	var out, errOut []string
	gotErr := make(chan struct{})
	n := newTestNode(t, exe, ServerReadyPattern,
		WithStdout(func(l string) {
			mut.Lock()
			defer mut.Unlock()
			out = append(out, l)
		}),
		WithStderr(func(l string) {
			mut.Lock()
			defer mut.Unlock()
			errOut = append(errOut, l)
			close(gotErr)
		}),
	)
	require.NoError(t, n.Start(ctx))

	select {
	case <-gotErr:
	case <-time.After(5 * time.Second):
		t.Fatal("stderr line never forwarded")
	}
	mut.Lock()
	defer mut.Unlock()
	assert.Equal(t, []string{"booting", "Ready to accept connections"}, out)
	assert.Equal(t, []string{"warning: overcommit_memory is set to 0"}, errOut)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(9)", State(9).String())
}
