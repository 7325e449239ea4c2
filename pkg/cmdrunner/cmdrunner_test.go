package cmdrunner

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner() *ExecRunner {
	return NewExecRunner(zerolog.Nop())
}

func TestRunCapturesStdout(t *testing.T) {
	res, err := testRunner().Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRunStreamsStdoutToWriter(t *testing.T) {
	var out bytes.Buffer
	res, err := testRunner().Run(context.Background(), Command{
		Path:   "sh",
		Args:   []string{"-c", "printf dumpdata"},
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "dumpdata", out.String())
	assert.Empty(t, res.Stdout, "captured stdout should be empty when a writer is supplied")
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := testRunner().Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "boom")
	assert.Contains(t, err.Error(), "exited with code 3")
}

func TestRunMissingBinary(t *testing.T) {
	_, err := testRunner().Run(context.Background(), Command{Path: "definitely-not-a-real-tool-xyz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestRunPassesEnv(t *testing.T) {
	res, err := testRunner().Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "printf \"$BACKUP_SECRET\""},
		Env:  []string{"BACKUP_SECRET=s3cret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", res.Stdout)
}

func TestRunFeedsStdin(t *testing.T) {
	res, err := testRunner().Run(context.Background(), Command{
		Path:  "cat",
		Stdin: strings.NewReader("restore payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, "restore payload", res.Stdout)
}

func TestRunKilledOnTimeout(t *testing.T) {
	start := time.Now()
	res, err := testRunner().Run(context.Background(), Command{
		Path:    "sleep",
		Args:    []string{"30"},
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunKilledOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := testRunner().Run(ctx, Command{Path: "sleep", Args: []string{"30"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunFuncAdapter(t *testing.T) {
	var got Command
	fake := RunFunc(func(_ context.Context, cmd Command) (*Result, error) {
		got = cmd
		return &Result{ExitCode: 0, Stdout: "ok"}, nil
	})

	res, err := fake.Run(context.Background(), Command{Path: "pg_dump", Args: []string{"-F", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, "pg_dump", got.Path)
	assert.Equal(t, []string{"-F", "c"}, got.Args)
}
