package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOSCommandRunner(t *testing.T) {
	runner := NewOSCommandRunner()

	t.Run("CommandExists", func(t *testing.T) {
		assert.True(t, runner.CommandExists("echo"))
		assert.False(t, runner.CommandExists("nonexistentcommand123"))
	})

	t.Run("RequireCommand", func(t *testing.T) {
		assert.NoError(t, runner.RequireCommand("echo"))
		assert.Error(t, runner.RequireCommand("nonexistentcommand123"))
	})

	t.Run("RunCommand", func(t *testing.T) {
		output, err := runner.RunCommand(context.Background(), "echo", "test")
		assert.NoError(t, err)
		assert.Contains(t, output, "test")
	})

	t.Run("RunCommandWithOutput", func(t *testing.T) {
		stdout, stderr, err := runner.RunCommandWithOutput(context.Background(), "echo", "hello")
		assert.NoError(t, err)
		assert.Contains(t, stdout, "hello")
		assert.Empty(t, stderr)
	})

	t.Run("RunCommand timeout exceeded", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := runner.RunCommand(ctx, "sleep", "5")
		assert.Error(t, err)
	})

	t.Run("GetExitCode", func(t *testing.T) {
		_, err := runner.RunCommand(context.Background(), "false")
		assert.Error(t, err)
		assert.NotEqual(t, 0, runner.GetExitCode(err))
		assert.Equal(t, 0, runner.GetExitCode(nil))
		assert.Equal(t, -1, runner.GetExitCode(errors.New("not an exit error")))
	})
}

func TestCommandRunnerInterface(_ *testing.T) {
	var _ CommandRunner = &OSCommandRunner{}
	var _ CommandRunner = &MockCommandRunner{}
}

func TestMockCommandRunnerDefaults(t *testing.T) {
	mock := &MockCommandRunner{}

	assert.False(t, mock.CommandExists("go"))
	assert.NoError(t, mock.RequireCommand("go"))

	out, err := mock.RunCommand(context.Background(), "sudo", "true")
	assert.NoError(t, err)
	assert.Empty(t, out)

	assert.Equal(t, 0, mock.GetExitCode(nil))
	assert.Equal(t, 1, mock.GetExitCode(errors.New("failed")))
}
