package privileged

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quantmind-br/pahkat/internal/helpers"
	"github.com/rs/zerolog"
)

// ErrInstallDeclined is returned when the user refuses to start the helper
var ErrInstallDeclined = errors.New("helper installation declined")

// DefaultInstallCommand starts the helper in the background with elevated
// rights. {self} expands to the running executable.
const DefaultInstallCommand = "sudo -b {self} helper serve"

// CommandInstaller starts the helper by running a configured command after
// asking the user for permission
type CommandInstaller struct {
	// Command is split on whitespace after {self} is expanded
	Command string
	Runner  helpers.CommandRunner
	// Confirm asks the user; nil skips the question
	Confirm func(label string) (bool, error)
	// Ready reports whether the helper answers; Install polls it until
	// ReadyTimeout
	Ready        func(ctx context.Context) error
	ReadyTimeout time.Duration
	Logger       *zerolog.Logger
}

// Install implements transaction.Installer
func (i *CommandInstaller) Install(ctx context.Context) error {
	if i.Confirm != nil {
		ok, err := i.Confirm("Administrator rights are required. Start the pahkat helper")
		if err != nil {
			return fmt.Errorf("confirm helper installation: %w", err)
		}
		if !ok {
			return ErrInstallDeclined
		}
	}

	args, err := i.args()
	if err != nil {
		return err
	}

	i.log().Info().Strs("command", args).Msg("starting privileged helper")
	if _, err := i.Runner.RunCommand(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("start helper: %w", err)
	}

	if i.Ready == nil {
		return nil
	}
	return i.waitReady(ctx)
}

func (i *CommandInstaller) args() ([]string, error) {
	command := i.Command
	if command == "" {
		command = DefaultInstallCommand
	}
	if strings.Contains(command, "{self}") {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		command = strings.ReplaceAll(command, "{self}", self)
	}

	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New("empty helper install command")
	}
	return args, nil
}

func (i *CommandInstaller) waitReady(ctx context.Context) error {
	timeout := i.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = i.Ready(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("helper did not come up: %w", lastErr)
		case <-ticker.C:
		}
	}
}

func (i *CommandInstaller) log() *zerolog.Logger {
	if i.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return i.Logger
}
