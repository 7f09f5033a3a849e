package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cristianradulescu/mdfence-ls/internal/logging"
	"go.uber.org/zap"
)

// CommandResult holds everything a finished command produced.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Err      error
}

// CommandRunner runs a shell command, either locally or inside a running container.
type CommandRunner interface {
	Execute(ctx context.Context, containerName string, containerCmd string, stdin string) *CommandResult
}

// ShellRunner is the default CommandRunner. An empty container name runs the
// command on the host with "sh -c", otherwise "docker exec" is used.
type ShellRunner struct {
	logger *zap.Logger
}

func NewShellRunner(logger *zap.Logger) *ShellRunner {
	return &ShellRunner{logger: logging.OrNop(logger).Named(logging.NameContainer)}
}

func (r *ShellRunner) Execute(ctx context.Context, containerName string, containerCmd string, stdin string) *CommandResult {
	r.logger.Debug("running command",
		zap.String("container", containerName),
		zap.String("cmd", containerCmd),
		zap.Int("stdinBytes", len(stdin)),
	)

	return RunCommandInContainer(ctx, containerName, containerCmd, stdin)
}

// RunCommandInContainer runs containerCmd and never returns nil. The optional
// stdin is fed to the process when it is not empty.
func RunCommandInContainer(ctx context.Context, containerName string, containerCmd string, stdin ...string) *CommandResult {
	result := &CommandResult{
		Stdout: []byte{},
		Stderr: []byte{},
	}

	if strings.TrimSpace(containerCmd) == "" {
		result.ExitCode = -1
		result.Err = errors.New("empty command")
		return result
	}

	stdinInput := ""
	if len(stdin) > 0 {
		stdinInput = stdin[0]
	}

	var cmd *exec.Cmd
	switch {
	case containerName == "":
		cmd = exec.CommandContext(ctx, "sh", "-c", containerCmd)
	case stdinInput != "":
		cmd = exec.CommandContext(ctx, "docker", "exec", "-i", containerName, "sh", "-c", containerCmd)
	default:
		cmd = exec.CommandContext(ctx, "docker", "exec", containerName, "sh", "-c", containerCmd)
	}
	if stdinInput != "" {
		cmd.Stdin = strings.NewReader(stdinInput)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	if result.Stdout == nil {
		result.Stdout = []byte{}
	}
	if result.Stderr == nil {
		result.Stderr = []byte{}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		result.Err = fmt.Errorf("cmd returned error %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return result
}

// ValidateContainer checks that containerName is running. An empty name means
// "run on the host" and is always valid.
func ValidateContainer(ctx context.Context, containerName string) error {
	if containerName == "" {
		return nil
	}
	if strings.TrimSpace(containerName) == "" {
		return fmt.Errorf("invalid container name %q", containerName)
	}

	cmd := exec.CommandContext(ctx, "docker", "ps", "--filter", fmt.Sprintf("name=%s", containerName), "--format", "{{.Names}}")
	cmdOutput, err := cmd.Output()
	if err != nil {
		return err
	}

	if strings.TrimSpace(string(cmdOutput)) != containerName {
		return fmt.Errorf("container %s is not running; docker output: %s", containerName, cmdOutput)
	}

	return nil
}

// ValidateBinary checks that binaryPath resolves with "command -v", on the host
// or inside the container.
func ValidateBinary(ctx context.Context, runner CommandRunner, containerName string, binaryPath string) error {
	if strings.TrimSpace(binaryPath) == "" {
		return errors.New("empty binary path")
	}

	result := runner.Execute(ctx, containerName, fmt.Sprintf("command -v %s", binaryPath), "")
	if result.Err != nil || strings.TrimSpace(string(result.Stdout)) == "" {
		where := "host"
		if containerName != "" {
			where = "container " + containerName
		}
		return fmt.Errorf("binary %s not found on %s; output: %s", binaryPath, where, result.Stdout)
	}

	return nil
}
