package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// CommandExecutor runs a short-lived command and returns its stdout.
type CommandExecutor interface {
	Execute(name string, args ...string) ([]byte, error)
}

// OsCommandExecutor runs commands on the host.
type OsCommandExecutor struct{}

// Execute implements CommandExecutor.
func (OsCommandExecutor) Execute(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Launcher describes how the interpreter is started: directly on the host,
// or inside an apptainer image when ContainerImage is set.
type Launcher struct {
	Interpreter    string
	ContainerImage string
	Env            []string
}

func (l Launcher) argv(interpreterArgs ...string) (string, []string) {
	if l.ContainerImage == "" {
		return l.Interpreter, interpreterArgs
	}
	args := []string{"exec", "--userns", "--containall", "--writable-tmpfs", l.ContainerImage, l.Interpreter}
	return "apptainer", append(args, interpreterArgs...)
}

// Command builds the command running the protocol kernel.
func (l Launcher) Command() *exec.Cmd {
	name, args := l.argv("-u", "-c", kernelSource)
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	return cmd
}

// Start launches the kernel. It satisfies StartFunc.
func (l Launcher) Start(context.Context) (Environment, error) {
	p, err := Start(l.Command())
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Version asks the interpreter for its version string.
func (l Launcher) Version(executor CommandExecutor) (string, error) {
	name, args := l.argv("--version")
	out, err := executor.Execute(name, args...)
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", l.Interpreter, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Probe logs the interpreter version, or a warning when it cannot be run.
// It never fails; a missing interpreter surfaces later during bootstrap.
func (l Launcher) Probe(executor CommandExecutor) {
	version, err := l.Version(executor)
	if err != nil {
		slog.Warn("interpreter probe failed", "interpreter", l.Interpreter, "image", l.ContainerImage, "error", err)
		return
	}
	slog.Info("interpreter found", "interpreter", l.Interpreter, "image", l.ContainerImage, "version", version)
}
