package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// InProcess runs w on a goroutine behind an in-memory pipe.
func InProcess(w *Worker) Spawner {
	return func() (Conn, error) {
		client, server := Pipe()
		go func() {
			if err := w.Serve(context.Background(), server); err != nil {
				slog.Error("worker stopped", "error", err)
			}
			_ = server.Close()
		}()
		return client, nil
	}
}

// Subprocess runs the worker as a child process speaking envelopes on its
// stdin and stdout. The child's stderr is passed through.
func Subprocess(path string, args ...string) Spawner {
	return func() (Conn, error) {
		cmd := exec.Command(path, args...)
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start worker: %w", err)
		}

		slog.Info("worker process started", "pid", cmd.Process.Pid)
		return NewStreamConn(stdout, stdin, &processCloser{cmd: cmd, stdin: stdin}), nil
	}
}

type processCloser struct {
	cmd   *exec.Cmd
	stdin io.Closer
}

// Close ends the worker's input and waits for it to exit.
func (p *processCloser) Close() error {
	_ = p.stdin.Close()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("worker exited: %w", err)
	}
	return err
}
