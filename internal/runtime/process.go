package runtime

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

//go:embed kernel.py
var kernelSource string

// closeGrace bounds how long Close waits for the interpreter to exit after
// its stdin is closed before killing it.
const closeGrace = 5 * time.Second

type request struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Package string `json:"package,omitempty"`
	Name    string `json:"name,omitempty"`
	Value   any    `json:"value,omitempty"`
	Code    string `json:"code,omitempty"`
	Ref     int64  `json:"ref,omitempty"`
	Method  string `json:"method,omitempty"`
	Args    []any  `json:"args,omitempty"`
}

type response struct {
	Seq   int64           `json:"seq"`
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Ref   int64           `json:"ref,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (r response) value() Value {
	if r.Ref != 0 {
		return Value{Ref: &Ref{ID: r.Ref, Kind: r.Kind}}
	}
	return Value{Raw: r.Value}
}

// Process is an Environment backed by an interpreter subprocess speaking
// newline-delimited JSON on stdin/stdout. Requests are serialized; one
// request is in flight at a time.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder

	mu  sync.Mutex
	seq int64

	responses chan response
	closing   chan struct{}
	exited    chan struct{}
	exitErr   error
	closeOnce sync.Once
}

var _ Environment = (*Process)(nil)

// Start launches cmd and returns once the process is running. cmd must not
// have its stdio configured.
func Start(cmd *exec.Cmd) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:       cmd,
		stdin:     stdin,
		enc:       json.NewEncoder(stdin),
		responses: make(chan response, 16),
		closing:   make(chan struct{}),
		exited:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readResponses(stdout)
	}()
	go func() {
		defer readers.Done()
		forwardOutput(stderr)
	}()
	go func() {
		readers.Wait()
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	slog.Debug("runtime process started", "pid", cmd.Process.Pid)
	return p, nil
}

func (p *Process) readResponses(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			var resp response
			if jerr := json.Unmarshal(line, &resp); jerr != nil {
				slog.Warn("runtime wrote non-protocol output", "line", string(line))
			} else {
				select {
				case p.responses <- resp:
				case <-p.closing:
					// Keep draining so the process never blocks on a full pipe.
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func forwardOutput(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		slog.Debug("runtime output", "line", sc.Text())
	}
}

func (p *Process) exitError() error {
	if p.exitErr != nil {
		return fmt.Errorf("%w: %v", ErrExited, p.exitErr)
	}
	return ErrExited
}

func (p *Process) roundTrip(ctx context.Context, req request) (response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.exited:
		return response{}, p.exitError()
	default:
	}

	p.seq++
	req.Seq = p.seq
	if err := p.enc.Encode(req); err != nil {
		return response{}, fmt.Errorf("send %s request: %w", req.Op, err)
	}

	for {
		select {
		case resp := <-p.responses:
			if resp.Seq != req.Seq {
				// Left over from a request whose caller gave up.
				slog.Debug("discarding stale runtime response", "seq", resp.Seq, "want", req.Seq)
				continue
			}
			return checkResponse(req, resp)
		case <-ctx.Done():
			return response{}, ctx.Err()
		case <-p.exited:
			select {
			case resp := <-p.responses:
				if resp.Seq == req.Seq {
					return checkResponse(req, resp)
				}
			default:
			}
			return response{}, p.exitError()
		}
	}
}

func checkResponse(req request, resp response) (response, error) {
	if !resp.OK {
		return resp, &ScriptError{Op: req.Op, Trace: resp.Error}
	}
	return resp, nil
}

// Install implements Environment.
func (p *Process) Install(ctx context.Context, pkg string) error {
	_, err := p.roundTrip(ctx, request{Op: "install", Package: pkg})
	return err
}

// SetGlobal implements Environment.
func (p *Process) SetGlobal(ctx context.Context, name string, value any) error {
	_, err := p.roundTrip(ctx, request{Op: "set", Name: name, Value: value})
	return err
}

// Global implements Environment.
func (p *Process) Global(ctx context.Context, name string) (Value, error) {
	resp, err := p.roundTrip(ctx, request{Op: "get", Name: name})
	if err != nil {
		return Value{}, err
	}
	return resp.value(), nil
}

// Run implements Environment.
func (p *Process) Run(ctx context.Context, script string) error {
	_, err := p.roundTrip(ctx, request{Op: "exec", Code: script})
	return err
}

// Call implements Environment.
func (p *Process) Call(ctx context.Context, ref Ref, method string, args ...any) (Value, error) {
	resp, err := p.roundTrip(ctx, request{Op: "call", Ref: ref.ID, Method: method, Args: args})
	if err != nil {
		return Value{}, err
	}
	return resp.value(), nil
}

// Read implements Environment.
func (p *Process) Read(ctx context.Context, ref Ref) ([]byte, error) {
	resp, err := p.roundTrip(ctx, request{Op: "read", Ref: ref.ID})
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := json.Unmarshal(resp.Value, &encoded); err != nil {
		return nil, fmt.Errorf("decode buffer: %w", err)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Release implements Environment.
func (p *Process) Release(ctx context.Context, ref Ref) error {
	_, err := p.roundTrip(ctx, request{Op: "release", Ref: ref.ID})
	return err
}

// Close closes stdin and waits for the interpreter to exit, killing it if
// it does not within a grace period.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		_ = p.stdin.Close()

		select {
		case <-p.exited:
		case <-time.After(closeGrace):
			slog.Warn("runtime process did not exit, killing", "pid", p.cmd.Process.Pid)
			if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = fmt.Errorf("kill runtime process: %w", kerr)
			}
			<-p.exited
		}
	})
	return err
}

// Done is closed once the interpreter process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}
